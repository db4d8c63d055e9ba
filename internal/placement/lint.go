package placement

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Proposal is one attribute submitted for offline review.
type Proposal struct {
	// Name is the proposed attribute name.
	Name string `yaml:"name"`

	// Metadata, when present, requests metadata placement.
	Metadata map[string]any `yaml:"metadata,omitempty"`

	// Target is the placement the author intends ("dynamic_field" or
	// "metadata"). Empty means "whatever the policy decides".
	Target Placement `yaml:"target,omitempty"`
}

// Finding is a proposal whose decision disagrees with the author's intent
// or rejects it outright.
type Finding struct {
	Proposal Proposal `json:"proposal" yaml:"proposal"`
	Decision Decision `json:"decision" yaml:"decision"`
}

// Report summarizes a lint run.
type Report struct {
	Decisions []Decision `json:"decisions" yaml:"decisions"`
	Findings  []Finding  `json:"findings" yaml:"findings"`
}

// Clean reports whether no proposal produced a finding.
func (r Report) Clean() bool {
	return len(r.Findings) == 0
}

// Lint reviews proposals against the policy without touching storage.
func (p *Policy) Lint(proposals []Proposal) Report {
	report := Report{
		Decisions: make([]Decision, 0, len(proposals)),
		Findings:  []Finding{},
	}
	for _, prop := range proposals {
		d := p.Propose(prop.Name, prop.Metadata)
		report.Decisions = append(report.Decisions, d)

		mismatch := prop.Target != "" && prop.Target != d.Placement
		if !d.Allowed() || mismatch {
			report.Findings = append(report.Findings, Finding{Proposal: prop, Decision: d})
		}
	}
	return report
}

// Lint reviews proposals against the default policy.
func Lint(proposals []Proposal) Report {
	return defaultPolicy.Lint(proposals)
}

// proposalFile is the YAML layout accepted by LoadProposals.
type proposalFile struct {
	Fields []Proposal `yaml:"fields"`
}

// LoadProposals reads a YAML file of the form:
//
//	fields:
//	  - name: unit_price
//	  - name: model_trace
//	    metadata: { category: system_ai }
func LoadProposals(path string) ([]Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}
	return ParseProposals(data)
}

// ParseProposals decodes the YAML layout documented on LoadProposals.
func ParseProposals(data []byte) ([]Proposal, error) {
	var f proposalFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	for i, p := range f.Fields {
		if p.Name == "" {
			return nil, fmt.Errorf("parse proposals: fields[%d]: name is required", i)
		}
	}
	return f.Fields, nil
}
