package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hera/internal/engine"
)

// Scenario is one conformance run: a world to build, steps to drive and
// assertions over the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Bundles lists CUE policy files to compile and register.
	// Relative paths resolve against the scenario file's directory.
	Bundles []string `yaml:"bundles,omitempty"`

	// PlatformOrg is the organization whose records every tenant can read.
	// Defaults to DefaultPlatformOrg.
	PlatformOrg string `yaml:"platform_org,omitempty"`

	Organizations []engine.OrganizationInput `yaml:"organizations"`

	// Members maps actor ids to the organizations they belong to.
	Members map[string][]string `yaml:"members"`

	// Caller is the default caller for steps and assertions.
	Caller engine.Caller `yaml:"caller"`

	// Setup steps must succeed; a failure aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are checked against their expect clause.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine call.
type Step struct {
	Name string `yaml:"name,omitempty"`

	// Op selects the dispatcher: entity, relationship, transaction,
	// integrity or trial_balance.
	Op string `yaml:"op"`

	// As overrides the scenario caller for this step.
	As *engine.Caller `yaml:"as,omitempty"`

	// Request is the envelope body, decoded strictly into the engine's
	// request type after "$ref" substitution.
	Request map[string]any `yaml:"request,omitempty"`

	// Save stores the response id under this name for later "$name"
	// references.
	Save string `yaml:"save,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause is the expected outcome of a flow step.
type ExpectClause struct {
	// Case is CaseSuccess or CaseError.
	Case string `yaml:"case"`

	// Kind and Code, when set, must match the returned error.
	Kind string `yaml:"kind,omitempty"`
	Code string `yaml:"code,omitempty"`

	// Summary, when set, must equal the step's trace summary.
	Summary string `yaml:"summary,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	Type string `yaml:"type"`

	As *engine.Caller `yaml:"as,omitempty"`

	// Ref names a saved entity (current_status) or transaction
	// (transaction_status).
	Ref string `yaml:"ref,omitempty"`

	// EntityType is used by entity_count.
	EntityType string `yaml:"entity_type,omitempty"`

	// Status is the saved status entity name for current_status and the
	// lifecycle status for transaction_status.
	Status    string `yaml:"status,omitempty"`
	Dimension string `yaml:"dimension,omitempty"`

	Balanced *bool `yaml:"balanced,omitempty"`

	// Balances maps entity code to expected Debit minus Credit.
	Balances map[string]string `yaml:"balances,omitempty"`

	// Op, Action and Case filter the trace for trace_count.
	Op     string `yaml:"op,omitempty"`
	Action string `yaml:"action,omitempty"`
	Case   string `yaml:"case,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// Step ops.
const (
	OpEntity       = "entity"
	OpRelationship = "relationship"
	OpTransaction  = "transaction"
	OpIntegrity    = "integrity"
	OpTrialBalance = "trial_balance"
)

// Step outcome cases.
const (
	CaseSuccess = "Success"
	CaseError   = "Error"
)

// Assertion type constants.
const (
	AssertEntityCount       = "entity_count"
	AssertCurrentStatus     = "current_status"
	AssertTransactionStatus = "transaction_status"
	AssertTrialBalance      = "trial_balance"
	AssertIntegrityClean    = "integrity_clean"
	AssertTraceCount        = "trace_count"
)

// DefaultPlatformOrg is used when a scenario names no platform_org.
const DefaultPlatformOrg = "org-platform"

var validOps = map[string]bool{
	OpEntity:       true,
	OpRelationship: true,
	OpTransaction:  true,
	OpIntegrity:    true,
	OpTrialBalance: true,
}

// LoadScenario reads and parses a scenario YAML file. Bundle paths are
// resolved against the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes a scenario document. basePath anchors relative
// bundle paths; empty leaves them as written.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Bundles {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Bundles[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Organizations) == 0 {
		return fmt.Errorf("organizations list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.Bundles {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("bundle file not found: %s", p)
		}
	}

	for i, org := range s.Organizations {
		if org.ID == "" {
			return fmt.Errorf("organizations[%d]: id is required", i)
		}
	}

	saved := map[string]bool{}
	check := func(section string, steps []Step, expectAllowed bool) error {
		for i, step := range steps {
			if !validOps[step.Op] {
				return fmt.Errorf("%s[%d]: unknown op %q", section, i, step.Op)
			}
			if step.Save != "" {
				if saved[step.Save] {
					return fmt.Errorf("%s[%d]: %q is saved twice", section, i, step.Save)
				}
				saved[step.Save] = true
			}
			if step.Expect == nil {
				continue
			}
			if !expectAllowed {
				return fmt.Errorf("%s[%d]: expect is only allowed in flow", section, i)
			}
			if step.Expect.Case != CaseSuccess && step.Expect.Case != CaseError {
				return fmt.Errorf("%s[%d].expect: case must be %s or %s", section, i, CaseSuccess, CaseError)
			}
		}
		return nil
	}
	if err := check("setup", s.Setup, false); err != nil {
		return err
	}
	if err := check("flow", s.Flow, true); err != nil {
		return err
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntityCount:
		if a.EntityType == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: entity_type and count are required for entity_count", index)
		}
	case AssertCurrentStatus:
		if a.Ref == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: ref and status are required for current_status", index)
		}
	case AssertTransactionStatus:
		if a.Ref == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: ref and status are required for transaction_status", index)
		}
	case AssertTrialBalance:
		if a.Balanced == nil && len(a.Balances) == 0 {
			return fmt.Errorf("assertions[%d]: balanced or balances is required for trial_balance", index)
		}
	case AssertIntegrityClean:
	case AssertTraceCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
