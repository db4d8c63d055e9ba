package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// Finding is one invariant observed broken. Findings are reported, never
// repaired.
type Finding struct {
	Code    string   `json:"code" yaml:"code"`
	Subject string   `json:"subject" yaml:"subject"`
	Message string   `json:"message" yaml:"message"`
	Path    []string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Finding codes outside the error code set.
const (
	FindingLineGap      = "LINE_NUMBER_GAP"
	FindingReversalLink = "REVERSAL_LINK_MISSING"
)

// IntegrityReport is the result of CheckIntegrity.
type IntegrityReport struct {
	OrganizationID string    `json:"organization_id" yaml:"organization_id"`
	Findings       []Finding `json:"findings" yaml:"findings"`
}

// Clean reports whether no invariant is broken.
func (r IntegrityReport) Clean() bool {
	return len(r.Findings) == 0
}

// CheckIntegrity scans the caller's organization for states the write
// path is supposed to make impossible: hierarchy cycles, multiple active
// parents or statuses, line-number gaps, unbalanced ledger transactions
// past DRAFT and broken reversal links.
func (e *Engine) CheckIntegrity(ctx context.Context, c Caller) (IntegrityReport, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return IntegrityReport{}, err
	}
	own := sc.filter(false)

	rels, err := e.store.QueryRelationships(ctx, queryir.Select{Filter: queryir.AndOf(own, activeOnly)})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("check integrity: %w", err)
	}
	headers, err := e.store.QueryHeaders(ctx, queryir.Select{Filter: own})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("check integrity: %w", err)
	}
	lines, err := e.store.QueryLines(ctx, queryir.Select{Filter: own})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("check integrity: %w", err)
	}

	findings := append(checkRelationships(rels), checkLedger(headers, lines, e.precision)...)
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Code != findings[j].Code {
			return findings[i].Code < findings[j].Code
		}
		return findings[i].Subject < findings[j].Subject
	})
	if findings == nil {
		findings = []Finding{}
	}

	report := IntegrityReport{OrganizationID: c.OrganizationID, Findings: findings}
	if !report.Clean() {
		e.logger.Warn("integrity findings",
			"organization_id", c.OrganizationID,
			"findings", len(findings),
		)
	}
	return report, nil
}

// checkRelationships inspects active edges.
func checkRelationships(rels []ir.Relationship) []Finding {
	var findings []Finding

	g := graph{}
	parents := make(map[string][]string)
	statuses := make(map[string][]string)
	for _, r := range rels {
		switch r.RelationshipType {
		case ir.RelParentOf:
			g[r.FromEntityID] = append(g[r.FromEntityID], r.ToEntityID)
			parents[r.ToEntityID] = append(parents[r.ToEntityID], r.FromEntityID)
		case ir.RelHasStatus:
			key := r.FromEntityID + "/" + r.StatusDimension()
			statuses[key] = append(statuses[key], r.ToEntityID)
		}
	}

	for _, path := range g.cycles() {
		findings = append(findings, Finding{
			Code:    CodeHierarchyCycle,
			Subject: path[0],
			Message: "parent_of cycle: " + strings.Join(path, " -> "),
			Path:    path,
		})
	}
	for child, ps := range parents {
		if len(ps) > 1 {
			sort.Strings(ps)
			findings = append(findings, Finding{
				Code:    CodeMultipleParents,
				Subject: child,
				Message: fmt.Sprintf("entity has %d active parents", len(ps)),
				Path:    ps,
			})
		}
	}
	for key, ss := range statuses {
		if len(ss) > 1 {
			sort.Strings(ss)
			findings = append(findings, Finding{
				Code:    CodeMultipleStatus,
				Subject: key,
				Message: fmt.Sprintf("entity has %d active statuses in one dimension", len(ss)),
				Path:    ss,
			})
		}
	}
	return findings
}

// checkLedger inspects headers and their lines.
func checkLedger(headers []ir.TransactionHeader, lines []ir.TransactionLine, precision int32) []Finding {
	var findings []Finding

	byTx := make(map[string][]ir.TransactionLine)
	for _, l := range lines {
		byTx[l.TransactionID] = append(byTx[l.TransactionID], l)
	}
	byID := make(map[string]ir.TransactionHeader, len(headers))
	for _, h := range headers {
		byID[h.ID] = h
	}

	for _, h := range headers {
		txLines := byTx[h.ID]
		sort.Slice(txLines, func(i, j int) bool { return txLines[i].LineNumber < txLines[j].LineNumber })
		for i, l := range txLines {
			if l.LineNumber != i+1 {
				findings = append(findings, Finding{
					Code:    FindingLineGap,
					Subject: h.ID,
					Message: fmt.Sprintf("line numbers are not dense: position %d holds line %d", i+1, l.LineNumber),
				})
				break
			}
		}

		if h.Status != ir.TxDraft && checkBalance(txLines, precision) != nil {
			dr, cr := ir.SideTotals(txLines)
			findings = append(findings, Finding{
				Code:    CodeUnbalancedPosting,
				Subject: h.ID,
				Message: fmt.Sprintf("%s transaction debits %s credits %s", h.Status, dr.StringFixed(precision), cr.StringFixed(precision)),
			})
		}

		if h.Status == ir.TxReversed {
			revID, _ := h.Metadata[ir.MetaReversedBy].(ir.String)
			rev, ok := byID[string(revID)]
			back, _ := rev.Metadata[ir.MetaReversalOf].(ir.String)
			if !ok || string(back) != h.ID {
				findings = append(findings, Finding{
					Code:    FindingReversalLink,
					Subject: h.ID,
					Message: "REVERSED transaction has no reversal pointing back at it",
				})
			}
		}
	}
	return findings
}
