package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/taxonomy"
)

// Validation error codes (E200-E299)
const (
	ErrBundleID         = "E201" // bundle id missing or malformed
	ErrBundleVersion    = "E202" // version must be >= 1
	ErrBundleStatus     = "E203" // status must be active or inactive
	ErrExpression       = "E204" // expression does not compile
	ErrTaxonomyCode     = "E205" // posting line taxonomy code invalid
	ErrPostingSide      = "E206" // side must be DR or CR
	ErrDuplicateRuleID  = "E207" // duplicate validation or posting rule id
	ErrDuplicateTaxCode = "E208" // duplicate tax rule code
	ErrTaxRate          = "E209" // negative tax rate
	ErrPostingNoLines   = "E210" // posting rule has no lines
	ErrPostingAccount   = "E211" // posting line names no account
	ErrRuleID           = "E212" // rule id or tax code empty
	ErrMatchEntry       = "E213" // empty match entry
	ErrRequiredField    = "E214" // required field path malformed
	ErrDuplicateVersion = "E215" // same bundle version defined twice
)

var (
	bundleIDPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// ValidationError represents a bundle validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled bundle. Returns all errors found (does not
// fail fast). Every expression is compiled so that a bundle which passes
// never fails to parse at posting time.
func Validate(b ir.PolicyBundle) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}
	expr := func(field, src string) {
		if _, err := policy.Compile(src); err != nil {
			add(field, ErrExpression, "%v", err)
		}
	}

	if !bundleIDPattern.MatchString(b.ID) {
		add("bundle_id", ErrBundleID, "bundle id %q must be lowercase letters, digits, '-' or '_'", b.ID)
	}
	if b.Version < 1 {
		add("version", ErrBundleVersion, "version must be >= 1, got %d", b.Version)
	}
	if b.Status != ir.BundleActive && b.Status != ir.BundleInactive {
		add("status", ErrBundleStatus, "status %q must be %q or %q", b.Status, ir.BundleActive, ir.BundleInactive)
	}

	matchLists := []struct {
		name    string
		entries []string
	}{
		{"match.transaction_types", b.Match.TransactionTypes},
		{"match.industries", b.Match.Industries},
		{"match.organizations", b.Match.Organizations},
	}
	for _, ml := range matchLists {
		for i, entry := range ml.entries {
			if strings.TrimSpace(entry) == "" {
				add(fmt.Sprintf("%s[%d]", ml.name, i), ErrMatchEntry, "match entries must be non-empty")
			}
		}
	}

	for i, f := range b.RequiredFields {
		if !fieldPathPattern.MatchString(f) {
			add(fmt.Sprintf("required_fields[%d]", i), ErrRequiredField, "%q is not a field path", f)
		}
	}

	ruleIDs := make(map[string]bool)
	for i, v := range b.Validations {
		field := fmt.Sprintf("validations[%d]", i)
		if v.ID == "" {
			add(field+".id", ErrRuleID, "validation id is required")
		} else if ruleIDs[v.ID] {
			add(field+".id", ErrDuplicateRuleID, "duplicate rule id %q", v.ID)
		}
		ruleIDs[v.ID] = true
		expr(field+".expr", v.Expr)
	}

	taxCodes := make(map[string]bool)
	for i, t := range b.TaxRules {
		field := fmt.Sprintf("tax_rules[%d]", i)
		if t.Code == "" {
			add(field+".code", ErrRuleID, "tax code is required")
		} else if taxCodes[t.Code] {
			add(field+".code", ErrDuplicateTaxCode, "duplicate tax code %q", t.Code)
		}
		taxCodes[t.Code] = true
		if t.Rate.IsNegative() {
			add(field+".rate", ErrTaxRate, "rate %s must not be negative", t.Rate)
		}
		expr(field+".basis", t.Basis)
	}

	for i, p := range b.PostingRules {
		field := fmt.Sprintf("posting_rules[%d]", i)
		if p.ID == "" {
			add(field+".id", ErrRuleID, "posting rule id is required")
		} else if ruleIDs[p.ID] {
			add(field+".id", ErrDuplicateRuleID, "duplicate rule id %q", p.ID)
		}
		ruleIDs[p.ID] = true
		if p.When != "" {
			expr(field+".when", p.When)
		}
		if len(p.Lines) == 0 {
			add(field+".lines", ErrPostingNoLines, "posting rule %q has no lines", p.ID)
		}
		for j, l := range p.Lines {
			lf := fmt.Sprintf("%s.lines[%d]", field, j)
			if strings.TrimSpace(l.Account) == "" {
				add(lf+".account", ErrPostingAccount, "account is required")
			}
			if l.Side != ir.Debit && l.Side != ir.Credit {
				add(lf+".side", ErrPostingSide, "side %q must be DR or CR", l.Side)
			}
			if _, err := taxonomy.Validate(l.TaxonomyCode); err != nil {
				add(lf+".taxonomy_code", ErrTaxonomyCode, "%v", err)
			}
			expr(lf+".amount", l.Amount)
		}
	}

	return errs
}

// ValidateSet validates every bundle and rejects duplicate (id, version)
// pairs across the set.
func ValidateSet(bundles []ir.PolicyBundle) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, b := range bundles {
		for _, e := range Validate(b) {
			e.Field = fmt.Sprintf("bundle.%s@%d.%s", b.ID, b.Version, e.Field)
			errs = append(errs, e)
		}
		key := fmt.Sprintf("%s@%d", b.ID, b.Version)
		if seen[key] {
			errs = append(errs, ValidationError{
				Field:   "bundle." + key,
				Code:    ErrDuplicateVersion,
				Message: fmt.Sprintf("bundle %s version %d is defined more than once", b.ID, b.Version),
			})
		}
		seen[key] = true
	}
	return errs
}
