// Package compiler turns CUE-authored policy bundles into validated
// ir.PolicyBundle values.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/ir"
)

// CompileBundle parses one bundle body into its versions.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// A body is either a single version:
//
//	bundle: "retail-core": {
//		version:  2
//		priority: 100
//		match: transaction_types: ["SALE"]
//		...
//	}
//
// or lists several under versions:
//
//	bundle: "retail-core": versions: [{version: 1, ...}, {version: 2, ...}]
//
// Rates are decimal strings; CUE floats are rejected so that no binary
// float ever reaches an amount.
func CompileBundle(id string, v cue.Value) ([]ir.PolicyBundle, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	versionsVal := v.LookupPath(cue.ParsePath("versions"))
	if !versionsVal.Exists() {
		b, err := compileVersion(id, v)
		if err != nil {
			return nil, err
		}
		return []ir.PolicyBundle{b}, nil
	}

	iter, err := versionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.PolicyBundle
	for iter.Next() {
		b, err := compileVersion(id, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "versions", Message: "at least one version is required", Pos: versionsVal.Pos()}
	}
	return out, nil
}

func compileVersion(id string, v cue.Value) (ir.PolicyBundle, error) {
	b := ir.PolicyBundle{ID: id, Status: ir.BundleActive}

	version, err := lookupInt(v, "version", true)
	if err != nil {
		return b, err
	}
	b.Version = version

	if b.Priority, err = lookupInt(v, "priority", false); err != nil {
		return b, err
	}
	if s, err := lookupString(v, "status", false); err != nil {
		return b, err
	} else if s != "" {
		b.Status = s
	}
	if b.Description, err = lookupString(v, "description", false); err != nil {
		return b, err
	}
	if b.SuspenseAccount, err = lookupString(v, "suspense_account", false); err != nil {
		return b, err
	}

	if b.Match.TransactionTypes, err = lookupStrings(v, "match.transaction_types"); err != nil {
		return b, err
	}
	if b.Match.Industries, err = lookupStrings(v, "match.industries"); err != nil {
		return b, err
	}
	if b.Match.Organizations, err = lookupStrings(v, "match.organizations"); err != nil {
		return b, err
	}
	if b.RequiredFields, err = lookupStrings(v, "required_fields"); err != nil {
		return b, err
	}

	if b.Validations, err = parseValidations(v); err != nil {
		return b, err
	}
	if b.TaxRules, err = parseTaxRules(v); err != nil {
		return b, err
	}
	if b.PostingRules, err = parsePostingRules(v); err != nil {
		return b, err
	}
	return b, nil
}

func parseValidations(v cue.Value) ([]ir.ValidationRule, error) {
	var rules []ir.ValidationRule
	err := eachListItem(v, "validations", func(item cue.Value) error {
		var r ir.ValidationRule
		var err error
		if r.ID, err = lookupString(item, "id", true); err != nil {
			return err
		}
		if r.Expr, err = lookupString(item, "expr", true); err != nil {
			return err
		}
		if r.Message, err = lookupString(item, "message", false); err != nil {
			return err
		}
		rules = append(rules, r)
		return nil
	})
	return rules, err
}

func parseTaxRules(v cue.Value) ([]ir.TaxRule, error) {
	var rules []ir.TaxRule
	err := eachListItem(v, "tax_rules", func(item cue.Value) error {
		var r ir.TaxRule
		var err error
		if r.Code, err = lookupString(item, "code", true); err != nil {
			return err
		}
		if r.Basis, err = lookupString(item, "basis", true); err != nil {
			return err
		}
		if r.Inclusive, err = lookupBool(item, "inclusive"); err != nil {
			return err
		}
		if r.Rate, err = lookupDecimal(item, "rate"); err != nil {
			return err
		}
		rules = append(rules, r)
		return nil
	})
	return rules, err
}

func parsePostingRules(v cue.Value) ([]ir.PostingRule, error) {
	var rules []ir.PostingRule
	err := eachListItem(v, "posting_rules", func(item cue.Value) error {
		var r ir.PostingRule
		var err error
		if r.ID, err = lookupString(item, "id", true); err != nil {
			return err
		}
		if r.When, err = lookupString(item, "when", false); err != nil {
			return err
		}
		err = eachListItem(item, "lines", func(line cue.Value) error {
			var spec ir.PostingLineSpec
			var err error
			if spec.Account, err = lookupString(line, "account", true); err != nil {
				return err
			}
			side, err := lookupString(line, "side", true)
			if err != nil {
				return err
			}
			spec.Side = ir.Side(side)
			if spec.Amount, err = lookupString(line, "amount", true); err != nil {
				return err
			}
			if spec.LineType, err = lookupString(line, "line_type", false); err != nil {
				return err
			}
			if spec.TaxonomyCode, err = lookupString(line, "taxonomy_code", true); err != nil {
				return err
			}
			r.Lines = append(r.Lines, spec)
			return nil
		})
		if err != nil {
			return err
		}
		rules = append(rules, r)
		return nil
	})
	return rules, err
}

func eachListItem(v cue.Value, path string, fn func(cue.Value) error) error {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil
	}
	iter, err := lv.List()
	if err != nil {
		return &CompileError{Field: path, Message: "must be a list", Pos: lv.Pos()}
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func lookupString(v cue.Value, path string, required bool) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		if required {
			return "", &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
		}
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: path, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

func lookupStrings(v cue.Value, path string) ([]string, error) {
	var out []string
	err := eachListItem(v, path, func(item cue.Value) error {
		s, err := item.String()
		if err != nil {
			return &CompileError{Field: path, Message: "must be a list of strings", Pos: item.Pos()}
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func lookupInt(v cue.Value, path string, required bool) (int, error) {
	iv := v.LookupPath(cue.ParsePath(path))
	if !iv.Exists() {
		if required {
			return 0, &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
		}
		return 0, nil
	}
	n, err := iv.Int64()
	if err != nil {
		return 0, &CompileError{Field: path, Message: "must be an integer", Pos: iv.Pos()}
	}
	return int(n), nil
}

func lookupBool(v cue.Value, path string) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(path))
	if !bv.Exists() {
		return false, nil
	}
	b, err := bv.Bool()
	if err != nil {
		return false, &CompileError{Field: path, Message: "must be a boolean", Pos: bv.Pos()}
	}
	return b, nil
}

func lookupDecimal(v cue.Value, path string) (decimal.Decimal, error) {
	dv := v.LookupPath(cue.ParsePath(path))
	if !dv.Exists() {
		return decimal.Zero, &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	switch dv.IncompleteKind() {
	case cue.StringKind:
		s, err := dv.String()
		if err != nil {
			return decimal.Zero, formatCUEError(err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, &CompileError{Field: path, Message: fmt.Sprintf("%q is not a decimal", s), Pos: dv.Pos()}
		}
		return d, nil
	case cue.IntKind:
		n, err := dv.Int64()
		if err != nil {
			return decimal.Zero, formatCUEError(err)
		}
		return decimal.NewFromInt(n), nil
	default:
		return decimal.Zero, &CompileError{
			Field:   path,
			Message: "float rates are forbidden, write the rate as a decimal string like \"0.15\"",
			Pos:     dv.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
