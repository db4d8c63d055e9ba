package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/taxonomy"
)

// Rule failure codes.
const (
	CodeRequiredField    = "REQUIRED_FIELD"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeExpression       = "EXPRESSION_ERROR"
	CodeUnknownAccount   = "UNKNOWN_ACCOUNT"
	CodeTaxRate          = "INVALID_TAX_RATE"
	CodeTaxonomy         = "INVALID_TAXONOMY_CODE"
)

// DefaultLineType is used for derived lines that name no line type.
const DefaultLineType = "GL"

// RuleError is a bundle rule that rejected the transaction.
type RuleError struct {
	Code    string
	Bundle  string
	Rule    string
	Message string
	Err     error
}

func (e *RuleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Bundle != "" {
		fmt.Fprintf(&b, " [%s", e.Bundle)
		if e.Rule != "" {
			fmt.Fprintf(&b, "/%s", e.Rule)
		}
		b.WriteString("]")
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RuleError) Unwrap() error { return e.Err }

// AccountResolver maps an account code to the id of an ACCOUNT entity.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, code string) (entityID string, found bool, err error)
}

// Input is the transaction under evaluation.
type Input struct {
	Header ir.TransactionHeader
	Lines  []ir.TransactionLine
}

// Result is the outcome of applying a plan.
type Result struct {
	Plan    Plan
	Tax     map[string]TaxSplit
	Derived []ir.TransactionLine
	Digest  string
}

// Evaluator applies plans at a fixed currency precision.
type Evaluator struct {
	Precision int32
}

// Apply runs a plan against a transaction:
//  1. required fields must be present and non-empty
//  2. tax rules compute net/tax/gross splits
//  3. validations must all hold
//  4. posting rules whose when-predicate holds emit derived lines
//
// Nothing is persisted here; the caller writes the result only when Apply
// returns nil. Derived lines have LineNumber 0 and no TransactionID.
func (ev Evaluator) Apply(ctx context.Context, plan Plan, in Input, accounts AccountResolver) (Result, error) {
	env := &Env{
		Header:  HeaderObject(in.Header),
		Payload: in.Header.Payload,
		Lines:   in.Lines,
		Tax:     make(map[string]TaxSplit),
	}
	res := Result{Plan: plan, Tax: env.Tax, Derived: []ir.TransactionLine{}}

	if err := ev.checkRequired(plan, env); err != nil {
		return Result{}, err
	}
	if err := ev.computeTaxes(plan, env); err != nil {
		return Result{}, err
	}
	if err := ev.runValidations(plan, env); err != nil {
		return Result{}, err
	}

	for _, sp := range plan.PostingRules {
		lines, err := ev.runPosting(ctx, plan, sp, env, accounts)
		if err != nil {
			return Result{}, err
		}
		res.Derived = append(res.Derived, lines...)
	}

	digest, err := ir.LinesDigest(res.Derived)
	if err != nil {
		return Result{}, fmt.Errorf("digest derived lines: %w", err)
	}
	res.Digest = digest
	return res, nil
}

func (ev Evaluator) checkRequired(plan Plan, env *Env) error {
	for _, field := range plan.RequiredFields {
		path := strings.Split(field, ".")
		if path[0] != "header" && path[0] != "payload" {
			path = append([]string{"payload"}, path...)
		}
		v, ok, err := resolvePath(env, path)
		if err != nil {
			return &RuleError{Code: CodeRequiredField, Rule: field, Message: "bad required field path", Err: err}
		}
		if !ok || (v.Kind == KindString && v.Str == "") {
			return &RuleError{
				Code:    CodeRequiredField,
				Rule:    field,
				Message: fmt.Sprintf("%s is required", strings.Join(path, ".")),
			}
		}
	}
	return nil
}

func (ev Evaluator) computeTaxes(plan Plan, env *Env) error {
	for _, t := range plan.TaxRules {
		basisExpr, err := Compile(t.Basis)
		if err != nil {
			return &RuleError{Code: CodeExpression, Rule: t.Code, Message: "tax basis", Err: err}
		}
		basis, err := basisExpr.EvalNumber(env)
		if err != nil {
			return &RuleError{Code: CodeExpression, Rule: t.Code, Message: "tax basis", Err: err}
		}
		split, err := SplitTax(basis, t.Rate, t.Inclusive, ev.Precision)
		if err != nil {
			return &RuleError{Code: CodeTaxRate, Rule: t.Code, Message: "tax rate", Err: err}
		}
		env.Tax[t.Code] = split
	}
	return nil
}

// SplitTax splits basis at rate. Inclusive: basis is gross and
// tax = gross*rate/(1+rate). Exclusive: basis is net and tax = net*rate.
// Tax is rounded to precision and net + tax == gross exactly. Negative
// rates are an error.
func SplitTax(basis, rate decimal.Decimal, inclusive bool, precision int32) (TaxSplit, error) {
	if rate.IsNegative() {
		return TaxSplit{}, fmt.Errorf("rate %s is negative", rate)
	}
	basis = basis.Round(precision)
	if inclusive {
		tax := basis.Mul(rate).Div(decimal.NewFromInt(1).Add(rate)).Round(precision)
		return TaxSplit{Rate: rate, Net: basis.Sub(tax), Tax: tax, Gross: basis}, nil
	}
	tax := basis.Mul(rate).Round(precision)
	return TaxSplit{Rate: rate, Net: basis, Tax: tax, Gross: basis.Add(tax)}, nil
}

func (ev Evaluator) runValidations(plan Plan, env *Env) error {
	for _, sv := range plan.Validations {
		expr, err := Compile(sv.Rule.Expr)
		if err != nil {
			return &RuleError{Code: CodeExpression, Bundle: sv.Bundle, Rule: sv.Rule.ID, Message: "validation", Err: err}
		}
		ok, err := expr.EvalBool(env)
		if err != nil {
			return &RuleError{Code: CodeExpression, Bundle: sv.Bundle, Rule: sv.Rule.ID, Message: "validation", Err: err}
		}
		if !ok {
			msg := sv.Rule.Message
			if msg == "" {
				msg = fmt.Sprintf("%s does not hold", sv.Rule.Expr)
			}
			return &RuleError{Code: CodeValidationFailed, Bundle: sv.Bundle, Rule: sv.Rule.ID, Message: msg}
		}
	}
	return nil
}

func (ev Evaluator) runPosting(ctx context.Context, plan Plan, sp SourcedPosting, env *Env, accounts AccountResolver) ([]ir.TransactionLine, error) {
	rule := sp.Rule
	fail := func(code, msg string, err error) error {
		return &RuleError{Code: code, Bundle: sp.Bundle, Rule: rule.ID, Message: msg, Err: err}
	}

	if rule.When != "" {
		when, err := Compile(rule.When)
		if err != nil {
			return nil, fail(CodeExpression, "when", err)
		}
		ok, err := when.EvalBool(env)
		if err != nil {
			return nil, fail(CodeExpression, "when", err)
		}
		if !ok {
			return nil, nil
		}
	}

	var out []ir.TransactionLine
	for i, spec := range rule.Lines {
		code, err := taxonomy.Validate(spec.TaxonomyCode)
		if err != nil {
			return nil, fail(CodeTaxonomy, fmt.Sprintf("line %d taxonomy code %q", i+1, spec.TaxonomyCode), err)
		}
		amountExpr, err := Compile(spec.Amount)
		if err != nil {
			return nil, fail(CodeExpression, fmt.Sprintf("line %d amount", i+1), err)
		}
		amount, err := amountExpr.EvalNumber(env)
		if err != nil {
			return nil, fail(CodeExpression, fmt.Sprintf("line %d amount", i+1), err)
		}
		amount = amount.Round(ev.Precision)
		if amount.IsZero() {
			continue
		}
		side := spec.Side
		if amount.IsNegative() {
			// a negative amount posts to the opposite side
			side = side.Opposite()
			amount = amount.Abs()
		}

		data := ir.Object{
			"bundle_id":    ir.String(sp.Bundle),
			"posting_rule": ir.String(rule.ID),
			"account":      ir.String(spec.Account),
		}
		entityID, found, err := accounts.ResolveAccount(ctx, spec.Account)
		if err != nil {
			return nil, fmt.Errorf("resolve account %s: %w", spec.Account, err)
		}
		if !found {
			if plan.SuspenseAccount == "" {
				return nil, fail(CodeUnknownAccount, fmt.Sprintf("account %q does not exist and no suspense account is named", spec.Account), nil)
			}
			entityID, found, err = accounts.ResolveAccount(ctx, plan.SuspenseAccount)
			if err != nil {
				return nil, fmt.Errorf("resolve suspense account %s: %w", plan.SuspenseAccount, err)
			}
			if !found {
				return nil, fail(CodeUnknownAccount, fmt.Sprintf("suspense account %q does not exist", plan.SuspenseAccount), nil)
			}
			data["account"] = ir.String(plan.SuspenseAccount)
			data["suspense_for"] = ir.String(spec.Account)
		}

		lineType := spec.LineType
		if lineType == "" {
			lineType = DefaultLineType
		}
		out = append(out, ir.TransactionLine{
			LineType:     lineType,
			EntityID:     entityID,
			Quantity:     decimal.NewFromInt(1),
			UnitAmount:   amount,
			LineAmount:   amount,
			TaxonomyCode: code.Raw,
			Side:         side,
			Data:         data,
		})
	}
	return out, nil
}

// HeaderObject exposes header columns to expressions as header.<name>.
func HeaderObject(h ir.TransactionHeader) ir.Object {
	return ir.Object{
		"transaction_type": ir.String(h.TransactionType),
		"code":             ir.String(h.Code),
		"taxonomy_code":    ir.String(h.TaxonomyCode),
		"transaction_date": ir.String(h.TransactionDate.UTC().Format(ir.DateLayout)),
		"source_entity_id": ir.String(h.SourceEntityID),
		"target_entity_id": ir.String(h.TargetEntityID),
		"total_amount":     ir.String(h.TotalAmount.String()),
		"currency":         ir.String(h.Currency),
		"status":           ir.String(h.Status),
	}
}
