package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/report"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Seq, ev.Op, ev.Action, ev.Case)
		if ev.Code != "" {
			fmt.Fprintf(&buf, " %s", ev.Code)
		}
		if ev.Summary != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Summary)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		err := h.evaluate(ctx, a, result)
		if err == nil {
			continue
		}
		var ae *AssertionError
		if e, ok := err.(*AssertionError); ok {
			ae = e
			ae.Trace = result.Trace
		} else {
			ae = &AssertionError{Type: a.Type, Expected: "assertion evaluates", Actual: err.Error(), Trace: result.Trace}
		}
		errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, ae.Error()))
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	caller := h.callerFor(a.As)
	switch a.Type {
	case AssertEntityCount:
		return h.assertEntityCount(ctx, caller, a)
	case AssertCurrentStatus:
		return h.assertCurrentStatus(ctx, caller, a, result.Refs)
	case AssertTransactionStatus:
		return h.assertTransactionStatus(ctx, caller, a, result.Refs)
	case AssertTrialBalance:
		return h.assertTrialBalance(ctx, caller, a)
	case AssertIntegrityClean:
		return h.assertIntegrityClean(ctx, caller)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func lookupRef(refs map[string]string, name string) (string, error) {
	id, ok := refs[name]
	if !ok {
		return "", fmt.Errorf("unknown ref %q", name)
	}
	return id, nil
}

func (h *Harness) assertEntityCount(ctx context.Context, c engine.Caller, a Assertion) error {
	ents, err := h.engine.ReadEntities(ctx, c, engine.EntityFilter{EntityType: a.EntityType, Status: ir.StatusActive})
	if err != nil {
		return err
	}
	if len(ents) != *a.Count {
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d active %s entities", *a.Count, a.EntityType),
			Actual:   fmt.Sprintf("%d", len(ents)),
		}
	}
	return nil
}

func (h *Harness) assertCurrentStatus(ctx context.Context, c engine.Caller, a Assertion, refs map[string]string) error {
	entityID, err := lookupRef(refs, a.Ref)
	if err != nil {
		return err
	}
	want, err := lookupRef(refs, a.Status)
	if err != nil {
		return err
	}

	expected := fmt.Sprintf("%s has status %s", a.Ref, a.Status)
	rel, err := h.engine.CurrentStatus(ctx, c, entityID, a.Dimension)
	if err != nil {
		return &AssertionError{Type: AssertCurrentStatus, Expected: expected, Actual: err.Error()}
	}
	if rel.ToEntityID != want {
		return &AssertionError{
			Type:     AssertCurrentStatus,
			Expected: expected,
			Actual:   fmt.Sprintf("status entity %s", rel.ToEntityID),
		}
	}
	return nil
}

func (h *Harness) assertTransactionStatus(ctx context.Context, c engine.Caller, a Assertion, refs map[string]string) error {
	id, err := lookupRef(refs, a.Ref)
	if err != nil {
		return err
	}
	rec, err := h.engine.ReadTransaction(ctx, c, id)
	if err != nil {
		return err
	}
	if string(rec.Header.Status) != a.Status {
		return &AssertionError{
			Type:     AssertTransactionStatus,
			Expected: fmt.Sprintf("%s is %s", a.Ref, a.Status),
			Actual:   string(rec.Header.Status),
		}
	}
	return nil
}

func (h *Harness) assertTrialBalance(ctx context.Context, c engine.Caller, a Assertion) error {
	tb, err := report.BuildTrialBalance(ctx, h.engine, c, report.TrialBalanceOptions{})
	if err != nil {
		return err
	}

	if a.Balanced != nil && tb.Balanced() != *a.Balanced {
		return &AssertionError{
			Type:     AssertTrialBalance,
			Expected: fmt.Sprintf("balanced=%t", *a.Balanced),
			Actual:   fmt.Sprintf("debit %s, credit %s", tb.Debit, tb.Credit),
		}
	}

	byCode := make(map[string]decimal.Decimal, len(tb.Rows))
	for _, row := range tb.Rows {
		byCode[row.EntityCode] = row.Balance()
	}

	codes := make([]string, 0, len(a.Balances))
	for code := range a.Balances {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		want, err := decimal.NewFromString(a.Balances[code])
		if err != nil {
			return fmt.Errorf("balance for %s: %w", code, err)
		}
		got, ok := byCode[code]
		if !ok {
			return &AssertionError{
				Type:     AssertTrialBalance,
				Expected: fmt.Sprintf("%s balance %s", code, want),
				Actual:   "no ledger lines",
			}
		}
		if !got.Equal(want) {
			return &AssertionError{
				Type:     AssertTrialBalance,
				Expected: fmt.Sprintf("%s balance %s", code, want),
				Actual:   got.String(),
			}
		}
	}
	return nil
}

func (h *Harness) assertIntegrityClean(ctx context.Context, c engine.Caller) error {
	rep, err := h.engine.CheckIntegrity(ctx, c)
	if err != nil {
		return err
	}
	if rep.Clean() {
		return nil
	}
	codes := make([]string, len(rep.Findings))
	for i, f := range rep.Findings {
		codes[i] = f.Code + " " + f.Subject
	}
	return &AssertionError{
		Type:     AssertIntegrityClean,
		Expected: "no integrity findings",
		Actual:   strings.Join(codes, ", "),
	}
}

// assertTraceCount counts steps matching every non-empty filter.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.Op != "" && ev.Op != a.Op {
			continue
		}
		if a.Action != "" && ev.Action != a.Action {
			continue
		}
		if a.Case != "" && ev.Case != a.Case {
			continue
		}
		count++
	}

	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d steps matching op=%q action=%q case=%q", *a.Count, a.Op, a.Action, a.Case),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}
