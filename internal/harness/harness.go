package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/hera/internal/compiler"
	"github.com/roach88/hera/internal/engine"
	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/policy"
	"github.com/roach88/hera/internal/report"
	"github.com/roach88/hera/internal/store"
)

// ScenarioEpoch is the first clock reading of every run.
var ScenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// harnessActor registers the scenario's organizations.
const harnessActor = "harness"

// Harness drives one engine through a scenario.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	caller engine.Caller
}

// Run executes a scenario against a fresh in-memory store and returns the
// result. The error is non-nil only when the scenario cannot be executed
// at all: bad bundles, a failing setup step or an undecodable request.
// Expectation and assertion failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	reg, err := loadBundles(scenario.Bundles)
	if err != nil {
		return nil, err
	}

	platform := scenario.PlatformOrg
	if platform == "" {
		platform = DefaultPlatformOrg
	}

	eng := engine.New(st, engine.StaticIdentity(scenario.Members),
		engine.WithIDs(engine.NewSequenceGenerator("id")),
		engine.WithClock(engine.NewStepClock(ScenarioEpoch, time.Second)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithPlatformOrg(platform),
		engine.WithPolicies(reg),
	)

	h := &Harness{
		store:  st,
		engine: eng,
		caller: scenario.Caller,
	}

	for i, org := range scenario.Organizations {
		if _, err := eng.CreateOrganization(ctx, harnessActor, org); err != nil {
			return nil, fmt.Errorf("organizations[%d]: %w", i, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		ev, err := h.execute(ctx, step, result.Refs)
		if err != nil {
			return nil, fmt.Errorf("failed to execute setup[%d]: %w", i, err)
		}
		ev.Setup = true
		result.addTrace(ev)
		if ev.Case != CaseSuccess {
			return nil, fmt.Errorf("setup[%d] %s failed: %s %s", i, stepLabel(step), ev.Kind, ev.Code)
		}
	}

	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step, result.Refs)
		if err != nil {
			return nil, fmt.Errorf("failed to execute flow[%d]: %w", i, err)
		}
		result.addTrace(ev)
		if msg := checkExpect(step.Expect, ev); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, stepLabel(step), msg))
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

func loadBundles(paths []string) (*policy.Registry, error) {
	var bundles []ir.PolicyBundle
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle file: %w", err)
		}
		compiled, errs := compiler.CompileSource(p, src)
		if len(errs) > 0 {
			return nil, fmt.Errorf("compile %s: %w", p, errs[0])
		}
		bundles = append(bundles, compiled...)
	}
	reg, err := policy.NewRegistry(bundles...)
	if err != nil {
		return nil, fmt.Errorf("register bundles: %w", err)
	}
	return reg, nil
}

// reportRequest is the request body of the integrity and trial_balance
// ops.
type reportRequest struct {
	engine.Caller
	AsOf *time.Time `json:"as_of,omitempty"`
}

// execute runs one step and records its outcome. Saved refs are updated
// on success.
func (h *Harness) execute(ctx context.Context, step Step, refs map[string]string) (TraceEvent, error) {
	body, err := h.requestBody(step, refs)
	if err != nil {
		return TraceEvent{}, err
	}

	ev := TraceEvent{Step: step.Name, Op: step.Op}
	switch step.Op {
	case OpEntity:
		var req engine.EntityRequest
		if err := decodeRequest(body, &req); err != nil {
			return ev, err
		}
		ev.Action = string(req.Action)
		resp := h.engine.EntityOp(ctx, req)
		ev.finish(resp.ID, resp.Error, entitySummary(resp))
	case OpRelationship:
		var req engine.RelationshipRequest
		if err := decodeRequest(body, &req); err != nil {
			return ev, err
		}
		ev.Action = string(req.Action)
		resp := h.engine.RelationshipOp(ctx, req)
		ev.finish(resp.ID, resp.Error, relationshipSummary(resp))
	case OpTransaction:
		var req engine.TransactionRequest
		if err := decodeRequest(body, &req); err != nil {
			return ev, err
		}
		ev.Action = string(req.Action)
		resp := h.engine.TransactionOp(ctx, req)
		ev.finish(resp.ID, resp.Error, transactionSummary(resp))
	case OpIntegrity:
		var req reportRequest
		if err := decodeRequest(body, &req); err != nil {
			return ev, err
		}
		rep, err := h.engine.CheckIntegrity(ctx, req.Caller)
		ev.finish("", errorOf(err), fmt.Sprintf("findings=%d", len(rep.Findings)))
	case OpTrialBalance:
		var req reportRequest
		if err := decodeRequest(body, &req); err != nil {
			return ev, err
		}
		var opts report.TrialBalanceOptions
		if req.AsOf != nil {
			opts.AsOf = *req.AsOf
		}
		tb, err := report.BuildTrialBalance(ctx, h.engine, req.Caller, opts)
		ev.finish("", errorOf(err), fmt.Sprintf("rows=%d debit=%s credit=%s", len(tb.Rows), tb.Debit, tb.Credit))
	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if ev.Case == CaseSuccess && step.Save != "" {
		refs[step.Save] = ev.ID
	}
	return ev, nil
}

// requestBody substitutes refs and fills in the caller.
func (h *Harness) requestBody(step Step, refs map[string]string) (map[string]any, error) {
	resolved, err := resolveRefs(step.Request, refs)
	if err != nil {
		return nil, err
	}
	body, _ := resolved.(map[string]any)
	if body == nil {
		body = map[string]any{}
	}

	caller := h.callerFor(step.As)
	if _, ok := body["organization_id"]; !ok {
		body["organization_id"] = caller.OrganizationID
	}
	if _, ok := body["actor_id"]; !ok {
		body["actor_id"] = caller.ActorID
	}
	return body, nil
}

func (h *Harness) callerFor(as *engine.Caller) engine.Caller {
	if as != nil {
		return *as
	}
	return h.caller
}

// resolveRefs returns a copy of v with every "$name" string replaced by the
// saved id. The input is never mutated, so a scenario can be run twice.
func resolveRefs(v any, refs map[string]string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := resolveRefs(elem, refs)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveRefs(elem, refs)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case string:
		if !strings.HasPrefix(val, "$") {
			return val, nil
		}
		id, ok := refs[val[1:]]
		if !ok {
			return nil, fmt.Errorf("unknown ref %q", val)
		}
		return id, nil
	default:
		return v, nil
	}
}

// decodeRequest round-trips body through JSON into the engine's request
// type, which owns the JSON codecs for decimals, times and ir values.
func decodeRequest(body map[string]any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func errorOf(err error) *engine.Error {
	if err == nil {
		return nil
	}
	return engine.AsError(err)
}

func (ev *TraceEvent) finish(id string, e *engine.Error, summary string) {
	if e != nil {
		ev.Case = CaseError
		ev.Kind = string(e.Kind)
		ev.Code = e.Code
		return
	}
	ev.Case = CaseSuccess
	ev.ID = id
	ev.Summary = summary
}

// checkExpect compares a flow step outcome with its expect clause and
// returns a failure message, or "" when it holds. A step without expect
// must succeed.
func checkExpect(expect *ExpectClause, ev TraceEvent) string {
	if expect == nil {
		if ev.Case == CaseError {
			return fmt.Sprintf("unexpected error %s %s", ev.Kind, ev.Code)
		}
		return ""
	}
	if ev.Case != expect.Case {
		if ev.Case == CaseError {
			return fmt.Sprintf("expected %s, got %s %s", expect.Case, ev.Kind, ev.Code)
		}
		return fmt.Sprintf("expected %s, got %s (%s)", expect.Case, ev.Case, ev.Summary)
	}
	if expect.Kind != "" && expect.Kind != ev.Kind {
		return fmt.Sprintf("expected error kind %s, got %s", expect.Kind, ev.Kind)
	}
	if expect.Code != "" && expect.Code != ev.Code {
		return fmt.Sprintf("expected error code %s, got %s", expect.Code, ev.Code)
	}
	if expect.Summary != "" && expect.Summary != ev.Summary {
		return fmt.Sprintf("expected summary %q, got %q", expect.Summary, ev.Summary)
	}
	return ""
}

func stepLabel(step Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Op
}

func entitySummary(resp engine.EntityResponse) string {
	switch {
	case resp.Entity != nil:
		e := resp.Entity
		ident := e.Code
		if ident == "" {
			ident = e.Name
		}
		return fmt.Sprintf("%s %s %s", e.EntityType, ident, e.Status)
	case resp.Success:
		return fmt.Sprintf("entities=%d", len(resp.Entities))
	}
	return ""
}

func relationshipSummary(resp engine.RelationshipResponse) string {
	switch {
	case resp.Relationship != nil:
		r := resp.Relationship
		return fmt.Sprintf("%s active=%t", r.RelationshipType, r.IsActive)
	case resp.Success:
		return fmt.Sprintf("relationships=%d", len(resp.Relationships))
	}
	return ""
}

func transactionSummary(resp engine.TransactionResponse) string {
	switch {
	case resp.Transaction != nil:
		h := resp.Transaction.Header
		return fmt.Sprintf("%s %s %s lines=%d total=%s",
			h.TransactionType, h.Code, h.Status, len(resp.Transaction.Lines), h.TotalAmount)
	case resp.Header != nil:
		h := resp.Header
		return fmt.Sprintf("%s %s %s", h.TransactionType, h.Code, h.Status)
	case resp.Line != nil:
		l := resp.Line
		parts := []string{fmt.Sprintf("line=%d", l.LineNumber)}
		if l.Side != "" {
			parts = append(parts, string(l.Side))
		}
		parts = append(parts, l.LineAmount.String())
		return strings.Join(parts, " ")
	case resp.Success:
		return fmt.Sprintf("transactions=%d", len(resp.Transactions))
	}
	return ""
}
