package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/engine"
)

func minimalOrgs() []engine.OrganizationInput {
	return []engine.OrganizationInput{
		{ID: "org-a", Name: "Tenant A", Code: "TENANT-A", TaxonomyCode: "HERA.PLATFORM.ORG.TENANT.V1"},
	}
}

func mustLoad(t *testing.T, path string) *Scenario {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, "errors:\n%v", result.Errors)
	require.Empty(t, result.Errors)
}

func TestRun_RetailSale(t *testing.T) {
	result, err := Run(mustLoad(t, "testdata/scenarios/retail_sale.yaml"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Trace, 10)
	assert.True(t, result.Trace[0].Setup)
	assert.False(t, result.Trace[3].Setup)
	assert.NotEmpty(t, result.Refs["sale"])
	assert.Equal(t, result.Refs["sale"], result.Trace[3].ID)

	last := result.Trace[9]
	assert.Equal(t, OpTrialBalance, last.Op)
	assert.Equal(t, "rows=3 debit=115 credit=115", last.Summary)
}

func TestRun_StatusHierarchy(t *testing.T) {
	result, err := Run(mustLoad(t, "testdata/scenarios/status_hierarchy.yaml"))
	require.NoError(t, err)
	requirePass(t, result)

	var codes []string
	for _, ev := range result.Trace {
		if ev.Case == CaseError {
			codes = append(codes, ev.Code)
		}
	}
	assert.Equal(t, []string{engine.CodeNotStatusEntity, engine.CodeHierarchyCycle, engine.CodeNotFound}, codes)
}

func TestRun_Deterministic(t *testing.T) {
	s := mustLoad(t, "testdata/scenarios/retail_sale.yaml")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Refs, second.Refs)
}

func TestRun_ExpectationFailureIsReported(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	s.Flow[0].Expect = &ExpectClause{Case: CaseError, Code: engine.CodeInvalidTaxonomy}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] entity: expected Error, got Success")
}

func TestRun_UnexpectedErrorIsReported(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	s.Flow[0].Request["entity"].(map[string]any)["taxonomy_code"] = "NOT-A-CODE"

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "unexpected error VALIDATION "+engine.CodeInvalidTaxonomy)
}

func TestRun_SetupFailureAborts(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	s.Setup = []Step{{
		Name: "bad",
		Op:   OpEntity,
		Request: map[string]any{
			"action": "CREATE",
			"entity": map[string]any{"entity_type": "UNICORN", "name": "x", "taxonomy_code": "HERA.CORE.ENTITY.X.V1"},
		},
	}}

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0] bad failed")
}

func TestRun_UnknownRefAborts(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	s.Flow = append(s.Flow, Step{Op: OpEntity, Request: map[string]any{"action": "READ", "id": "$ghost"}})

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown ref "$ghost"`)
}

func TestRun_UnknownRequestFieldAborts(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	s.Flow[0].Request["entitee"] = map[string]any{}

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request")
}

func TestResolveRefs_DoesNotMutate(t *testing.T) {
	in := map[string]any{
		"id":   "$a",
		"list": []any{"$b", "plain", 3},
		"nested": map[string]any{
			"x": "$a",
		},
	}
	refs := map[string]string{"a": "id-1", "b": "id-2"}

	out, err := resolveRefs(in, refs)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":     "id-1",
		"list":   []any{"id-2", "plain", 3},
		"nested": map[string]any{"x": "id-1"},
	}, out)
	assert.Equal(t, "$a", in["id"])
	assert.Equal(t, "$a", in["nested"].(map[string]any)["x"])
}

func TestRequestBody_CallerDefaults(t *testing.T) {
	h := &Harness{caller: engine.Caller{OrganizationID: "org-a", ActorID: "actor-a"}}

	body, err := h.requestBody(Step{Op: OpIntegrity}, nil)
	require.NoError(t, err)
	assert.Equal(t, "org-a", body["organization_id"])
	assert.Equal(t, "actor-a", body["actor_id"])

	body, err = h.requestBody(Step{
		Op: OpIntegrity,
		As: &engine.Caller{OrganizationID: "org-b", ActorID: "actor-b"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "org-b", body["organization_id"])

	body, err = h.requestBody(Step{
		Op:      OpIntegrity,
		Request: map[string]any{"actor_id": "someone"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "someone", body["actor_id"])
	assert.Equal(t, "org-a", body["organization_id"])
}

func TestCheckExpect(t *testing.T) {
	ok := TraceEvent{Case: CaseSuccess, Summary: "SALE S-1 POSTED"}
	failed := TraceEvent{Case: CaseError, Kind: "STATE", Code: engine.CodeIllegalTransition}

	tests := []struct {
		name   string
		expect *ExpectClause
		ev     TraceEvent
		want   string
	}{
		{"nil expect success", nil, ok, ""},
		{"nil expect error", nil, failed, "unexpected error STATE ILLEGAL_TRANSITION"},
		{"case mismatch", &ExpectClause{Case: CaseError}, ok, "expected Error, got Success (SALE S-1 POSTED)"},
		{"case mismatch error", &ExpectClause{Case: CaseSuccess}, failed, "expected Success, got STATE ILLEGAL_TRANSITION"},
		{"kind", &ExpectClause{Case: CaseError, Kind: "VALIDATION"}, failed, "expected error kind VALIDATION, got STATE"},
		{"code", &ExpectClause{Case: CaseError, Code: engine.CodeNotDraft}, failed, "expected error code NOT_DRAFT, got ILLEGAL_TRANSITION"},
		{"summary", &ExpectClause{Case: CaseSuccess, Summary: "other"}, ok, `expected summary "other", got "SALE S-1 POSTED"`},
		{"match", &ExpectClause{Case: CaseError, Kind: "STATE", Code: engine.CodeIllegalTransition}, failed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkExpect(tt.expect, tt.ev))
		})
	}
}

func TestResult_AddTraceNumbersSequentially(t *testing.T) {
	r := NewResult()
	r.addTrace(TraceEvent{Op: OpEntity})
	r.addTrace(TraceEvent{Op: OpTransaction})
	assert.Equal(t, int64(1), r.Trace[0].Seq)
	assert.Equal(t, int64(2), r.Trace[1].Seq)
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
