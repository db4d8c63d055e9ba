package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one entity"
organizations:
  - {id: org-a, name: Tenant A, code: TENANT-A, taxonomy_code: HERA.PLATFORM.ORG.TENANT.V1}
members:
  actor-a: [org-a]
caller: {organization_id: org-a, actor_id: actor-a}
flow:
  - op: entity
    request:
      action: CREATE
      entity: {entity_type: CUSTOMER, name: Ada, taxonomy_code: HERA.CRM.CUSTOMER.ENTITY.V1}
assertions:
  - type: entity_count
    entity_type: CUSTOMER
    count: 1
`

func TestLoadScenario_RetailSale(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/retail_sale.yaml")
	require.NoError(t, err)

	assert.Equal(t, "retail_sale", s.Name)
	require.Len(t, s.Bundles, 1)
	assert.Equal(t, filepath.Join("testdata", "bundles", "retail.cue"), s.Bundles[0])
	assert.Len(t, s.Organizations, 2)
	assert.Equal(t, []string{"org-a"}, s.Members["actor-a"])
	assert.Equal(t, "org-a", s.Caller.OrganizationID)
	assert.Len(t, s.Setup, 3)
	assert.Len(t, s.Flow, 7)

	sale := s.Flow[0]
	assert.Equal(t, OpTransaction, sale.Op)
	assert.Equal(t, "sale", sale.Save)
	require.NotNil(t, sale.Expect)
	assert.Equal(t, CaseSuccess, sale.Expect.Case)
	assert.Equal(t, "CREATE", sale.Request["action"])
}

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario), "")
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Empty(t, s.PlatformOrg)
	require.Len(t, s.Assertions, 1)
	require.NotNil(t, s.Assertions[0].Count)
	assert.Equal(t, 1, *s.Assertions[0].Count)
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario+"assertion: []\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingBundle(t *testing.T) {
	dir := t.TempDir()
	doc := "bundles: [missing.cue]\n" + minimalScenario
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle file not found")
}

func TestValidateScenario(t *testing.T) {
	count := 1
	negative := -1
	valid := func() Scenario {
		return Scenario{
			Name:          "s",
			Description:   "d",
			Organizations: minimalOrgs(),
			Flow:          []Step{{Op: OpEntity}},
			Assertions:    []Assertion{{Type: AssertIntegrityClean}},
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Scenario)
		want   string
	}{
		{"name", func(s *Scenario) { s.Name = "" }, "name is required"},
		{"description", func(s *Scenario) { s.Description = "" }, "description is required"},
		{"organizations", func(s *Scenario) { s.Organizations = nil }, "organizations list"},
		{"flow", func(s *Scenario) { s.Flow = nil }, "flow list"},
		{"assertions", func(s *Scenario) { s.Assertions = nil }, "assertions list"},
		{"unknown op", func(s *Scenario) { s.Flow[0].Op = "invoke" }, `unknown op "invoke"`},
		{"expect case", func(s *Scenario) { s.Flow[0].Expect = &ExpectClause{Case: "Maybe"} }, "case must be"},
		{"expect in setup", func(s *Scenario) {
			s.Setup = []Step{{Op: OpEntity, Expect: &ExpectClause{Case: CaseSuccess}}}
		}, "only allowed in flow"},
		{"saved twice", func(s *Scenario) {
			s.Setup = []Step{{Op: OpEntity, Save: "x"}}
			s.Flow[0].Save = "x"
		}, `"x" is saved twice`},
		{"assertion type", func(s *Scenario) { s.Assertions[0].Type = "" }, "type is required"},
		{"unknown assertion", func(s *Scenario) { s.Assertions[0].Type = "final_state" }, "unknown assertion type"},
		{"entity_count", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertEntityCount, Count: &count} }, "entity_type and count"},
		{"current_status", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertCurrentStatus, Ref: "c"} }, "ref and status"},
		{"transaction_status", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertTransactionStatus, Status: "POSTED"} }, "ref and status"},
		{"trial_balance", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertTrialBalance} }, "balanced or balances"},
		{"trace_count", func(s *Scenario) { s.Assertions[0] = Assertion{Type: AssertTraceCount, Count: &negative} }, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := validateScenario(&s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("valid", func(t *testing.T) {
		s := valid()
		assert.NoError(t, validateScenario(&s))
	})
}
