package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/hera/internal/ir"
)

func TestValidate_ValidSelect(t *testing.T) {
	q := Select{
		From: "core_entities",
		Filter: And{Predicates: []Predicate{
			Equals{Field: "organization_id", Value: ir.String("org-1")},
			In{Field: "entity_type", Values: Strings("CUSTOMER", "ACCOUNT")},
			Prefix{Field: "entity_code", Value: "4"},
			Not{Predicate: IsNull{Field: "entity_code"}},
		}},
		OrderBy: []Order{{Field: "entity_code"}},
	}

	res := Validate(q)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Problems)
}

func TestValidate_JSONPathField(t *testing.T) {
	q := Select{
		From:   "core_relationships",
		Filter: Equals{Field: "relationship_data.status_dimension", Value: ir.String("lifecycle")},
	}
	assert.True(t, Validate(q).Valid)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"nil query", nil},
		{"empty from", Select{}},
		{"negative limit", Select{From: "t", Limit: -1}},
		{"injected field", Select{From: "t", Filter: Equals{Field: "id; DROP TABLE t", Value: ir.String("x")}}},
		{"nil value", Select{From: "t", Filter: Equals{Field: "id"}}},
		{"nil child", Select{From: "t", Filter: And{Predicates: []Predicate{nil}}}},
		{"bad order field", Select{From: "t", OrderBy: []Order{{Field: "1=1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Problems)
		})
	}
}

func TestAndOf(t *testing.T) {
	assert.Nil(t, AndOf(nil, nil))

	eq := Equals{Field: "id", Value: ir.String("a")}
	assert.Equal(t, eq, AndOf(nil, eq))

	both := AndOf(eq, IsNull{Field: "entity_code"})
	and, ok := both.(And)
	assert.True(t, ok)
	assert.Len(t, and.Predicates, 2)
}
