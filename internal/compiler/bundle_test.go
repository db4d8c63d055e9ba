package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
)

func compileBundle(t *testing.T, id, src string) ([]ir.PolicyBundle, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileBundle(id, v.LookupPath(cue.MakePath(cue.Str("bundle"), cue.Str(id))))
}

func TestCompileBundle_SingleVersion(t *testing.T) {
	got, err := compileBundle(t, "deposit", `
bundle: deposit: {
	version:  3
	priority: 10
	match: transaction_types: ["DEPOSIT"]
	validations: [{id: "pos", expr: "payload.amount > 0"}]
	posting_rules: [{
		id: "book"
		lines: [
			{account: "1000", side: "DR", amount: "payload.amount", taxonomy_code: "HERA.FIN.GL.LINE.DR.V1", line_type: "CASH"},
			{account: "2000", side: "CR", amount: "payload.amount", taxonomy_code: "HERA.FIN.GL.LINE.CR.V1"},
		]
	}]
}`)
	require.NoError(t, err)
	require.Len(t, got, 1)

	b := got[0]
	assert.Equal(t, "deposit", b.ID)
	assert.Equal(t, 3, b.Version)
	assert.Equal(t, 10, b.Priority)
	assert.Equal(t, ir.BundleActive, b.Status)
	assert.Equal(t, []string{"DEPOSIT"}, b.Match.TransactionTypes)
	assert.Empty(t, b.Match.Industries)
	require.Len(t, b.Validations, 1)
	assert.Equal(t, "payload.amount > 0", b.Validations[0].Expr)
	require.Len(t, b.PostingRules, 1)
	require.Len(t, b.PostingRules[0].Lines, 2)
	assert.Equal(t, ir.Debit, b.PostingRules[0].Lines[0].Side)
	assert.Equal(t, "CASH", b.PostingRules[0].Lines[0].LineType)
	assert.Empty(t, Validate(b))
}

func TestCompileBundle_Versions(t *testing.T) {
	got, err := compileBundle(t, "vat", `
bundle: vat: versions: [
	{version: 1, tax_rules: [{code: "VAT", rate: "0.10", basis: "payload.gross"}]},
	{version: 2, status: "inactive", tax_rules: [{code: "VAT", rate: 1, basis: "payload.gross", inclusive: true}]},
]`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0.1", got[0].TaxRules[0].Rate.String())
	assert.False(t, got[0].TaxRules[0].Inclusive)
	assert.Equal(t, ir.BundleInactive, got[1].Status)
	assert.Equal(t, "1", got[1].TaxRules[0].Rate.String())
	assert.True(t, got[1].TaxRules[0].Inclusive)
}

func TestCompileBundle_FloatRateForbidden(t *testing.T) {
	_, err := compileBundle(t, "vat", `
bundle: vat: {
	version: 1
	tax_rules: [{code: "VAT", rate: 0.15, basis: "payload.gross"}]
}`)
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "rate", ce.Field)
	assert.Contains(t, ce.Message, "float")
}

func TestCompileBundle_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"version", `bundle: b: {priority: 1}`, "version"},
		{"validation expr", `bundle: b: {version: 1, validations: [{id: "x"}]}`, "expr"},
		{"posting account", `bundle: b: {version: 1, posting_rules: [{id: "p", lines: [{side: "DR", amount: "1", taxonomy_code: "HERA.FIN.GL.LINE.V1"}]}]}`, "account"},
		{"tax rate", `bundle: b: {version: 1, tax_rules: [{code: "VAT", basis: "1"}]}`, "rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileBundle(t, "b", tt.src)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileBundle_WrongTypes(t *testing.T) {
	_, err := compileBundle(t, "b", `bundle: b: {version: "one"}`)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "version", ce.Field)
	assert.Equal(t, "must be an integer", ce.Message)

	_, err = compileBundle(t, "b", `bundle: b: {version: 1, validations: {id: "x"}}`)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "validations", ce.Field)
}
