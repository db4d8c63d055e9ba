package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

func TestEntity_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")

	e := testEntity("org-1", "e-1", "CUSTOMER", "C1")
	e.Metadata = ir.Object{"system_ai": ir.Object{"model": ir.String("m1")}}
	require.NoError(t, s.InsertEntity(ctx, e))

	got, err := s.GetEntity(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEntity_DuplicateCodeIsUniqueViolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")
	seedOrg(t, s, "org-2")
	seedEntity(t, s, "org-1", "e-1", "CUSTOMER", "C1")

	err := s.InsertEntity(ctx, testEntity("org-1", "e-2", "CUSTOMER", "C1"))
	require.Error(t, err)
	assert.True(t, IsUnique(err))
	assert.Contains(t, ConstraintOf(err), "entity_code")

	var ce *ConstraintError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "insert entity", ce.Op)

	// same code under another type or another organization is fine
	assert.NoError(t, s.InsertEntity(ctx, testEntity("org-1", "e-3", "ACCOUNT", "C1")))
	assert.NoError(t, s.InsertEntity(ctx, testEntity("org-2", "e-4", "CUSTOMER", "C1")))
}

func TestEntity_MissingCodesDoNotCollide(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")

	assert.NoError(t, s.InsertEntity(ctx, testEntity("org-1", "e-1", "NOTE", "")))
	assert.NoError(t, s.InsertEntity(ctx, testEntity("org-1", "e-2", "NOTE", "")))
}

func TestEntity_UnknownOrganizationIsForeignKeyViolation(t *testing.T) {
	s := setupTestStore(t)

	err := s.InsertEntity(context.Background(), testEntity("nope", "e-1", "CUSTOMER", "C1"))
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestEntity_UpdateMatchesOrganization(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")
	e := seedEntity(t, s, "org-1", "e-1", "CUSTOMER", "C1")

	e.Name = "Renamed"
	e.UpdatedAt = testTime.Add(time.Hour)
	require.NoError(t, s.UpdateEntity(ctx, e))

	got, err := s.GetEntity(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, testTime.Add(time.Hour), got.UpdatedAt)

	e.OrganizationID = "org-2"
	assert.True(t, IsNotFound(s.UpdateEntity(ctx, e)))
}

func TestEntity_QueryOrderedAndFiltered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")
	seedEntity(t, s, "org-1", "e-3", "ACCOUNT", "4000")
	seedEntity(t, s, "org-1", "e-1", "ACCOUNT", "1000")
	seedEntity(t, s, "org-1", "e-2", "CUSTOMER", "C1")

	got, err := s.QueryEntities(ctx, queryir.Select{
		Filter:  eq("entity_type", "ACCOUNT"),
		OrderBy: []queryir.Order{{Field: "entity_code"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1000", got[0].Code)
	assert.Equal(t, "4000", got[1].Code)

	none, err := s.QueryEntities(ctx, queryir.Select{Filter: eq("entity_type", "VENDOR")})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	byCode, err := s.FindEntityByCode(ctx, "org-1", "ACCOUNT", "4000")
	require.NoError(t, err)
	assert.Equal(t, "e-3", byCode.ID)
}

func TestField_UpsertAndTypeImmutability(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")
	seedEntity(t, s, "org-1", "e-1", "SERVICE", "S1")

	f := ir.DynamicField{
		OrganizationID: "org-1",
		EntityID:       "e-1",
		FieldName:      "price",
		Value:          ir.NumberValue(decimal.RequireFromString("45.50")),
		TaxonomyCode:   "HERA.SALON.SVC.FIELD.PRICE.V1",
		UpdatedBy:      "actor-1",
		UpdatedAt:      testTime,
	}
	require.NoError(t, s.UpsertField(ctx, f))

	f.Value = ir.NumberValue(decimal.RequireFromString("50"))
	require.NoError(t, s.UpsertField(ctx, f))

	got, err := s.GetField(ctx, "org-1", "e-1", "price")
	require.NoError(t, err)
	require.NotNil(t, got.Value.Number)
	assert.True(t, got.Value.Number.Equal(decimal.NewFromInt(50)))

	f.Value = ir.TextValue("fifty")
	err = s.UpsertField(ctx, f)
	assert.ErrorIs(t, err, ErrFieldTypeMismatch)
}

func TestField_AllTypesRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedOrg(t, s, "org-1")
	seedEntity(t, s, "org-1", "e-1", "SERVICE", "S1")

	values := map[string]ir.FieldValue{
		"a_text":       ir.TextValue("hello"),
		"b_number":     ir.NumberValue(decimal.RequireFromString("1.25")),
		"c_boolean":    ir.BoolValue(true),
		"d_date":       ir.DateValue(testTime),
		"e_datetime":   ir.DateTimeValue(testTime),
		"f_structured": ir.StructuredValue(ir.Object{"k": ir.Int(1)}),
	}
	for name, v := range values {
		require.NoError(t, s.UpsertField(ctx, ir.DynamicField{
			OrganizationID: "org-1",
			EntityID:       "e-1",
			FieldName:      name,
			Value:          v,
			TaxonomyCode:   "HERA.SALON.SVC.FIELD.V1",
			UpdatedBy:      "actor-1",
			UpdatedAt:      testTime,
		}))
	}

	fields, err := s.ListFields(ctx, "org-1", "e-1")
	require.NoError(t, err)
	require.Len(t, fields, len(values))

	for i, name := range []string{"a_text", "b_number", "c_boolean", "d_date", "e_datetime", "f_structured"} {
		assert.Equal(t, name, fields[i].FieldName)
		assert.Equal(t, values[name].String(), fields[i].Value.String(), name)
		assert.Equal(t, values[name].Type, fields[i].FieldType(), name)
	}
}
