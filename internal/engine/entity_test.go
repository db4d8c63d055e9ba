package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/placement"
	"github.com/roach88/hera/internal/queryir"
)

func TestCreateEntity_WritesFieldsMetadataAndEdges(t *testing.T) {
	f := newTestEngine(t)
	group := f.entity(callerA, "ORG_UNIT", "GRP-1")

	ent, err := f.e.CreateEntity(f.ctx, callerA, EntityInput{
		EntityType:   "CUSTOMER",
		Name:         "Ada",
		Code:         "CUST-1",
		TaxonomyCode: "hera.crm.customer.entity.v1",
		Fields: []FieldInput{
			{Name: "creditLimit", Value: ir.NumberValue(dec("2500.00")), TaxonomyCode: "HERA.CRM.CUSTOMER.FIELD.V1"},
			{Name: "favorite_stylist", Value: ir.TextValue("Grace"), TaxonomyCode: "HERA.CRM.CUSTOMER.FIELD.V1"},
		},
		Metadata: []MetadataInput{
			{Name: "model_trace", Category: placement.CategorySystemAI, Value: ir.String("run-7")},
		},
		Relationships: []EdgeInput{
			{EntityID: group.ID, Type: ir.RelMemberOf, TaxonomyCode: "HERA.CRM.REL.MEMBER.V1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "HERA.CRM.CUSTOMER.ENTITY.V1", ent.TaxonomyCode)
	assert.Equal(t, ir.StatusActive, ent.Status)

	got, err := f.e.GetEntity(f.ctx, callerA, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{placement.CategorySystemAI: ir.Object{"model_trace": ir.String("run-7")}}, got.Metadata)

	fields, err := f.e.GetFields(f.ctx, callerA, ent.ID)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "credit_limit", fields[0].FieldName)
	assert.Equal(t, "2500", fields[0].Value.String())
	assert.Equal(t, "favorite_stylist", fields[1].FieldName)

	rels, err := f.e.ReadRelationships(f.ctx, callerA, RelationshipFilter{FromEntityID: ent.ID})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, group.ID, rels[0].ToEntityID)
}

func TestCreateEntity_PlacementRejectsLifecycleField(t *testing.T) {
	f := newTestEngine(t)

	_, err := f.e.CreateEntity(f.ctx, callerA, EntityInput{
		EntityType:   "CUSTOMER",
		Name:         "Ada",
		Code:         "CUST-1",
		TaxonomyCode: "HERA.CRM.CUSTOMER.ENTITY.V1",
		Fields: []FieldInput{
			{Name: "status", Value: ir.TextValue("active"), TaxonomyCode: "HERA.CRM.CUSTOMER.FIELD.V1"},
		},
	})
	requireKind(t, err, KindValidation, CodeInvalidField)

	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, placement.RuleLifecycleState, ee.Details["rule"])
	assert.Contains(t, ee.Remediation, "has_status")

	ents, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestCreateEntity_MetadataNeedsAllowListedCategory(t *testing.T) {
	f := newTestEngine(t)
	in := EntityInput{
		EntityType:   "CUSTOMER",
		Name:         "Ada",
		TaxonomyCode: "HERA.CRM.CUSTOMER.ENTITY.V1",
	}

	in.Metadata = []MetadataInput{{Name: "campaign_source", Category: "marketing", Value: ir.String("x")}}
	_, err := f.e.CreateEntity(f.ctx, callerA, in)
	requireKind(t, err, KindValidation, CodeInvalidField)

	in.Metadata = []MetadataInput{{Name: "unit_price", Category: placement.CategorySystemAI, Value: ir.String("9.99")}}
	_, err = f.e.CreateEntity(f.ctx, callerA, in)
	requireKind(t, err, KindValidation, CodeInvalidField)
	assert.Contains(t, err.Error(), "cannot be stored as metadata")
}

func TestCreateEntity_RejectsBadTaxonomyAndKind(t *testing.T) {
	f := newTestEngine(t)

	_, err := f.e.CreateEntity(f.ctx, callerA, EntityInput{EntityType: "CUSTOMER", Name: "x", TaxonomyCode: "HERA.CRM.V1"})
	requireKind(t, err, KindValidation, CodeInvalidTaxonomy)

	_, err = f.e.CreateEntity(f.ctx, callerA, EntityInput{EntityType: "SPACESHIP", Name: "x", TaxonomyCode: "HERA.CRM.SHIP.ENTITY.V1"})
	requireKind(t, err, KindValidation, CodeInvalidKind)

	require.NoError(t, f.e.RegisterEntityKind(f.ctx, callerA, "SPACESHIP"))
	_, err = f.e.CreateEntity(f.ctx, callerA, EntityInput{EntityType: "SPACESHIP", Name: "x", TaxonomyCode: "HERA.CRM.SHIP.ENTITY.V1"})
	assert.NoError(t, err)

	// registration is per organization
	_, err = f.e.CreateEntity(f.ctx, callerB, EntityInput{EntityType: "SPACESHIP", Name: "x", TaxonomyCode: "HERA.CRM.SHIP.ENTITY.V1"})
	requireKind(t, err, KindValidation, CodeInvalidKind)
}

func TestCreateEntity_DuplicateCodeConflicts(t *testing.T) {
	f := newTestEngine(t)
	f.entity(callerA, "CUSTOMER", "CUST-1")

	_, err := f.e.CreateEntity(f.ctx, callerA, EntityInput{
		EntityType: "CUSTOMER", Name: "again", Code: "CUST-1", TaxonomyCode: "HERA.CRM.CUSTOMER.ENTITY.V1",
	})
	requireKind(t, err, KindConflict, CodeDuplicateCode)
	assert.True(t, IsConflict(err))

	// same code, other type or other organization is fine
	f.entity(callerA, "VENDOR", "CUST-1")
	f.entity(callerB, "CUSTOMER", "CUST-1")
}

func TestEntity_ScopeIsolation(t *testing.T) {
	f := newTestEngine(t)
	mine := f.entity(callerA, "CUSTOMER", "CUST-1")
	shared := f.entity(callerPlatform, "PRODUCT", "SKU-1")

	_, err := f.e.GetEntity(f.ctx, callerB, mine.ID)
	requireKind(t, err, KindNotFound, CodeNotFound)

	got, err := f.e.GetEntity(f.ctx, callerA, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, platformOrg, got.OrganizationID)

	name := "renamed"
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: shared.ID, Name: &name})
	requireKind(t, err, KindScope, CodeCrossOrganization)

	_, err = f.e.GetEntity(f.ctx, Caller{OrganizationID: orgA, ActorID: "actor-b"}, mine.ID)
	requireKind(t, err, KindScope, CodeNotMember)
	assert.True(t, IsScope(err))

	own, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, own, 1)

	withPlatform, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{IncludePlatform: true})
	require.NoError(t, err)
	assert.Len(t, withPlatform, 2)
}

type failingIdentity struct{}

func (failingIdentity) Memberships(context.Context, string) ([]string, error) {
	return nil, errors.New("directory offline")
}

func TestEntity_IdentityFailureIsScopeError(t *testing.T) {
	f := newTestEngine(t)
	f.e.identity = failingIdentity{}

	_, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{})
	requireKind(t, err, KindScope, CodeIdentityUnavailable)
}

func TestUpdateEntity_PatchAndImmutables(t *testing.T) {
	f := newTestEngine(t)
	ent := f.entity(callerA, "CUSTOMER", "CUST-1")

	name, code := "Ada Lovelace", "CUST-9"
	got, err := f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, Name: &name, Code: &code})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, "CUST-9", got.Code)
	assert.True(t, got.UpdatedAt.After(ent.UpdatedAt))

	other := orgB
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, OrganizationID: &other})
	requireKind(t, err, KindValidation, CodeImmutableField)

	kind := "VENDOR"
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, EntityType: &kind})
	requireKind(t, err, KindValidation, CodeImmutableField)

	bad := "nope"
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, TaxonomyCode: &bad})
	requireKind(t, err, KindValidation, CodeInvalidTaxonomy)

	reclassified := "HERA.CORE.ENTITY.VENDOR.V9"
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, TaxonomyCode: &reclassified})
	requireKind(t, err, KindValidation, CodeImmutableField)

	same := "hera.core.entity.customer.v1"
	got, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, TaxonomyCode: &same})
	require.NoError(t, err)
	assert.Equal(t, "HERA.CORE.ENTITY.CUSTOMER.V1", got.TaxonomyCode)

	stored, err := f.e.GetEntity(f.ctx, callerA, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, "HERA.CORE.ENTITY.CUSTOMER.V1", stored.TaxonomyCode)
}

func TestDeactivateEntity_MakesReadOnly(t *testing.T) {
	f := newTestEngine(t)
	ent := f.entity(callerA, "CUSTOMER", "CUST-1")

	got, err := f.e.DeactivateEntity(f.ctx, callerA, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusInactive, got.Status)

	// idempotent
	_, err = f.e.DeactivateEntity(f.ctx, callerA, ent.ID)
	require.NoError(t, err)

	name := "x"
	_, err = f.e.UpdateEntity(f.ctx, callerA, EntityPatch{ID: ent.ID, Name: &name})
	requireKind(t, err, KindState, CodeInactiveRecord)

	_, err = f.e.SetField(f.ctx, callerA, ent.ID, FieldInput{Name: "note", Value: ir.TextValue("x"), TaxonomyCode: "HERA.CRM.CUSTOMER.FIELD.V1"})
	requireKind(t, err, KindState, CodeInactiveRecord)

	inactive, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{Status: ir.StatusInactive})
	require.NoError(t, err)
	assert.Len(t, inactive, 1)
}

func TestSetField_TypeIsImmutable(t *testing.T) {
	f := newTestEngine(t)
	ent := f.entity(callerA, "SERVICE", "SVC-1")

	df, err := f.e.SetField(f.ctx, callerA, ent.ID, FieldInput{Name: "price", Value: ir.NumberValue(dec("45.00")), TaxonomyCode: "HERA.SALON.SVC.FIELD.V1"})
	require.NoError(t, err)
	assert.Equal(t, ir.FieldNumber, df.FieldType())

	_, err = f.e.SetField(f.ctx, callerA, ent.ID, FieldInput{Name: "price", Value: ir.NumberValue(dec("50.00")), TaxonomyCode: "HERA.SALON.SVC.FIELD.V1"})
	require.NoError(t, err)

	_, err = f.e.SetField(f.ctx, callerA, ent.ID, FieldInput{Name: "price", Value: ir.TextValue("fifty"), TaxonomyCode: "HERA.SALON.SVC.FIELD.V1"})
	requireKind(t, err, KindValidation, CodeFieldTypeChange)

	fields, err := f.e.GetFields(f.ctx, callerA, ent.ID)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "50", fields[0].Value.String())
}

func TestSetField_RejectsMalformedValue(t *testing.T) {
	f := newTestEngine(t)
	ent := f.entity(callerA, "SERVICE", "SVC-1")

	_, err := f.e.SetField(f.ctx, callerA, ent.ID, FieldInput{Name: "notes", Value: ir.FieldValue{Type: ir.FieldText}, TaxonomyCode: "HERA.SALON.SVC.FIELD.V1"})
	requireKind(t, err, KindValidation, CodeInvalidField)
}

func TestSetMetadata_MergesBuckets(t *testing.T) {
	f := newTestEngine(t)
	ent := f.entity(callerA, "CUSTOMER", "CUST-1")

	_, err := f.e.SetMetadata(f.ctx, callerA, ent.ID, MetadataInput{Name: "model_trace", Category: placement.CategorySystemAI, Value: ir.String("a")})
	require.NoError(t, err)
	got, err := f.e.SetMetadata(f.ctx, callerA, ent.ID, MetadataInput{Name: "last_sync", Category: placement.CategorySystemAudit, Value: ir.String("b")})
	require.NoError(t, err)

	assert.Equal(t, ir.Object{
		placement.CategorySystemAI:    ir.Object{"model_trace": ir.String("a")},
		placement.CategorySystemAudit: ir.Object{"last_sync": ir.String("b")},
	}, got.Metadata)

	_, err = f.e.SetMetadata(f.ctx, callerA, ent.ID, MetadataInput{Name: "stage", Category: placement.CategorySystemAI, Value: ir.String("x")})
	requireKind(t, err, KindValidation, CodeInvalidField)
}

func TestReadEntities_Filters(t *testing.T) {
	f := newTestEngine(t)
	f.entity(callerA, "ACCOUNT", "1100")
	f.entity(callerA, "ACCOUNT", "1200")
	f.entity(callerA, "ACCOUNT", "4000")
	f.entity(callerA, "CUSTOMER", "1150")

	got, err := f.e.ReadEntities(f.ctx, callerA, EntityFilter{EntityType: "ACCOUNT", CodePrefix: "1"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = f.e.ReadEntities(f.ctx, callerA, EntityFilter{
		Where:   queryir.Prefix{Field: "taxonomy_code", Value: "HERA.CORE.ENTITY.ACCOUNT"},
		OrderBy: []queryir.Order{{Field: "entity_code", Desc: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "4000", got[0].Code)
	assert.Equal(t, "1200", got[1].Code)

	_, err = f.e.ReadEntities(f.ctx, callerA, EntityFilter{Where: queryir.Equals{Field: "no_such_column", Value: ir.String("x")}})
	requireKind(t, err, KindValidation, CodeInvalidRequest)
}
