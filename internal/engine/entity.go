package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/placement"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/store"
)

// FieldInput is one dynamic field write.
type FieldInput struct {
	Name         string        `json:"name" yaml:"name" validate:"required"`
	Value        ir.FieldValue `json:"value" yaml:"value"`
	TaxonomyCode string        `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
}

// MetadataInput is one metadata write. Category must be allow-listed by
// the placement policy.
type MetadataInput struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Category string   `json:"category" yaml:"category"`
	Value    ir.Value `json:"value" yaml:"value" validate:"required"`
}

// UnmarshalJSON decodes Value with ir.UnmarshalValue, which rejects floats
// and null.
func (m *MetadataInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string          `json:"name"`
		Category string          `json:"category"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MetadataInput{Name: raw.Name, Category: raw.Category}
	if len(raw.Value) == 0 {
		return nil
	}
	v, err := ir.UnmarshalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("metadata %q: %w", raw.Name, err)
	}
	m.Value = v
	return nil
}

// EdgeInput is a relationship created together with a new entity. The
// new entity is the from side unless Inbound is set.
type EdgeInput struct {
	EntityID     string    `json:"entity_id" yaml:"entity_id" validate:"required"`
	Type         string    `json:"type" yaml:"type" validate:"required"`
	Data         ir.Object `json:"data,omitempty" yaml:"data,omitempty"`
	TaxonomyCode string    `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
	Inbound      bool      `json:"inbound,omitempty" yaml:"inbound,omitempty"`
}

// EntityInput describes a new entity with its fields, metadata and
// edges. Everything is written in one unit.
type EntityInput struct {
	ID            string          `json:"id,omitempty" yaml:"id,omitempty"`
	EntityType    string          `json:"entity_type" yaml:"entity_type" validate:"required"`
	Name          string          `json:"name" yaml:"name" validate:"required"`
	Code          string          `json:"code,omitempty" yaml:"code,omitempty"`
	TaxonomyCode  string          `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
	Fields        []FieldInput    `json:"fields,omitempty" yaml:"fields,omitempty" validate:"dive"`
	Metadata      []MetadataInput `json:"metadata,omitempty" yaml:"metadata,omitempty" validate:"dive"`
	Relationships []EdgeInput     `json:"relationships,omitempty" yaml:"relationships,omitempty" validate:"dive"`
}

// EntityPatch changes the mutable columns of an entity. Nil pointers are
// left alone. OrganizationID, EntityType and TaxonomyCode are immutable;
// they exist so that an attempt to change them is rejected instead of
// silently ignored.
type EntityPatch struct {
	ID             string  `json:"id" yaml:"id" validate:"required"`
	OrganizationID *string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	EntityType     *string `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Name           *string `json:"name,omitempty" yaml:"name,omitempty"`
	Code           *string `json:"code,omitempty" yaml:"code,omitempty"`
	TaxonomyCode   *string `json:"taxonomy_code,omitempty" yaml:"taxonomy_code,omitempty"`
}

// EntityFilter selects entities. Zero fields do not filter. Where is an
// extra predicate over core_entities columns.
type EntityFilter struct {
	IDs             []string          `json:"ids,omitempty" yaml:"ids,omitempty"`
	EntityType      string            `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	Code            string            `json:"code,omitempty" yaml:"code,omitempty"`
	CodePrefix      string            `json:"code_prefix,omitempty" yaml:"code_prefix,omitempty"`
	TaxonomyPrefix  string            `json:"taxonomy_prefix,omitempty" yaml:"taxonomy_prefix,omitempty"`
	Status          ir.RecordStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	IncludePlatform bool              `json:"include_platform,omitempty" yaml:"include_platform,omitempty"`
	Where           queryir.Predicate `json:"-" yaml:"-"`
	OrderBy         []queryir.Order   `json:"-" yaml:"-"`
	Limit           int               `json:"limit,omitempty" yaml:"limit,omitempty"`
}

func (f EntityFilter) predicate() queryir.Predicate {
	var preds []queryir.Predicate
	if len(f.IDs) > 0 {
		preds = append(preds, queryir.In{Field: "id", Values: queryir.Strings(f.IDs...)})
	}
	if f.EntityType != "" {
		preds = append(preds, queryir.Equals{Field: "entity_type", Value: ir.String(f.EntityType)})
	}
	if f.Code != "" {
		preds = append(preds, queryir.Equals{Field: "entity_code", Value: ir.String(f.Code)})
	}
	if f.CodePrefix != "" {
		preds = append(preds, queryir.Prefix{Field: "entity_code", Value: f.CodePrefix})
	}
	if f.TaxonomyPrefix != "" {
		preds = append(preds, queryir.Prefix{Field: "taxonomy_code", Value: f.TaxonomyPrefix})
	}
	if f.Status != "" {
		preds = append(preds, queryir.Equals{Field: "status", Value: ir.String(f.Status)})
	}
	preds = append(preds, f.Where)
	return queryir.AndOf(preds...)
}

// CreateEntity writes an entity together with its dynamic fields,
// metadata and relationships. Any rejection leaves nothing behind.
func (e *Engine) CreateEntity(ctx context.Context, c Caller, in EntityInput) (ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Entity{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return ir.Entity{}, err
	}
	if err := e.kinds.CheckEntityKind(c.OrganizationID, in.EntityType); err != nil {
		return ir.Entity{}, err
	}
	taxCode, err := checkTaxonomy("entity", in.TaxonomyCode)
	if err != nil {
		return ir.Entity{}, err
	}

	now := e.clock.Now()
	ent := ir.Entity{
		ID:             in.ID,
		OrganizationID: c.OrganizationID,
		EntityType:     in.EntityType,
		Name:           in.Name,
		Code:           in.Code,
		TaxonomyCode:   taxCode,
		Status:         ir.StatusActive,
		Metadata:       ir.Object{},
		CreatedBy:      c.ActorID,
		CreatedAt:      now,
		UpdatedBy:      c.ActorID,
		UpdatedAt:      now,
	}
	if ent.ID == "" {
		ent.ID = e.ids.Generate()
	}

	// placement and shape checks run before the transaction opens
	fields := make([]ir.DynamicField, 0, len(in.Fields))
	for _, f := range in.Fields {
		df, err := e.dynamicField(ent, f, c.ActorID, now)
		if err != nil {
			return ir.Entity{}, err
		}
		fields = append(fields, df)
	}
	for _, m := range in.Metadata {
		meta, err := e.placeMetadata(ent.Metadata, m)
		if err != nil {
			return ir.Entity{}, err
		}
		ent.Metadata = meta
	}
	edges := make([]ir.Relationship, 0, len(in.Relationships))
	for _, rel := range in.Relationships {
		r, err := e.newRelationship(c, RelationshipInput{
			FromEntityID: ent.ID,
			ToEntityID:   rel.EntityID,
			Type:         rel.Type,
			Data:         rel.Data,
			TaxonomyCode: rel.TaxonomyCode,
		}, now)
		if err != nil {
			return ir.Entity{}, err
		}
		if rel.Inbound {
			r.FromEntityID, r.ToEntityID = r.ToEntityID, r.FromEntityID
		}
		edges = append(edges, r)
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertEntity(ctx, ent); err != nil {
			return storeError("create entity", err)
		}
		for _, df := range fields {
			if err := tx.UpsertField(ctx, df); err != nil {
				return storeError("create entity: field "+df.FieldName, err)
			}
		}
		for _, r := range edges {
			if _, err := e.linkTx(ctx, tx.Queries, sc, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ir.Entity{}, err
	}

	e.logger.Info("entity created",
		"organization_id", ent.OrganizationID,
		"entity_id", ent.ID,
		"entity_type", ent.EntityType,
		"fields", len(fields),
		"relationships", len(edges),
	)
	return ent, nil
}

// GetEntity reads one entity visible to the caller.
func (e *Engine) GetEntity(ctx context.Context, c Caller, id string) (ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Entity{}, err
	}
	return readableEntity(ctx, e.store.Queries, sc, id)
}

// ReadEntities returns entities matching f in the caller's organization,
// plus the platform organization when f.IncludePlatform is set.
func (e *Engine) ReadEntities(ctx context.Context, c Caller, f EntityFilter) ([]ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	sel := queryir.Select{
		Filter:  queryir.AndOf(sc.filter(f.IncludePlatform), f.predicate()),
		OrderBy: f.OrderBy,
		Limit:   f.Limit,
	}
	ents, err := e.store.QueryEntities(ctx, sel)
	if err != nil {
		return nil, validationError(CodeInvalidRequest, "read entities: %v", err)
	}
	return ents, nil
}

// UpdateEntity applies p to an active entity of the caller's organization.
func (e *Engine) UpdateEntity(ctx context.Context, c Caller, p EntityPatch) (ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Entity{}, err
	}
	if err := e.checkStruct(p); err != nil {
		return ir.Entity{}, err
	}

	var out ir.Entity
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ent, err := writableEntity(ctx, tx.Queries, sc, p.ID)
		if err != nil {
			return err
		}
		if p.OrganizationID != nil && *p.OrganizationID != ent.OrganizationID {
			return immutable("organization_id")
		}
		if p.EntityType != nil && *p.EntityType != ent.EntityType {
			return immutable("entity_type")
		}
		if p.Name != nil {
			if *p.Name == "" {
				return validationError(CodeInvalidRequest, "entity name cannot be empty")
			}
			ent.Name = *p.Name
		}
		if p.Code != nil {
			ent.Code = *p.Code
		}
		if p.TaxonomyCode != nil {
			code, err := checkTaxonomy("entity", *p.TaxonomyCode)
			if err != nil {
				return err
			}
			if code != ent.TaxonomyCode {
				return immutable("taxonomy_code")
			}
		}
		ent.UpdatedBy = c.ActorID
		ent.UpdatedAt = e.clock.Now()
		if err := tx.UpdateEntity(ctx, ent); err != nil {
			return storeError("update entity", err)
		}
		out = ent
		return nil
	})
	return out, err
}

// DeactivateEntity marks an entity inactive. Entities are never deleted.
// Deactivating an inactive entity is a no-op.
func (e *Engine) DeactivateEntity(ctx context.Context, c Caller, id string) (ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Entity{}, err
	}

	var out ir.Entity
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ent, err := readableEntity(ctx, tx.Queries, sc, id)
		if err != nil {
			return err
		}
		if !sc.writable(ent.OrganizationID) {
			return crossOrg("entity", id)
		}
		if ent.IsActive() {
			ent.Status = ir.StatusInactive
			ent.UpdatedBy = c.ActorID
			ent.UpdatedAt = e.clock.Now()
			if err := tx.UpdateEntity(ctx, ent); err != nil {
				return storeError("deactivate entity", err)
			}
		}
		out = ent
		return nil
	})
	if err == nil {
		e.logger.Info("entity deactivated", "organization_id", out.OrganizationID, "entity_id", out.ID)
	}
	return out, err
}

// SetField upserts one dynamic field after the placement policy accepts
// the name. A field's type is fixed by its first write.
func (e *Engine) SetField(ctx context.Context, c Caller, entityID string, f FieldInput) (ir.DynamicField, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.DynamicField{}, err
	}
	if err := e.checkStruct(f); err != nil {
		return ir.DynamicField{}, err
	}

	var out ir.DynamicField
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ent, err := writableEntity(ctx, tx.Queries, sc, entityID)
		if err != nil {
			return err
		}
		df, err := e.dynamicField(ent, f, c.ActorID, e.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpsertField(ctx, df); err != nil {
			return storeError("set field "+df.FieldName, err)
		}
		out = df
		return nil
	})
	return out, err
}

// GetFields lists an entity's dynamic fields by name.
func (e *Engine) GetFields(ctx context.Context, c Caller, entityID string) ([]ir.DynamicField, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	ent, err := readableEntity(ctx, e.store.Queries, sc, entityID)
	if err != nil {
		return nil, err
	}
	fields, err := e.store.ListFields(ctx, ent.OrganizationID, ent.ID)
	if err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}
	return fields, nil
}

// SetMetadata writes one value into metadata[category][name]. The
// category must be allow-listed and the name must not be a business fact
// or lifecycle state.
func (e *Engine) SetMetadata(ctx context.Context, c Caller, entityID string, m MetadataInput) (ir.Entity, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Entity{}, err
	}
	if err := e.checkStruct(m); err != nil {
		return ir.Entity{}, err
	}

	var out ir.Entity
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		ent, err := writableEntity(ctx, tx.Queries, sc, entityID)
		if err != nil {
			return err
		}
		meta, err := e.placeMetadata(ent.Metadata, m)
		if err != nil {
			return err
		}
		ent.Metadata = meta
		ent.UpdatedBy = c.ActorID
		ent.UpdatedAt = e.clock.Now()
		if err := tx.UpdateEntity(ctx, ent); err != nil {
			return storeError("set metadata", err)
		}
		out = ent
		return nil
	})
	return out, err
}

// dynamicField routes a field write through placement and shape checks.
func (e *Engine) dynamicField(ent ir.Entity, f FieldInput, actor string, at time.Time) (ir.DynamicField, error) {
	d := e.placement.Propose(f.Name, nil)
	if !d.Allowed() {
		return ir.DynamicField{}, placementError(d)
	}
	if err := f.Value.Validate(); err != nil {
		return ir.DynamicField{}, validationError(CodeInvalidField, "field %s: %v", d.Field, err).With("field", d.Field)
	}
	code, err := checkTaxonomy("field "+d.Field, f.TaxonomyCode)
	if err != nil {
		return ir.DynamicField{}, err
	}
	return ir.DynamicField{
		OrganizationID: ent.OrganizationID,
		EntityID:       ent.ID,
		FieldName:      d.Field,
		Value:          f.Value,
		TaxonomyCode:   code,
		UpdatedBy:      actor,
		UpdatedAt:      at,
	}, nil
}

// placeMetadata returns meta with m stored under its category.
func (e *Engine) placeMetadata(meta ir.Object, m MetadataInput) (ir.Object, error) {
	d := e.placement.Propose(m.Name, map[string]any{placement.CategoryKey: m.Category})
	if d.Placement != placement.Metadata {
		return nil, placementError(d)
	}
	return meta.Merge(ir.Object{d.Category: ir.Object{d.Field: m.Value}}), nil
}

func placementError(d placement.Decision) *Error {
	reason := d.Reason
	if d.Placement == placement.DynamicField {
		reason = fmt.Sprintf("%s and cannot be stored as metadata", d.Reason)
	}
	return validationError(CodeInvalidField, "%s", reason).
		remedy(d.Remediation).
		With("field", d.Field).
		With("rule", d.Rule)
}

func immutable(column string) *Error {
	return validationError(CodeImmutableField, "%s cannot be changed", column).
		remedy("create a new record instead").
		With("field", column)
}

func crossOrg(what, id string) *Error {
	return newError(KindScope, CodeCrossOrganization, "%s %s belongs to another organization and is read-only", what, id).
		remedy("write only records of the caller's organization").
		With("id", id)
}

// readableEntity loads id and hides records outside the caller's scope.
func readableEntity(ctx context.Context, q store.Queries, sc scope, id string) (ir.Entity, error) {
	ent, err := q.GetEntity(ctx, id)
	if store.IsNotFound(err) || (err == nil && !sc.readable(ent.OrganizationID)) {
		return ir.Entity{}, notFound("entity", id)
	}
	if err != nil {
		return ir.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return ent, nil
}

// writableEntity loads an active entity of the caller's organization.
func writableEntity(ctx context.Context, q store.Queries, sc scope, id string) (ir.Entity, error) {
	ent, err := readableEntity(ctx, q, sc, id)
	if err != nil {
		return ir.Entity{}, err
	}
	if !sc.writable(ent.OrganizationID) {
		return ir.Entity{}, crossOrg("entity", id)
	}
	if !ent.IsActive() {
		return ir.Entity{}, stateError(CodeInactiveRecord, "entity %s is inactive", id).
			remedy("inactive entities are read-only; create a new entity").
			With("id", id)
	}
	return ent, nil
}
