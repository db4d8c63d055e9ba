package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/store"
)

// RelationshipInput describes one edge.
type RelationshipInput struct {
	FromEntityID string    `json:"from_entity_id" yaml:"from_entity_id" validate:"required"`
	ToEntityID   string    `json:"to_entity_id" yaml:"to_entity_id" validate:"required"`
	Type         string    `json:"relationship_type" yaml:"relationship_type" validate:"required"`
	Data         ir.Object `json:"relationship_data,omitempty" yaml:"relationship_data,omitempty"`
	TaxonomyCode string    `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
}

// RelationshipFilter selects edges. Inactive edges are included only with
// IncludeInactive.
type RelationshipFilter struct {
	IDs             []string          `json:"ids,omitempty" yaml:"ids,omitempty"`
	FromEntityID    string            `json:"from_entity_id,omitempty" yaml:"from_entity_id,omitempty"`
	ToEntityID      string            `json:"to_entity_id,omitempty" yaml:"to_entity_id,omitempty"`
	Type            string            `json:"relationship_type,omitempty" yaml:"relationship_type,omitempty"`
	IncludeInactive bool              `json:"include_inactive,omitempty" yaml:"include_inactive,omitempty"`
	IncludePlatform bool              `json:"include_platform,omitempty" yaml:"include_platform,omitempty"`
	Where           queryir.Predicate `json:"-" yaml:"-"`
	Limit           int               `json:"limit,omitempty" yaml:"limit,omitempty"`
}

func (f RelationshipFilter) predicate() queryir.Predicate {
	var preds []queryir.Predicate
	if len(f.IDs) > 0 {
		preds = append(preds, queryir.In{Field: "id", Values: queryir.Strings(f.IDs...)})
	}
	if f.FromEntityID != "" {
		preds = append(preds, queryir.Equals{Field: "from_entity_id", Value: ir.String(f.FromEntityID)})
	}
	if f.ToEntityID != "" {
		preds = append(preds, queryir.Equals{Field: "to_entity_id", Value: ir.String(f.ToEntityID)})
	}
	if f.Type != "" {
		preds = append(preds, queryir.Equals{Field: "relationship_type", Value: ir.String(f.Type)})
	}
	if !f.IncludeInactive {
		preds = append(preds, activeOnly)
	}
	preds = append(preds, f.Where)
	return queryir.AndOf(preds...)
}

var activeOnly = queryir.Equals{Field: "is_active", Value: ir.Bool(true)}

// CreateRelationship adds an edge. has_status edges are status
// transitions; parent_of edges are checked for cycles and a second
// parent; any other type updates the data of an existing active edge
// between the same pair.
func (e *Engine) CreateRelationship(ctx context.Context, c Caller, in RelationshipInput) (ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Relationship{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return ir.Relationship{}, err
	}
	r, err := e.newRelationship(c, in, e.clock.Now())
	if err != nil {
		return ir.Relationship{}, err
	}
	if r.RelationshipType == ir.RelHasStatus {
		defer e.locks.Lock(statusKey(c.OrganizationID, r.FromEntityID, r.StatusDimension()))()
	}

	var out ir.Relationship
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		out, err = e.linkTx(ctx, tx.Queries, sc, r)
		return err
	})
	if err != nil {
		return ir.Relationship{}, err
	}
	e.logger.Info("relationship created",
		"organization_id", out.OrganizationID,
		"relationship_id", out.ID,
		"relationship_type", out.RelationshipType,
	)
	return out, nil
}

// DeactivateRelationship retires an active edge of the caller's
// organization.
func (e *Engine) DeactivateRelationship(ctx context.Context, c Caller, id string) (ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Relationship{}, err
	}

	var out ir.Relationship
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		old, err := writableRelationship(ctx, tx.Queries, sc, id)
		if err != nil {
			return err
		}
		out, err = e.retireTx(ctx, tx.Queries, old, c.ActorID)
		return err
	})
	return out, err
}

// SupersedeRelationship retires edge id and creates in as its
// replacement in one unit. The replacement records the edge it replaces
// in relationship_data.supersedes.
func (e *Engine) SupersedeRelationship(ctx context.Context, c Caller, id string, in RelationshipInput) (ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Relationship{}, err
	}
	if err := e.checkStruct(in); err != nil {
		return ir.Relationship{}, err
	}
	r, err := e.newRelationship(c, in, e.clock.Now())
	if err != nil {
		return ir.Relationship{}, err
	}
	r.Data = r.Data.Merge(ir.Object{"supersedes": ir.String(id)})
	if r.RelationshipType == ir.RelHasStatus {
		defer e.locks.Lock(statusKey(c.OrganizationID, r.FromEntityID, r.StatusDimension()))()
	}

	var out ir.Relationship
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		old, err := writableRelationship(ctx, tx.Queries, sc, id)
		if err != nil {
			return err
		}
		if _, err := e.retireTx(ctx, tx.Queries, old, c.ActorID); err != nil {
			return err
		}
		out, err = e.linkTx(ctx, tx.Queries, sc, r)
		return err
	})
	if err != nil {
		return ir.Relationship{}, err
	}
	e.logger.Info("relationship superseded", "old_id", id, "new_id", out.ID)
	return out, nil
}

// GetRelationship reads one edge visible to the caller.
func (e *Engine) GetRelationship(ctx context.Context, c Caller, id string) (ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Relationship{}, err
	}
	return readableRelationship(ctx, e.store.Queries, sc, id)
}

// ReadRelationships returns edges matching f in the caller's scope.
func (e *Engine) ReadRelationships(ctx context.Context, c Caller, f RelationshipFilter) ([]ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	rels, err := e.store.QueryRelationships(ctx, queryir.Select{
		Filter: queryir.AndOf(sc.filter(f.IncludePlatform), f.predicate()),
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, validationError(CodeInvalidRequest, "read relationships: %v", err)
	}
	return rels, nil
}

// newRelationship validates in and builds the row to insert.
func (e *Engine) newRelationship(c Caller, in RelationshipInput, now time.Time) (ir.Relationship, error) {
	if err := e.kinds.CheckRelationshipKind(c.OrganizationID, in.Type); err != nil {
		return ir.Relationship{}, err
	}
	code, err := checkTaxonomy("relationship", in.TaxonomyCode)
	if err != nil {
		return ir.Relationship{}, err
	}
	data := in.Data.Clone()
	if data == nil {
		data = ir.Object{}
	}
	r := ir.Relationship{
		ID:               e.ids.Generate(),
		OrganizationID:   c.OrganizationID,
		FromEntityID:     in.FromEntityID,
		ToEntityID:       in.ToEntityID,
		RelationshipType: in.Type,
		Data:             data,
		TaxonomyCode:     code,
		IsActive:         true,
		CreatedBy:        c.ActorID,
		CreatedAt:        now,
		UpdatedBy:        c.ActorID,
		UpdatedAt:        now,
	}
	if r.RelationshipType == ir.RelHasStatus {
		r.Data[ir.DataStatusDimension] = ir.String(r.StatusDimension())
	}
	return r, nil
}

// linkTx writes r inside an open transaction. The from entity must belong
// to the caller's organization. It takes no locks; callers that write
// has_status edges hold the status key already.
func (e *Engine) linkTx(ctx context.Context, q store.Queries, sc scope, r ir.Relationship) (ir.Relationship, error) {
	from, err := readableEntity(ctx, q, sc, r.FromEntityID)
	if err != nil {
		return ir.Relationship{}, err
	}
	// platform entities are edge targets only
	if !sc.writable(from.OrganizationID) {
		return ir.Relationship{}, crossOrg("entity", from.ID)
	}
	to, err := readableEntity(ctx, q, sc, r.ToEntityID)
	if err != nil {
		return ir.Relationship{}, err
	}
	for _, ent := range []ir.Entity{from, to} {
		if !ent.IsActive() {
			return ir.Relationship{}, stateError(CodeInactiveRecord, "entity %s is inactive", ent.ID).
				remedy("edges can only connect active entities").
				With("id", ent.ID)
		}
	}

	switch r.RelationshipType {
	case ir.RelHasStatus:
		return e.transitionTx(ctx, q, sc, from, to, r)
	case ir.RelParentOf:
		return e.parentTx(ctx, q, sc, r)
	}

	existing, err := q.FindActiveEdge(ctx, r.OrganizationID, r.FromEntityID, r.ToEntityID, r.RelationshipType)
	switch {
	case err == nil:
		return e.refreshTx(ctx, q, existing, r)
	case !store.IsNotFound(err):
		return ir.Relationship{}, fmt.Errorf("find edge: %w", err)
	}
	if err := q.InsertRelationship(ctx, r); err != nil {
		return ir.Relationship{}, storeError("create relationship", err)
	}
	return r, nil
}

// parentTx inserts a parent_of edge after the hierarchy checks.
func (e *Engine) parentTx(ctx context.Context, q store.Queries, sc scope, r ir.Relationship) (ir.Relationship, error) {
	parent, child := r.FromEntityID, r.ToEntityID
	if parent == child {
		return ir.Relationship{}, cycleError([]string{parent, child})
	}

	// walk up from the parent; reaching the child means a cycle
	path := []string{child, parent}
	seen := map[string]bool{parent: true}
	for cur := parent; ; {
		up, ok, err := activeParent(ctx, q, sc, cur)
		if err != nil {
			return ir.Relationship{}, err
		}
		if !ok {
			break
		}
		path = append(path, up.FromEntityID)
		if up.FromEntityID == child {
			return ir.Relationship{}, cycleError(path)
		}
		if seen[up.FromEntityID] {
			return ir.Relationship{}, integrityError(CodeHierarchyCycle,
				"existing hierarchy above %s already contains a cycle", parent).
				remedy("run the integrity check and repair the hierarchy")
		}
		seen[up.FromEntityID] = true
		cur = up.FromEntityID
	}

	existing, ok, err := activeParent(ctx, q, sc, child)
	if err != nil {
		return ir.Relationship{}, err
	}
	if ok {
		if existing.FromEntityID != parent {
			return ir.Relationship{}, validationError(CodeMultipleParents,
				"entity %s already has parent %s", child, existing.FromEntityID).
				remedy("supersede the existing parent_of edge instead").
				With("existing_relationship_id", existing.ID)
		}
		return e.refreshTx(ctx, q, existing, r)
	}
	if err := q.InsertRelationship(ctx, r); err != nil {
		return ir.Relationship{}, storeError("create relationship", err)
	}
	return r, nil
}

// refreshTx replaces the data of an existing active edge with r's.
func (e *Engine) refreshTx(ctx context.Context, q store.Queries, existing, r ir.Relationship) (ir.Relationship, error) {
	if err := q.UpdateRelationshipData(ctx, existing.ID, r.Data, r.UpdatedBy, r.UpdatedAt); err != nil {
		return ir.Relationship{}, storeError("update relationship", err)
	}
	existing.Data = r.Data
	existing.UpdatedBy = r.UpdatedBy
	existing.UpdatedAt = r.UpdatedAt
	return existing, nil
}

// retireTx deactivates old and returns it as stored.
func (e *Engine) retireTx(ctx context.Context, q store.Queries, old ir.Relationship, actor string) (ir.Relationship, error) {
	now := e.clock.Now()
	if err := q.DeactivateRelationship(ctx, old.ID, actor, now); err != nil {
		return ir.Relationship{}, storeError("deactivate relationship", err)
	}
	old.IsActive = false
	old.Expiration = &now
	old.UpdatedBy = actor
	old.UpdatedAt = now
	return old, nil
}

// activeParent returns the active parent_of edge pointing at child.
func activeParent(ctx context.Context, q store.Queries, sc scope, child string) (ir.Relationship, bool, error) {
	rels, err := q.QueryRelationships(ctx, queryir.Select{
		Filter: queryir.AndOf(
			sc.filter(true),
			queryir.Equals{Field: "to_entity_id", Value: ir.String(child)},
			queryir.Equals{Field: "relationship_type", Value: ir.String(ir.RelParentOf)},
			activeOnly,
		),
	})
	if err != nil {
		return ir.Relationship{}, false, fmt.Errorf("find parent of %s: %w", child, err)
	}
	if len(rels) > 1 {
		return ir.Relationship{}, false, integrityError(CodeMultipleParents,
			"entity %s has %d active parents", child, len(rels)).
			remedy("run the integrity check and repair the hierarchy")
	}
	if len(rels) == 0 {
		return ir.Relationship{}, false, nil
	}
	return rels[0], true, nil
}

func cycleError(path []string) *Error {
	return integrityError(CodeHierarchyCycle, "parent_of edge would create a cycle").
		remedy("choose a parent that is not a descendant of the child").
		With("path", fmt.Sprint(path))
}

func readableRelationship(ctx context.Context, q store.Queries, sc scope, id string) (ir.Relationship, error) {
	r, err := q.GetRelationship(ctx, id)
	if store.IsNotFound(err) || (err == nil && !sc.readable(r.OrganizationID)) {
		return ir.Relationship{}, notFound("relationship", id)
	}
	if err != nil {
		return ir.Relationship{}, fmt.Errorf("get relationship: %w", err)
	}
	return r, nil
}

func writableRelationship(ctx context.Context, q store.Queries, sc scope, id string) (ir.Relationship, error) {
	r, err := readableRelationship(ctx, q, sc, id)
	if err != nil {
		return ir.Relationship{}, err
	}
	if !sc.writable(r.OrganizationID) {
		return ir.Relationship{}, crossOrg("relationship", id)
	}
	if !r.IsActive {
		return ir.Relationship{}, stateError(CodeInactiveRecord, "relationship %s is inactive", id).
			remedy("inactive edges are history; create a new edge").
			With("id", id)
	}
	return r, nil
}
