package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/store"
)

// DataPreviousStatus records, on a has_status edge, the status entity it
// replaced.
const DataPreviousStatus = "previous_status_id"

// StatusInput moves an entity to a status within one dimension. An empty
// Dimension means ir.DefaultStatusDimension.
type StatusInput struct {
	EntityID       string    `json:"entity_id" yaml:"entity_id" validate:"required"`
	Dimension      string    `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	StatusEntityID string    `json:"status_entity_id" yaml:"status_entity_id" validate:"required"`
	TaxonomyCode   string    `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
	Data           ir.Object `json:"data,omitempty" yaml:"data,omitempty"`
}

// TransitionStatus retires the entity's active has_status edge in the
// dimension, if any, and inserts one to the new status entity. Moving to
// the current status is a no-op that returns the existing edge.
//
// Transitions are serialized per (entity, dimension).
func (e *Engine) TransitionStatus(ctx context.Context, c Caller, in StatusInput) (ir.Relationship, error) {
	if err := e.checkStruct(in); err != nil {
		return ir.Relationship{}, err
	}
	dim := in.Dimension
	if dim == "" {
		dim = ir.DefaultStatusDimension
	}
	return e.CreateRelationship(ctx, c, RelationshipInput{
		FromEntityID: in.EntityID,
		ToEntityID:   in.StatusEntityID,
		Type:         ir.RelHasStatus,
		Data:         in.Data.Merge(ir.Object{ir.DataStatusDimension: ir.String(dim)}),
		TaxonomyCode: in.TaxonomyCode,
	})
}

// CurrentStatus returns the single active has_status edge of entityID in
// dim. Two active edges are reported, never resolved.
func (e *Engine) CurrentStatus(ctx context.Context, c Caller, entityID, dim string) (ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Relationship{}, err
	}
	if dim == "" {
		dim = ir.DefaultStatusDimension
	}
	if _, err := readableEntity(ctx, e.store.Queries, sc, entityID); err != nil {
		return ir.Relationship{}, err
	}
	active, err := statusEdges(ctx, e.store.Queries, sc, entityID, dim, true)
	if err != nil {
		return ir.Relationship{}, err
	}
	switch len(active) {
	case 0:
		return ir.Relationship{}, newError(KindNotFound, CodeNoStatus,
			"entity %s has no active status in dimension %s", entityID, dim).
			With("dimension", dim)
	case 1:
		return active[0], nil
	}
	return ir.Relationship{}, multipleStatus(entityID, dim, len(active))
}

// StatusHistory returns every has_status edge of entityID in dim, oldest
// first.
func (e *Engine) StatusHistory(ctx context.Context, c Caller, entityID, dim string) ([]ir.Relationship, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	if dim == "" {
		dim = ir.DefaultStatusDimension
	}
	if _, err := readableEntity(ctx, e.store.Queries, sc, entityID); err != nil {
		return nil, err
	}
	return statusEdges(ctx, e.store.Queries, sc, entityID, dim, false)
}

// transitionTx is the has_status branch of linkTx.
func (e *Engine) transitionTx(ctx context.Context, q store.Queries, sc scope, from, to ir.Entity, r ir.Relationship) (ir.Relationship, error) {
	if to.EntityType != StatusEntityType {
		return ir.Relationship{}, validationError(CodeNotStatusEntity,
			"has_status must point at a %s entity, %s is %s", StatusEntityType, to.ID, to.EntityType).
			remedy("create a STATUS entity for the state and transition to it")
	}

	dim := r.StatusDimension()
	active, err := statusEdges(ctx, q, sc, from.ID, dim, true)
	if err != nil {
		return ir.Relationship{}, err
	}
	if len(active) > 1 {
		return ir.Relationship{}, multipleStatus(from.ID, dim, len(active))
	}
	if len(active) == 1 {
		cur := active[0]
		if cur.ToEntityID == to.ID {
			return cur, nil
		}
		if _, err := e.retireTx(ctx, q, cur, r.CreatedBy); err != nil {
			return ir.Relationship{}, err
		}
		r.Data[DataPreviousStatus] = ir.String(cur.ToEntityID)
	}

	if err := q.InsertRelationship(ctx, r); err != nil {
		return ir.Relationship{}, storeError("transition status", err)
	}
	e.logger.Debug("status transitioned",
		"entity_id", from.ID,
		"dimension", dim,
		"status_entity_id", to.ID,
	)
	return r, nil
}

// statusEdges lists has_status edges of entityID in dim.
func statusEdges(ctx context.Context, q store.Queries, sc scope, entityID, dim string, activeOnlyEdges bool) ([]ir.Relationship, error) {
	preds := []queryir.Predicate{
		sc.filter(true),
		queryir.Equals{Field: "from_entity_id", Value: ir.String(entityID)},
		queryir.Equals{Field: "relationship_type", Value: ir.String(ir.RelHasStatus)},
	}
	if activeOnlyEdges {
		preds = append(preds, activeOnly)
	}
	rels, err := q.QueryRelationships(ctx, queryir.Select{
		Filter:  queryir.AndOf(preds...),
		OrderBy: []queryir.Order{{Field: "created_at"}},
	})
	if err != nil {
		return nil, fmt.Errorf("status edges of %s: %w", entityID, err)
	}
	out := rels[:0]
	for _, r := range rels {
		if r.StatusDimension() == dim {
			out = append(out, r)
		}
	}
	return out, nil
}

func multipleStatus(entityID, dim string, n int) *Error {
	return integrityError(CodeMultipleStatus,
		"entity %s has %d active statuses in dimension %s", entityID, n, dim).
		remedy("run the integrity check; deactivate all but one edge by hand").
		With("dimension", dim)
}

func statusKey(orgID, entityID, dim string) string {
	return "status:" + orgID + ":" + entityID + ":" + dim
}
