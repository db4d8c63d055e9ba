package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/querysql"
)

// InsertRelationship writes a new edge. The partial unique indexes reject
// a second active status edge per dimension, a second active parent, and a
// second active edge per (from, to, type).
func (q Queries) InsertRelationship(ctx context.Context, r ir.Relationship) error {
	data, err := marshalObject(r.Data)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO core_relationships
		(id, organization_id, from_entity_id, to_entity_id, relationship_type,
		 relationship_data, taxonomy_code, is_active, expiration,
		 created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.OrganizationID,
		r.FromEntityID,
		r.ToEntityID,
		r.RelationshipType,
		data,
		r.TaxonomyCode,
		boolInt(r.IsActive),
		formatNullTime(r.Expiration),
		r.CreatedBy,
		formatTime(r.CreatedAt),
		r.UpdatedBy,
		formatTime(r.UpdatedAt),
	)
	return classify("insert relationship", err)
}

// UpdateRelationshipData replaces relationship_data on an active edge.
func (q Queries) UpdateRelationshipData(ctx context.Context, id string, data ir.Object, by string, at time.Time) error {
	js, err := marshalObject(data)
	if err != nil {
		return fmt.Errorf("update relationship data: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE core_relationships
		SET relationship_data = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`, js, by, formatTime(at), id)
	if err != nil {
		return classify("update relationship data", err)
	}
	return expectOneRow("update relationship data", res)
}

// DeactivateRelationship retires an active edge, stamping its expiration.
// Returns ErrStale when the edge is already inactive.
func (q Queries) DeactivateRelationship(ctx context.Context, id, by string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE core_relationships
		SET is_active = 0, expiration = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_active = 1
	`, formatTime(at), by, formatTime(at), id)
	if err != nil {
		return classify("deactivate relationship", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate relationship: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deactivate relationship %s: %w", id, ErrStale)
	}
	return nil
}

// GetRelationship reads one edge by id.
func (q Queries) GetRelationship(ctx context.Context, id string) (ir.Relationship, error) {
	r, err := queryOne(ctx, q, querysql.TableRelationships, eq("id", id), scanRelationship)
	if err != nil {
		return ir.Relationship{}, fmt.Errorf("get relationship %s: %w", id, err)
	}
	return r, nil
}

// FindActiveEdge reads the active edge of one type between two entities.
func (q Queries) FindActiveEdge(ctx context.Context, orgID, fromID, toID, relType string) (ir.Relationship, error) {
	filter := queryir.AndOf(
		eq("organization_id", orgID),
		eq("from_entity_id", fromID),
		eq("to_entity_id", toID),
		eq("relationship_type", relType),
		queryir.Equals{Field: "is_active", Value: ir.Bool(true)},
	)
	r, err := queryOne(ctx, q, querysql.TableRelationships, filter, scanRelationship)
	if err != nil {
		return ir.Relationship{}, fmt.Errorf("find %s edge: %w", relType, err)
	}
	return r, nil
}

// QueryRelationships runs a filtered read over core_relationships.
func (q Queries) QueryRelationships(ctx context.Context, sel queryir.Select) ([]ir.Relationship, error) {
	return queryAll(ctx, q, querysql.TableRelationships, sel, scanRelationship)
}

func scanRelationship(row scanner) (ir.Relationship, error) {
	var (
		r          ir.Relationship
		data       string
		active     int64
		expiration sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&r.ID,
		&r.OrganizationID,
		&r.FromEntityID,
		&r.ToEntityID,
		&r.RelationshipType,
		&data,
		&r.TaxonomyCode,
		&active,
		&expiration,
		&r.CreatedBy,
		&createdAt,
		&r.UpdatedBy,
		&updatedAt,
	); err != nil {
		return ir.Relationship{}, err
	}
	r.IsActive = active == 1

	var err error
	if r.Data, err = unmarshalObject(data); err != nil {
		return ir.Relationship{}, err
	}
	if r.Expiration, err = parseNullTime(expiration); err != nil {
		return ir.Relationship{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Relationship{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.Relationship{}, err
	}
	return r, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
