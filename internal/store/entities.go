package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/querysql"
)

// InsertEntity writes a new entity row. A duplicate code within
// (organization, entity_type) fails with ErrUniqueViolation.
func (q Queries) InsertEntity(ctx context.Context, e ir.Entity) error {
	meta, err := marshalObject(e.Metadata)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO core_entities
		(id, organization_id, entity_type, entity_name, entity_code, taxonomy_code, status,
		 metadata, created_by, created_at, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.OrganizationID,
		e.EntityType,
		e.Name,
		nullString(e.Code),
		e.TaxonomyCode,
		string(e.Status),
		meta,
		e.CreatedBy,
		formatTime(e.CreatedAt),
		e.UpdatedBy,
		formatTime(e.UpdatedAt),
	)
	return classify("insert entity", err)
}

// UpdateEntity rewrites the mutable columns of an existing entity. The row
// is matched on both id and organization_id, so neither can change.
func (q Queries) UpdateEntity(ctx context.Context, e ir.Entity) error {
	meta, err := marshalObject(e.Metadata)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}

	res, err := q.q.ExecContext(ctx, `
		UPDATE core_entities
		SET entity_name = ?, entity_code = ?, taxonomy_code = ?, status = ?,
		    metadata = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`,
		e.Name,
		nullString(e.Code),
		e.TaxonomyCode,
		string(e.Status),
		meta,
		e.UpdatedBy,
		formatTime(e.UpdatedAt),
		e.ID,
		e.OrganizationID,
	)
	if err != nil {
		return classify("update entity", err)
	}
	return expectOneRow("update entity", res)
}

// GetEntity reads one entity by id.
func (q Queries) GetEntity(ctx context.Context, id string) (ir.Entity, error) {
	e, err := queryOne(ctx, q, querysql.TableEntities, eq("id", id), scanEntity)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("get entity %s: %w", id, err)
	}
	return e, nil
}

// FindEntityByCode reads the entity with the given code in one
// organization and type.
func (q Queries) FindEntityByCode(ctx context.Context, orgID, entityType, code string) (ir.Entity, error) {
	filter := queryir.AndOf(
		eq("organization_id", orgID),
		eq("entity_type", entityType),
		eq("entity_code", code),
	)
	e, err := queryOne(ctx, q, querysql.TableEntities, filter, scanEntity)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("find %s %q: %w", entityType, code, err)
	}
	return e, nil
}

// QueryEntities runs a filtered read over core_entities.
func (q Queries) QueryEntities(ctx context.Context, sel queryir.Select) ([]ir.Entity, error) {
	return queryAll(ctx, q, querysql.TableEntities, sel, scanEntity)
}

func scanEntity(row scanner) (ir.Entity, error) {
	var (
		e         ir.Entity
		code      sql.NullString
		status    string
		meta      string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.EntityType,
		&e.Name,
		&code,
		&e.TaxonomyCode,
		&status,
		&meta,
		&e.CreatedBy,
		&createdAt,
		&e.UpdatedBy,
		&updatedAt,
	); err != nil {
		return ir.Entity{}, err
	}
	e.Code = code.String
	e.Status = ir.RecordStatus(status)

	var err error
	if e.Metadata, err = unmarshalObject(meta); err != nil {
		return ir.Entity{}, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Entity{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ir.Entity{}, err
	}
	return e, nil
}

func expectOneRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
