package store

import (
	"context"
	"fmt"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
	"github.com/roach88/hera/internal/querysql"
)

// InsertOrganization writes a new tenant row.
func (q Queries) InsertOrganization(ctx context.Context, org ir.Organization) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO core_organizations
		(id, organization_name, organization_code, industry, taxonomy_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		org.ID,
		org.Name,
		org.Code,
		org.Industry,
		org.TaxonomyCode,
		string(org.Status),
		formatTime(org.CreatedAt),
	)
	return classify("insert organization", err)
}

// GetOrganization reads one organization by id.
func (q Queries) GetOrganization(ctx context.Context, id string) (ir.Organization, error) {
	org, err := queryOne(ctx, q, querysql.TableOrganizations, eq("id", id), scanOrganization)
	if err != nil {
		return ir.Organization{}, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

// ListOrganizations returns every organization ordered by id.
func (q Queries) ListOrganizations(ctx context.Context) ([]ir.Organization, error) {
	return queryAll(ctx, q, querysql.TableOrganizations, queryir.Select{}, scanOrganization)
}

func scanOrganization(row scanner) (ir.Organization, error) {
	var (
		org       ir.Organization
		status    string
		createdAt string
	)
	if err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Code,
		&org.Industry,
		&org.TaxonomyCode,
		&status,
		&createdAt,
	); err != nil {
		return ir.Organization{}, err
	}
	org.Status = ir.RecordStatus(status)

	var err error
	if org.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.Organization{}, err
	}
	return org, nil
}
