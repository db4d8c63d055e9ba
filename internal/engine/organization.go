package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/store"
)

// OrganizationInput describes a new tenant.
type OrganizationInput struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string `json:"name" yaml:"name" validate:"required"`
	Code         string `json:"code" yaml:"code" validate:"required"`
	Industry     string `json:"industry,omitempty" yaml:"industry,omitempty"`
	TaxonomyCode string `json:"taxonomy_code" yaml:"taxonomy_code" validate:"required"`
}

// CreateOrganization registers a tenant. It is the bootstrap operation:
// there is no organization to scope it to yet, so only actorID is
// recorded. Granting the actor membership is the identity provider's job.
func (e *Engine) CreateOrganization(ctx context.Context, actorID string, in OrganizationInput) (ir.Organization, error) {
	if actorID == "" {
		return ir.Organization{}, validationError(CodeInvalidRequest, "actor id is required")
	}
	if err := e.checkStruct(in); err != nil {
		return ir.Organization{}, err
	}
	code, err := checkTaxonomy("organization", in.TaxonomyCode)
	if err != nil {
		return ir.Organization{}, err
	}

	org := ir.Organization{
		ID:           in.ID,
		Name:         in.Name,
		Code:         in.Code,
		Industry:     in.Industry,
		TaxonomyCode: code,
		Status:       ir.StatusActive,
		CreatedAt:    e.clock.Now(),
	}
	if org.ID == "" {
		org.ID = e.ids.Generate()
	}
	if err := e.store.InsertOrganization(ctx, org); err != nil {
		return ir.Organization{}, storeError("create organization", err)
	}

	e.logger.Info("organization created",
		"organization_id", org.ID,
		"code", org.Code,
		"actor", actorID,
	)
	return org, nil
}

// GetOrganization reads one organization visible to the caller.
func (e *Engine) GetOrganization(ctx context.Context, c Caller, id string) (ir.Organization, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return ir.Organization{}, err
	}
	if !sc.readable(id) {
		return ir.Organization{}, notFound("organization", id)
	}
	org, err := e.store.GetOrganization(ctx, id)
	if store.IsNotFound(err) {
		return ir.Organization{}, notFound("organization", id)
	}
	if err != nil {
		return ir.Organization{}, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations returns the organizations the caller may read: its
// own and the platform organization.
func (e *Engine) ListOrganizations(ctx context.Context, c Caller) ([]ir.Organization, error) {
	sc, err := e.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	all, err := e.store.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	out := []ir.Organization{}
	for _, org := range all {
		if sc.readable(org.ID) {
			out = append(out, org)
		}
	}
	return out, nil
}

// industryOf returns the industry of orgID, or "" when it has none.
func industryOf(ctx context.Context, q store.Queries, orgID string) (string, error) {
	org, err := q.GetOrganization(ctx, orgID)
	if store.IsNotFound(err) {
		return "", notFound("organization", orgID)
	}
	if err != nil {
		return "", fmt.Errorf("get organization: %w", err)
	}
	return org.Industry, nil
}
