package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
)

var testTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// setupTestStore opens a fresh database under t.TempDir.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedOrg(t *testing.T, s *Store, id string) ir.Organization {
	t.Helper()
	org := ir.Organization{
		ID:           id,
		Name:         "Org " + id,
		Code:         "ORG-" + id,
		Industry:     "salon",
		TaxonomyCode: "HERA.PLATFORM.ORG.TENANT.V1",
		Status:       ir.StatusActive,
		CreatedAt:    testTime,
	}
	require.NoError(t, s.InsertOrganization(context.Background(), org))
	return org
}

func testEntity(orgID, id, entityType, code string) ir.Entity {
	return ir.Entity{
		ID:             id,
		OrganizationID: orgID,
		EntityType:     entityType,
		Name:           fmt.Sprintf("%s %s", entityType, id),
		Code:           code,
		TaxonomyCode:   "HERA.CRM.ENTITY." + entityType + ".V1",
		Status:         ir.StatusActive,
		Metadata:       ir.Object{},
		CreatedBy:      "actor-1",
		CreatedAt:      testTime,
		UpdatedBy:      "actor-1",
		UpdatedAt:      testTime,
	}
}

func seedEntity(t *testing.T, s *Store, orgID, id, entityType, code string) ir.Entity {
	t.Helper()
	e := testEntity(orgID, id, entityType, code)
	require.NoError(t, s.InsertEntity(context.Background(), e))
	return e
}

func testEdge(orgID, id, from, to, relType string, data ir.Object) ir.Relationship {
	return ir.Relationship{
		ID:               id,
		OrganizationID:   orgID,
		FromEntityID:     from,
		ToEntityID:       to,
		RelationshipType: relType,
		Data:             data,
		TaxonomyCode:     "HERA.CORE.REL.EDGE.V1",
		IsActive:         true,
		CreatedBy:        "actor-1",
		CreatedAt:        testTime,
		UpdatedBy:        "actor-1",
		UpdatedAt:        testTime,
	}
}

func testHeader(orgID, id, code string) ir.TransactionHeader {
	return ir.TransactionHeader{
		ID:              id,
		OrganizationID:  orgID,
		TransactionType: "SALE",
		Code:            code,
		TaxonomyCode:    "HERA.FIN.TXN.SALE.V1",
		TransactionDate: testTime,
		TotalAmount:     decimal.RequireFromString("115.00"),
		Currency:        "USD",
		Status:          ir.TxDraft,
		Payload:         ir.Object{"gross": ir.String("115.00")},
		Metadata:        ir.Object{},
		CreatedBy:       "actor-1",
		CreatedAt:       testTime,
		UpdatedBy:       "actor-1",
		UpdatedAt:       testTime,
	}
}

func testLine(txID string, side ir.Side, amount string) ir.TransactionLine {
	return ir.TransactionLine{
		TransactionID: txID,
		LineType:      "GL",
		Quantity:      decimal.NewFromInt(1),
		UnitAmount:    decimal.RequireFromString(amount),
		LineAmount:    decimal.RequireFromString(amount),
		TaxonomyCode:  "HERA.FIN.GL.LINE.V1",
		Side:          side,
		Data:          ir.Object{},
	}
}
