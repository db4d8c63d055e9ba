package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/store"
)

const (
	platformOrg = "org-platform"
	orgA        = "org-a"
	orgB        = "org-b"
)

var testTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

var (
	callerA        = Caller{OrganizationID: orgA, ActorID: "actor-a"}
	callerB        = Caller{OrganizationID: orgB, ActorID: "actor-b"}
	callerPlatform = Caller{OrganizationID: platformOrg, ActorID: "actor-ops"}
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	e     *Engine
	store *store.Store
}

// newTestEngine opens a fresh store and creates the platform org plus
// two tenants. orgA is a retail tenant.
func newTestEngine(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hera.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	identity := StaticIdentity{
		"actor-a":   {orgA},
		"actor-b":   {orgB},
		"actor-ops": {platformOrg},
	}
	base := []EngineOption{
		WithIDs(NewSequenceGenerator("id")),
		WithClock(NewStepClock(testTime, time.Second)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPlatformOrg(platformOrg),
	}
	e := New(s, identity, append(base, opts...)...)

	f := &fixture{t: t, ctx: context.Background(), e: e, store: s}
	for _, org := range []OrganizationInput{
		{ID: platformOrg, Name: "Platform", Code: "PLATFORM", TaxonomyCode: "HERA.PLATFORM.ORG.PLATFORM.V1"},
		{ID: orgA, Name: "Tenant A", Code: "TENANT-A", Industry: "retail", TaxonomyCode: "HERA.PLATFORM.ORG.TENANT.V1"},
		{ID: orgB, Name: "Tenant B", Code: "TENANT-B", Industry: "salon", TaxonomyCode: "HERA.PLATFORM.ORG.TENANT.V1"},
	} {
		_, err := e.CreateOrganization(f.ctx, "actor-ops", org)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) entity(c Caller, entityType, code string) ir.Entity {
	f.t.Helper()
	ent, err := f.e.CreateEntity(f.ctx, c, EntityInput{
		EntityType:   entityType,
		Name:         entityType + " " + code,
		Code:         code,
		TaxonomyCode: "HERA.CORE.ENTITY." + entityType + ".V1",
	})
	require.NoError(f.t, err)
	return ent
}

func (f *fixture) link(c Caller, relType string, from, to ir.Entity, data ir.Object) (ir.Relationship, error) {
	return f.e.CreateRelationship(f.ctx, c, RelationshipInput{
		FromEntityID: from.ID,
		ToEntityID:   to.ID,
		Type:         relType,
		Data:         data,
		TaxonomyCode: "HERA.CORE.REL.EDGE.V1",
	})
}

func (f *fixture) status(c Caller, ent, status ir.Entity, dim string) (ir.Relationship, error) {
	return f.e.TransitionStatus(f.ctx, c, StatusInput{
		EntityID:       ent.ID,
		Dimension:      dim,
		StatusEntityID: status.ID,
		TaxonomyCode:   "HERA.CORE.REL.STATUS.V1",
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func glLine(side ir.Side, amount string) LineInput {
	code := "HERA.FIN.GL.LINE.DR.V1"
	if side == ir.Credit {
		code = "HERA.FIN.GL.LINE.CR.V1"
	}
	return LineInput{LineType: "GL", LineAmount: dec(amount), Side: side, TaxonomyCode: code}
}

func journalInput(code string, lines ...LineInput) TransactionInput {
	return TransactionInput{
		TransactionType: "JOURNAL",
		Code:            code,
		TaxonomyCode:    "HERA.FIN.TXN.JOURNAL.V1",
		TransactionDate: testTime,
		Currency:        "USD",
		Lines:           lines,
	}
}

func requireKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
	require.Equal(t, code, CodeOf(err), "error: %v", err)
}
