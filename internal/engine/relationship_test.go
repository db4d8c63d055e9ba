package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hera/internal/ir"
	"github.com/roach88/hera/internal/queryir"
)

// chart builds the account hierarchy 1000000 > 1100000 > 1110000.
func chart(f *fixture) (assets, current, cash ir.Entity) {
	f.t.Helper()
	assets = f.entity(callerA, "ACCOUNT", "1000000")
	current = f.entity(callerA, "ACCOUNT", "1100000")
	cash = f.entity(callerA, "ACCOUNT", "1110000")
	_, err := f.link(callerA, ir.RelParentOf, assets, current, nil)
	require.NoError(f.t, err)
	_, err = f.link(callerA, ir.RelParentOf, current, cash, nil)
	require.NoError(f.t, err)
	return assets, current, cash
}

func TestHierarchy_ThreeLevelsAndCycleRejected(t *testing.T) {
	f := newTestEngine(t)
	assets, current, cash := chart(f)

	forest, err := f.e.BuildHierarchy(f.ctx, callerA, queryir.Equals{Field: "entity_code", Value: ir.String("1000000")})
	require.NoError(t, err)
	require.Len(t, forest, 1)

	var codes []string
	var depths []int
	forest[0].Walk(func(n *HierarchyNode, depth int) {
		codes = append(codes, n.Entity.Code)
		depths = append(depths, depth)
	})
	assert.Equal(t, []string{"1000000", "1100000", "1110000"}, codes)
	assert.Equal(t, []int{0, 1, 2}, depths)
	assert.Nil(t, forest[0].Edge)
	assert.Equal(t, assets.ID, forest[0].Children[0].Edge.FromEntityID)

	_, err = f.link(callerA, ir.RelParentOf, cash, assets, nil)
	requireKind(t, err, KindIntegrity, CodeHierarchyCycle)
	assert.True(t, IsIntegrity(err))

	_, err = f.link(callerA, ir.RelParentOf, current, current, nil)
	requireKind(t, err, KindIntegrity, CodeHierarchyCycle)

	report, err := f.e.CheckIntegrity(f.ctx, callerA)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "%v", report.Findings)
}

func TestHierarchy_SecondParentRejected(t *testing.T) {
	f := newTestEngine(t)
	_, current, cash := chart(f)
	other := f.entity(callerA, "ACCOUNT", "1200000")

	_, err := f.link(callerA, ir.RelParentOf, other, cash, nil)
	requireKind(t, err, KindValidation, CodeMultipleParents)

	// re-adding the same parent updates the edge in place
	edge, err := f.link(callerA, ir.RelParentOf, current, cash, ir.Object{ir.DataSequence: ir.Int(3)})
	require.NoError(t, err)
	seq, ok := edge.Sequence()
	assert.True(t, ok)
	assert.Equal(t, int64(3), seq)

	edges, err := f.e.ReadRelationships(f.ctx, callerA, RelationshipFilter{ToEntityID: cash.ID, Type: ir.RelParentOf})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestHierarchy_SiblingOrder(t *testing.T) {
	f := newTestEngine(t)
	root := f.entity(callerA, "ORG_UNIT", "ROOT")
	b := f.entity(callerA, "ORG_UNIT", "B")
	a := f.entity(callerA, "ORG_UNIT", "A")
	z := f.entity(callerA, "ORG_UNIT", "Z")
	y := f.entity(callerA, "ORG_UNIT", "Y")

	for _, link := range []struct {
		child ir.Entity
		data  ir.Object
	}{
		{b, nil},
		{a, nil},
		{z, ir.Object{ir.DataSequence: ir.Int(1)}},
		{y, ir.Object{ir.DataSequence: ir.Int(2)}},
	} {
		_, err := f.link(callerA, ir.RelParentOf, root, link.child, link.data)
		require.NoError(t, err)
	}

	forest, err := f.e.BuildHierarchy(f.ctx, callerA, queryir.Equals{Field: "entity_code", Value: ir.String("ROOT")})
	require.NoError(t, err)
	require.Len(t, forest, 1)

	var order []string
	for _, c := range forest[0].Children {
		order = append(order, c.Entity.Code)
	}
	assert.Equal(t, []string{"Z", "Y", "A", "B"}, order)
}

func TestRelationship_ReAddUpdatesData(t *testing.T) {
	f := newTestEngine(t)
	cust := f.entity(callerA, "CUSTOMER", "CUST-1")
	group := f.entity(callerA, "ORG_UNIT", "VIP")

	first, err := f.link(callerA, ir.RelMemberOf, cust, group, ir.Object{"tier": ir.String("gold")})
	require.NoError(t, err)
	second, err := f.link(callerA, ir.RelMemberOf, cust, group, ir.Object{"tier": ir.String("platinum")})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	got, err := f.e.GetRelationship(f.ctx, callerA, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.String("platinum"), got.Data["tier"])
}

func TestRelationship_DeactivateAndSupersede(t *testing.T) {
	f := newTestEngine(t)
	cust := f.entity(callerA, "CUSTOMER", "CUST-1")
	gold := f.entity(callerA, "ORG_UNIT", "GOLD")
	plat := f.entity(callerA, "ORG_UNIT", "PLATINUM")

	edge, err := f.link(callerA, ir.RelMemberOf, cust, gold, nil)
	require.NoError(t, err)

	next, err := f.e.SupersedeRelationship(f.ctx, callerA, edge.ID, RelationshipInput{
		FromEntityID: cust.ID,
		ToEntityID:   plat.ID,
		Type:         ir.RelMemberOf,
		TaxonomyCode: "HERA.CORE.REL.EDGE.V1",
	})
	require.NoError(t, err)
	assert.Equal(t, ir.String(edge.ID), next.Data["supersedes"])

	old, err := f.e.GetRelationship(f.ctx, callerA, edge.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.NotNil(t, old.Expiration)

	_, err = f.e.DeactivateRelationship(f.ctx, callerA, edge.ID)
	requireKind(t, err, KindState, CodeInactiveRecord)

	gone, err := f.e.DeactivateRelationship(f.ctx, callerA, next.ID)
	require.NoError(t, err)
	assert.False(t, gone.IsActive)

	active, err := f.e.ReadRelationships(f.ctx, callerA, RelationshipFilter{FromEntityID: cust.ID})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.e.ReadRelationships(f.ctx, callerA, RelationshipFilter{FromEntityID: cust.ID, IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRelationship_SupersedeFailureKeepsOldEdge(t *testing.T) {
	f := newTestEngine(t)
	cust := f.entity(callerA, "CUSTOMER", "CUST-1")
	gold := f.entity(callerA, "ORG_UNIT", "GOLD")
	edge, err := f.link(callerA, ir.RelMemberOf, cust, gold, nil)
	require.NoError(t, err)

	_, err = f.e.SupersedeRelationship(f.ctx, callerA, edge.ID, RelationshipInput{
		FromEntityID: cust.ID,
		ToEntityID:   "missing",
		Type:         ir.RelMemberOf,
		TaxonomyCode: "HERA.CORE.REL.EDGE.V1",
	})
	requireKind(t, err, KindNotFound, CodeNotFound)

	got, err := f.e.GetRelationship(f.ctx, callerA, edge.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestRelationship_Scope(t *testing.T) {
	f := newTestEngine(t)
	mine := f.entity(callerA, "CUSTOMER", "CUST-1")
	theirs := f.entity(callerB, "ORG_UNIT", "GROUP")
	shared := f.entity(callerPlatform, "ORG_UNIT", "ALL")

	_, err := f.link(callerA, ir.RelMemberOf, mine, theirs, nil)
	requireKind(t, err, KindNotFound, CodeNotFound)

	// platform records are valid edge targets
	edge, err := f.link(callerA, ir.RelMemberOf, mine, shared, nil)
	require.NoError(t, err)
	assert.Equal(t, orgA, edge.OrganizationID)

	_, err = f.e.DeactivateRelationship(f.ctx, callerB, edge.ID)
	requireKind(t, err, KindNotFound, CodeNotFound)
}

func TestRelationship_PlatformEntityCannotBeFromSide(t *testing.T) {
	f := newTestEngine(t)
	group := f.entity(callerPlatform, "ORG_UNIT", "ALL")
	child := f.entity(callerPlatform, "ORG_UNIT", "EMEA")
	_, err := f.link(callerPlatform, ir.RelParentOf, group, child, nil)
	require.NoError(t, err)

	mine := f.entity(callerA, "ORG_UNIT", "MINE")
	_, err = f.link(callerA, ir.RelParentOf, group, mine, nil)
	requireKind(t, err, KindScope, CodeCrossOrganization)

	// a second parent for a platform entity would otherwise land here
	other := f.entity(callerPlatform, "ORG_UNIT", "APAC")
	_, err = f.link(callerA, ir.RelParentOf, other, child, nil)
	requireKind(t, err, KindScope, CodeCrossOrganization)
	_, err = f.link(callerA, ir.RelMemberOf, group, mine, nil)
	requireKind(t, err, KindScope, CodeCrossOrganization)

	status := f.entity(callerA, "STATUS", "ACTIVE")
	_, err = f.status(callerA, group, status, "")
	requireKind(t, err, KindScope, CodeCrossOrganization)

	rels, err := f.e.ReadRelationships(f.ctx, callerA, RelationshipFilter{})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestRelationship_InactiveEndpointRejected(t *testing.T) {
	f := newTestEngine(t)
	cust := f.entity(callerA, "CUSTOMER", "CUST-1")
	group := f.entity(callerA, "ORG_UNIT", "VIP")
	_, err := f.e.DeactivateEntity(f.ctx, callerA, group.ID)
	require.NoError(t, err)

	_, err = f.link(callerA, ir.RelMemberOf, cust, group, nil)
	requireKind(t, err, KindState, CodeInactiveRecord)
}

func TestRelationship_UnknownKind(t *testing.T) {
	f := newTestEngine(t)
	a := f.entity(callerA, "CUSTOMER", "A")
	b := f.entity(callerA, "CUSTOMER", "B")

	_, err := f.link(callerA, "refers", a, b, nil)
	requireKind(t, err, KindValidation, CodeInvalidKind)

	require.NoError(t, f.e.RegisterRelationshipKind(f.ctx, callerA, "refers"))
	_, err = f.link(callerA, "refers", a, b, nil)
	assert.NoError(t, err)
}
