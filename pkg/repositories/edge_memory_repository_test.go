package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

const testTenant = "tenant-a"

func edge(src, p, dst string) *models.EdgeRecord {
	return &models.EdgeRecord{TenantID: testTenant, SrcType: "Node", Src: src, Predicate: p, DstType: "Node", Dst: dst}
}

func inferredEdge(src, p, dst string) *models.EdgeRecord {
	e := edge(src, p, dst)
	e.Inferred = true
	return e
}

func computedEdge(src, p, dst string) *models.EdgeRecord {
	e := edge(src, p, dst)
	e.Derived = true
	return e
}

func derivedEdge(src, p, dst string, path ...models.EdgeRef) *models.EdgeRecord {
	e := edge(src, p, dst)
	e.Support = []models.Support{{RuleID: "chain", PathEdges: path}}
	return e
}

func ref(src, p, dst string) models.EdgeRef {
	return models.EdgeRef{Src: src, Predicate: p, Dst: dst}
}

func dstsOf(edges []*models.EdgeRecord) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Dst)
	}
	return out
}

func TestMemoryEdgeStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	first := edge("O1", "placedBy", "C1")
	require.NoError(t, store.Upsert(ctx, first))
	require.NoError(t, store.Upsert(ctx, edge("O1", "placedBy", "C1")))

	got, err := store.ListOutgoingBy(ctx, testTenant, "O1", "placedBy")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
	assert.True(t, got[0].IsExplicit())
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestMemoryEdgeStore_ExplicitRowsAreAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	require.NoError(t, store.Upsert(ctx, edge("O1", "placedInOrg", "OrgA")))
	require.NoError(t, store.Upsert(ctx, inferredEdge("O1", "placedInOrg", "OrgA")))
	require.NoError(t, store.UpsertDerived(ctx, derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedBy", "C1"))))

	got, err := store.ListOutgoingBy(ctx, testTenant, "O1", "placedInOrg")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.OriginExplicit, got[0].Origin())

	// An explicit write replaces an inferred row.
	require.NoError(t, store.Upsert(ctx, inferredEdge("O2", "placedInOrg", "OrgB")))
	require.NoError(t, store.Upsert(ctx, edge("O2", "placedInOrg", "OrgB")))
	got, err = store.ListOutgoingBy(ctx, testTenant, "O2", "placedInOrg")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsExplicit())
}

func TestMemoryEdgeStore_UpsertManyRoutesSupportedEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	err := store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("O1", "placedBy", "C1"),
		derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedBy", "C1"), ref("C1", "memberOf", "OrgA")),
	})
	require.NoError(t, err)

	got, err := store.FindBySrc(ctx, testTenant, "O1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "placedBy", got[0].Predicate)
	assert.Equal(t, "placedInOrg", got[1].Predicate)
	assert.True(t, got[1].Inferred)
	assert.True(t, got[1].Derived)
	assert.Equal(t, models.OriginInferred, got[1].Origin())

	assert.Error(t, store.UpsertMany(ctx, []*models.EdgeRecord{{TenantID: testTenant, Src: "O1"}}))
}

func TestMemoryEdgeStore_ListIncomingAndTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	require.NoError(t, store.Upsert(ctx, edge("C2", "memberOf", "OrgA")))
	require.NoError(t, store.Upsert(ctx, edge("C1", "memberOf", "OrgA")))
	other := edge("C3", "memberOf", "OrgA")
	other.TenantID = "tenant-b"
	require.NoError(t, store.Upsert(ctx, other))

	got, err := store.ListIncomingBy(ctx, testTenant, "memberOf", "OrgA")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C1", got[0].Src)
	assert.Equal(t, "C2", got[1].Src)

	got, err = store.ListIncomingBy(ctx, "tenant-b", "memberOf", "OrgA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "C3", got[0].Src)
}

func TestMemoryEdgeStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	e := edge("O1", "placedBy", "C1")
	e.Provenance = map[string]any{"rule": "explicit"}
	require.NoError(t, store.Upsert(ctx, e))
	e.Provenance["rule"] = "mutated"

	got, err := store.FindBySrc(ctx, testTenant, "O1")
	require.NoError(t, err)
	got[0].Dst = "changed"

	again, err := store.FindBySrc(ctx, testTenant, "O1")
	require.NoError(t, err)
	assert.Equal(t, "C1", again[0].Dst)
	assert.Equal(t, "explicit", again[0].Provenance["rule"])
}

func TestMemoryEdgeStore_DeleteBySrcNotIn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	require.NoError(t, store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("A1", "canSee", "L1"),
		edge("A1", "canSee", "L2"),
		inferredEdge("A1", "canSee", "L3"),
		inferredEdge("A1", "canSee", "L4"),
		computedEdge("A1", "canSee", "L5"),
		computedEdge("A1", "canSee", "L6"),
		inferredEdge("A1", "other", "X"),
	}))

	n, err := store.DeleteInferredBySrcNotIn(ctx, testTenant, "A1", "canSee", []string{"L3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteExplicitBySrcNotIn(ctx, testTenant, "A1", "canSee", []string{"L2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteDerivedBySrcNotIn(ctx, testTenant, "A1", "canSee", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.ListOutgoingBy(ctx, testTenant, "A1", "canSee")
	require.NoError(t, err)
	assert.Equal(t, []string{"L2", "L3"}, dstsOf(got))

	other, err := store.ListOutgoingBy(ctx, testTenant, "A1", "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemoryEdgeStore_PruneDerivedWithoutSupport(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	require.NoError(t, store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("O1", "placedBy", "C1"),
		edge("C1", "memberOf", "OrgA"),
		edge("OrgA", "ancestorOf", "OrgP"),
		derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedBy", "C1"), ref("C1", "memberOf", "OrgA")),
		// depends on the derived edge above
		derivedEdge("O1", "placedUnder", "OrgP", ref("O1", "placedInOrg", "OrgA"), ref("OrgA", "ancestorOf", "OrgP")),
		// still supported
		derivedEdge("O1", "orderedBy", "C1", ref("O1", "placedBy", "C1")),
		computedEdge("O1", "visibleTo", "U1"),
	}))

	n, err := store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = store.DeleteExplicitBySrcNotIn(ctx, testTenant, "C1", "memberOf", nil)
	require.NoError(t, err)

	n, err = store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.FindBySrc(ctx, testTenant, "O1")
	require.NoError(t, err)
	preds := make([]string, 0, len(got))
	for _, e := range got {
		preds = append(preds, e.Predicate)
	}
	assert.Equal(t, []string{"orderedBy", "placedBy", "visibleTo"}, preds)
}

func TestMemoryEdgeStore_PruneRemovesMutuallySupportingEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	require.NoError(t, store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("OrgA", "ancestorOf", "OrgB"),
		edge("OrgB", "ancestorOf", "OrgA"),
		// Each derived edge is justified only by the other.
		derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedInOrg", "OrgB"), ref("OrgB", "ancestorOf", "OrgA")),
		derivedEdge("O1", "placedInOrg", "OrgB", ref("O1", "placedInOrg", "OrgA"), ref("OrgA", "ancestorOf", "OrgB")),
	}))

	n, err := store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.ListOutgoingBy(ctx, testTenant, "O1", "placedInOrg")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryEdgeStore_PruneKeepsCycleGroundedInBaseEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	grounded := derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedInOrg", "OrgB"), ref("OrgB", "ancestorOf", "OrgA"))
	grounded.Support = append(grounded.Support, models.Support{
		RuleID:    "placedBy,memberOf=>placedInOrg",
		PathEdges: []models.EdgeRef{ref("O1", "placedBy", "C9"), ref("C9", "memberOf", "OrgA")},
	})
	require.NoError(t, store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("O1", "placedBy", "C9"),
		edge("C9", "memberOf", "OrgA"),
		edge("OrgA", "ancestorOf", "OrgB"),
		edge("OrgB", "ancestorOf", "OrgA"),
		grounded,
		derivedEdge("O1", "placedInOrg", "OrgB", ref("O1", "placedInOrg", "OrgA"), ref("OrgA", "ancestorOf", "OrgB")),
	}))

	n, err := store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Once the base path is gone the cycle no longer holds itself up.
	_, err = store.DeleteExplicitBySrcNotIn(ctx, testTenant, "O1", "placedBy", nil)
	require.NoError(t, err)
	n, err = store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryEdgeStore_PruneKeepsEdgeWithAlternateSupport(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEdgeStore()

	multi := derivedEdge("O1", "placedInOrg", "OrgA", ref("O1", "placedBy", "C1"))
	multi.Support = append(multi.Support, models.Support{RuleID: "chain-2", PathEdges: []models.EdgeRef{ref("O1", "soldBy", "S1")}})
	require.NoError(t, store.UpsertMany(ctx, []*models.EdgeRecord{
		edge("O1", "soldBy", "S1"),
		multi,
		derivedEdge("O1", "empty", "X"),
	}))

	// A support with no path edges justifies nothing.
	n, err := store.PruneDerivedWithoutSupport(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.ListOutgoingBy(ctx, testTenant, "O1", "placedInOrg")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	gone, err := store.ListOutgoingBy(ctx, testTenant, "O1", "empty")
	require.NoError(t, err)
	assert.Empty(t, gone)
}
