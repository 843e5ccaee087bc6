package reasoning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

func TestInfer_ChainThroughTransitiveHierarchy(t *testing.T) {
	reasoner := NewForwardChainingReasoner()
	snap := EntitySnapshot{
		TenantID:   "t1",
		EntityID:   "O1",
		EntityType: "Order",
		ExplicitEdges: []Edge{
			explicit("O1", "placedBy", "C9"),
			explicit("C9", "memberOf", "OrgA"),
			explicit("OrgA", "ancestorOf", "OrgParent"),
			explicit("OrgParent", "ancestorOf", "OrgGrand"),
		},
	}

	result := reasoner.Infer(snap, placementRegistry())

	require.True(t, result.Converged)
	placed := result.EdgesFor("placedInOrg")
	assert.ElementsMatch(t, []string{"OrgA", "OrgParent", "OrgGrand"}, dsts(placed))
	for _, e := range placed {
		assert.True(t, e.Inferred)
		require.NotNil(t, e.Provenance)
		assert.Equal(t, RuleChain, e.Provenance.Rule())
		assert.NotEmpty(t, e.Provenance.Inputs())
		assert.Equal(t, "O1", e.SrcID)
		assert.Equal(t, "Order", e.SrcType)
		assert.Equal(t, "Organization", e.DstType)
	}
	assert.Equal(t, []string{"Order"}, result.Types)
}

func TestInfer_ChainConsumesEarlierChainInSamePass(t *testing.T) {
	snap := EntitySnapshot{
		EntityID: "O1",
		ExplicitEdges: []Edge{
			explicit("O1", "placedBy", "C9"),
			explicit("C9", "memberOf", "OrgA"),
			explicit("OrgA", "ancestorOf", "OrgParent"),
		},
	}

	result := NewForwardChainingReasoner().Infer(snap, placementRegistry())

	assert.ElementsMatch(t, []string{"OrgA", "OrgParent"}, dsts(result.EdgesFor("placedInOrg")))
	// One productive pass plus the pass that confirms the fixpoint.
	assert.Equal(t, 2, result.Iterations)

	var viaHierarchy *ChainProvenance
	for _, e := range result.EdgesFor("placedInOrg") {
		if e.DstID == "OrgParent" {
			viaHierarchy = e.Provenance.(*ChainProvenance)
		}
	}
	require.NotNil(t, viaHierarchy)
	assert.Equal(t, "placedInOrg,ancestorOf=>placedInOrg", viaHierarchy.ChainID)
	assert.Equal(t, "O1|placedInOrg|OrgA", viaHierarchy.Path[0].String())
	assert.Equal(t, "OrgA|ancestorOf|OrgParent", viaHierarchy.Path[1].String())
}

func TestInfer_CycleTerminates(t *testing.T) {
	snap := EntitySnapshot{
		EntityID: "O1",
		ExplicitEdges: []Edge{
			explicit("O1", "placedBy", "C9"),
			explicit("C9", "memberOf", "OrgA"),
			explicit("OrgA", "ancestorOf", "OrgB"),
			explicit("OrgB", "ancestorOf", "OrgA"),
		},
	}

	result := NewForwardChainingReasoner().Infer(snap, placementRegistry())

	assert.True(t, result.Converged)
	assert.ElementsMatch(t, []string{"OrgA", "OrgB"}, dsts(result.EdgesFor("placedInOrg")))
}

func TestInfer_IterationCap(t *testing.T) {
	snap := EntitySnapshot{
		EntityID: "O1",
		ExplicitEdges: []Edge{
			explicit("O1", "placedBy", "C9"),
			explicit("C9", "memberOf", "OrgA"),
		},
	}

	result := NewForwardChainingReasoner(WithMaxIterations(1)).Infer(snap, placementRegistry())

	assert.False(t, result.Converged)
	assert.Equal(t, 1, result.Iterations)
	assert.NotEmpty(t, result.AddedEdges)
}

func hierarchyRegistry() *ontology.Registry {
	return ontology.MustNewRegistry(ontology.NewTBox(
		[]ontology.ClassDef{{ID: "Organization"}, {ID: "Person"}},
		[]ontology.PropertyDef{
			{ID: "ancestorOf", Domain: "Organization", Range: "Organization", Transitive: true},
			{ID: "descendantOf", Domain: "Organization", Range: "Organization", InverseOf: "ancestorOf"},
			{ID: "related", Domain: "Person", Range: "Person"},
			{ID: "knows", Domain: "Person", Range: "Person", Symmetric: true, SuperProperties: []string{"related"}},
			{ID: "worksWith", Domain: "Person", Range: "Person", SuperProperties: []string{"knows"}},
		},
		nil,
	))
}

func TestInfer_InverseViaReverseLookup(t *testing.T) {
	snap := EntitySnapshot{
		EntityID:      "OrgA",
		ExplicitEdges: []Edge{explicit("OrgA", "ancestorOf", "OrgB")},
	}

	result := NewForwardChainingReasoner().Infer(snap, hierarchyRegistry())

	inverse := result.EdgesFor("descendantOf")
	require.Len(t, inverse, 1)
	assert.Equal(t, "OrgB", inverse[0].SrcID)
	assert.Equal(t, "OrgA", inverse[0].DstID)
	prov, ok := inverse[0].Provenance.(*InverseProvenance)
	require.True(t, ok)
	assert.Equal(t, "ancestorOf", prov.Property)
	assert.Equal(t, "OrgA|ancestorOf|OrgB", prov.Input.String())

	// The inverse edge maps straight back to an edge that already exists.
	assert.Empty(t, result.EdgesFor("ancestorOf"))
}

func TestInfer_SymmetricAndSuperProperties(t *testing.T) {
	snap := EntitySnapshot{
		EntityID:      "P1",
		EntityType:    "Person",
		ExplicitEdges: []Edge{explicit("P1", "worksWith", "P2")},
	}

	result := NewForwardChainingReasoner().Infer(snap, hierarchyRegistry())

	keys := make([]string, 0, len(result.AddedEdges))
	for _, e := range result.AddedEdges {
		keys = append(keys, e.Ref().String())
	}
	assert.ElementsMatch(t, []string{
		"P1|knows|P2",
		"P1|related|P2",
		"P2|knows|P1",
		"P2|related|P1",
	}, keys)
}

func TestInfer_TransitiveClosureFromEntity(t *testing.T) {
	snap := EntitySnapshot{
		EntityID: "OrgA",
		ExplicitEdges: []Edge{
			explicit("OrgA", "ancestorOf", "OrgB"),
			explicit("OrgB", "ancestorOf", "OrgC"),
			explicit("OrgC", "ancestorOf", "OrgA"),
		},
	}

	result := NewForwardChainingReasoner().Infer(snap, hierarchyRegistry())

	closure := result.EdgesFor("ancestorOf")
	require.Len(t, closure, 1)
	assert.Equal(t, "OrgC", closure[0].DstID)
	prov, ok := closure[0].Provenance.(*TransitiveProvenance)
	require.True(t, ok)
	assert.Len(t, prov.Path, 2)
	for _, e := range result.AddedEdges {
		assert.False(t, e.SrcID == e.DstID && e.Predicate == "ancestorOf", "no self edge expected")
	}
}

func TestInfer_UnknownPredicateIgnored(t *testing.T) {
	snap := EntitySnapshot{
		EntityID:      "O1",
		ExplicitEdges: []Edge{explicit("O1", "mystery", "X")},
	}

	result := NewForwardChainingReasoner().Infer(snap, placementRegistry())

	assert.Empty(t, result.AddedEdges)
	assert.True(t, result.Converged)
}

func TestInfer_NilRegistry(t *testing.T) {
	result := NewForwardChainingReasoner().Infer(EntitySnapshot{EntityID: "O1"}, nil)

	assert.Empty(t, result.AddedEdges)
	assert.True(t, result.Converged)
}

func TestInfer_DoesNotMutateSnapshot(t *testing.T) {
	edges := []Edge{
		explicit("O1", "placedBy", "C9"),
		explicit("C9", "memberOf", "OrgA"),
	}
	snap := EntitySnapshot{EntityID: "O1", ExplicitEdges: edges}

	NewForwardChainingReasoner().Infer(snap, placementRegistry())

	assert.Len(t, snap.ExplicitEdges, 2)
	assert.Equal(t, "", snap.ExplicitEdges[0].SrcType)
}

func TestInfer_ConcurrentCallsShareRegistry(t *testing.T) {
	reg := placementRegistry()
	reasoner := NewForwardChainingReasoner()

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := EntitySnapshot{
				EntityID: "O1",
				ExplicitEdges: []Edge{
					explicit("O1", "placedBy", "C9"),
					explicit("C9", "memberOf", "OrgA"),
					explicit("OrgA", "ancestorOf", "OrgParent"),
				},
			}
			results[i] = dsts(reasoner.Infer(snap, reg).EdgesFor("placedInOrg"))
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestEdge_ToRecord(t *testing.T) {
	snap := EntitySnapshot{
		EntityID: "O1",
		ExplicitEdges: []Edge{
			explicit("O1", "placedBy", "C9"),
			explicit("C9", "memberOf", "OrgA"),
		},
	}
	result := NewForwardChainingReasoner().Infer(snap, placementRegistry())
	placed := result.EdgesFor("placedInOrg")
	require.Len(t, placed, 1)

	rec := placed[0].ToRecord("t1")

	assert.Equal(t, "t1", rec.TenantID)
	assert.True(t, rec.Inferred)
	assert.False(t, rec.Derived)
	assert.Equal(t, "chain", rec.Provenance["rule"])
	require.Len(t, rec.Support, 1)
	assert.Equal(t, "placedBy,memberOf=>placedInOrg", rec.Support[0].RuleID)
	assert.Len(t, rec.Support[0].PathEdges, 2)
}
