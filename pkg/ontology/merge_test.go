package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_OverlayExtendsBase(t *testing.T) {
	overlay := NewTBox(
		[]ClassDef{
			{ID: "Customer", Parents: []string{"Organization"}},
			{ID: "Region"},
		},
		[]PropertyDef{
			{ID: "placedInOrg", Functional: true},
			{ID: "memberOf", Range: "Region"},
			{ID: "locatedIn", Domain: "Organization", Range: "Region"},
		},
		[]PropertyChainDef{
			{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"},
			{Chain: []string{"placedInOrg", "locatedIn"}, Implies: "related"},
		},
	)

	merged, err := Merge(placementTBox(), overlay)
	require.NoError(t, err)

	assert.Equal(t, []string{"Associate", "Organization"}, merged.Classes["Customer"].Parents)
	assert.Contains(t, merged.Classes, "Region")

	placed := merged.Properties["placedInOrg"]
	assert.True(t, placed.Functional)
	assert.Equal(t, "Order", placed.Domain)

	member := merged.Properties["memberOf"]
	assert.Equal(t, "Customer", member.Domain)
	assert.Equal(t, "Region", member.Range)

	assert.Len(t, merged.Chains, 3)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := placementTBox()
	baseHash := ComputeHash(base)
	overlay := NewTBox([]ClassDef{{ID: "Customer", Parents: []string{"Order"}}}, nil, nil)

	_, err := Merge(base, overlay)
	require.NoError(t, err)
	assert.Equal(t, baseHash, ComputeHash(base))
}

func TestMerge_ValidatesResult(t *testing.T) {
	overlay := NewTBox(nil, []PropertyDef{{ID: "memberOf", Transitive: true}}, nil)

	_, err := Merge(placementTBox(), overlay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must have same domain and range")
}
