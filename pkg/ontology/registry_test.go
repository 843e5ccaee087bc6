package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ClassClosures(t *testing.T) {
	reg := MustNewRegistry(placementTBox())

	assert.Equal(t, []string{"Associate", "Party"}, reg.AncestorsOf("Customer"))
	assert.Equal(t, []string{"Associate", "Customer", "Organization"}, reg.DescendantsOf("Party"))
	assert.Empty(t, reg.AncestorsOf("Party"))
	assert.True(t, reg.IsSubclassOf("Customer", "Party"))
	assert.True(t, reg.IsSubclassOf("Customer", "Customer"))
	assert.False(t, reg.IsSubclassOf("Order", "Party"))
}

func TestRegistry_PropertyClosures(t *testing.T) {
	reg := MustNewRegistry(placementTBox())

	assert.Equal(t, []string{"knows", "related"}, reg.SuperPropertiesOf("worksWith"))
	assert.Equal(t, []string{"knows", "worksWith"}, reg.SubPropertiesOf("related"))
	assert.Empty(t, reg.SuperPropertiesOf("related"))
}

func TestRegistry_InverseReverseLookup(t *testing.T) {
	reg := MustNewRegistry(placementTBox())

	inv, ok := reg.InverseOf("descendantOf")
	require.True(t, ok)
	assert.Equal(t, "ancestorOf", inv)

	// Only descendantOf declares the relation; ancestorOf resolves by reverse search.
	inv, ok = reg.InverseOf("ancestorOf")
	require.True(t, ok)
	assert.Equal(t, "descendantOf", inv)

	_, ok = reg.InverseOf("memberOf")
	assert.False(t, ok)
}

func TestRegistry_UnknownIDsAreEmpty(t *testing.T) {
	reg := MustNewRegistry(placementTBox())

	assert.Empty(t, reg.AncestorsOf("Nope"))
	assert.Empty(t, reg.DescendantsOf("Nope"))
	assert.Empty(t, reg.SuperPropertiesOf("nope"))
	assert.Empty(t, reg.SubPropertiesOf("nope"))
	_, ok := reg.InverseOf("nope")
	assert.False(t, ok)
	_, ok = reg.Property("nope")
	assert.False(t, ok)
	assert.False(t, reg.IsTransitive("nope"))
}

func TestRegistry_ClassCycleTerminates(t *testing.T) {
	// Class cycles are not rejected; closures must still terminate.
	tbox := NewTBox([]ClassDef{
		{ID: "A", Parents: []string{"B"}},
		{ID: "B", Parents: []string{"A"}},
	}, nil, nil)
	reg := MustNewRegistry(tbox)

	assert.Equal(t, []string{"B"}, reg.AncestorsOf("A"))
	assert.Equal(t, []string{"B"}, reg.DescendantsOf("A"))
}

func TestRegistry_IsolatedFromCallerMutation(t *testing.T) {
	tbox := placementTBox()
	reg := MustNewRegistry(tbox)
	hash := reg.Hash()

	c := tbox.Classes["Customer"]
	c.Parents[0] = "Order"
	tbox.Properties["extra"] = PropertyDef{ID: "extra"}

	assert.Equal(t, []string{"Associate", "Party"}, reg.AncestorsOf("Customer"))
	_, ok := reg.Property("extra")
	assert.False(t, ok)
	assert.Equal(t, hash, reg.Hash())

	ancestors := reg.AncestorsOf("Customer")
	ancestors[0] = "mutated"
	assert.Equal(t, []string{"Associate", "Party"}, reg.AncestorsOf("Customer"))
}

func TestRegistry_RejectsInvalidTBox(t *testing.T) {
	tbox := placementTBox()
	tbox.Properties["bad"] = PropertyDef{ID: "bad", Domain: "Missing"}

	_, err := NewRegistry(tbox)
	require.Error(t, err)
	assert.Panics(t, func() { MustNewRegistry(tbox) })
}
