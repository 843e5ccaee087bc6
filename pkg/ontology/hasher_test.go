package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeHash_StableAcrossInsertionOrder(t *testing.T) {
	a := placementTBox()

	// Same definitions, reversed insertion order.
	classes := make([]ClassDef, 0, len(a.Classes))
	for _, id := range a.ClassIDs() {
		classes = append([]ClassDef{a.Classes[id]}, classes...)
	}
	props := make([]PropertyDef, 0, len(a.Properties))
	for _, id := range a.PropertyIDs() {
		props = append([]PropertyDef{a.Properties[id]}, props...)
	}
	chains := []PropertyChainDef{a.Chains[1], a.Chains[0]}
	b := NewTBox(classes, props, chains)

	h1 := ComputeHash(a)
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, ComputeHash(a))
	assert.Equal(t, h1, ComputeHash(b))
}

func TestComputeHash_ChangesOnAnyField(t *testing.T) {
	base := ComputeHash(placementTBox())

	mutations := map[string]func(*TBox){
		"class parent": func(tb *TBox) {
			c := tb.Classes["Order"]
			c.Parents = []string{"Party"}
			tb.Classes["Order"] = c
		},
		"class disjointWith": func(tb *TBox) {
			c := tb.Classes["Order"]
			c.DisjointWith = []string{"Party"}
			tb.Classes["Order"] = c
		},
		"class sameAs": func(tb *TBox) {
			c := tb.Classes["Order"]
			c.SameAs = []string{"Purchase"}
			tb.Classes["Order"] = c
		},
		"property domain": func(tb *TBox) {
			p := tb.Properties["memberOf"]
			p.Domain = "Associate"
			tb.Properties["memberOf"] = p
		},
		"property range": func(tb *TBox) {
			p := tb.Properties["related"]
			p.Range = "Party"
			tb.Properties["related"] = p
		},
		"functional flag": func(tb *TBox) {
			p := tb.Properties["placedInOrg"]
			p.Functional = true
			tb.Properties["placedInOrg"] = p
		},
		"symmetric flag": func(tb *TBox) {
			p := tb.Properties["related"]
			p.Symmetric = true
			tb.Properties["related"] = p
		},
		"transitive flag": func(tb *TBox) {
			p := tb.Properties["related"]
			p.Transitive = true
			tb.Properties["related"] = p
		},
		"inverse": func(tb *TBox) {
			p := tb.Properties["related"]
			p.InverseOf = "knows"
			tb.Properties["related"] = p
		},
		"super-property": func(tb *TBox) {
			p := tb.Properties["placedBy"]
			p.SuperProperties = []string{"related"}
			tb.Properties["placedBy"] = p
		},
		"chain implies": func(tb *TBox) {
			tb.Chains[0].Implies = "related"
		},
		"chain added": func(tb *TBox) {
			tb.Chains = append(tb.Chains, PropertyChainDef{Chain: []string{"knows", "knows"}, Implies: "related"})
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tbox := placementTBox()
			mutate(&tbox)
			assert.NotEqual(t, base, ComputeHash(tbox))
		})
	}
}

func TestComputeHash_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := NewTBox(nil, nil, []PropertyChainDef{{Chain: []string{"ab", "c"}, Implies: "x"}})
	b := NewTBox(nil, nil, []PropertyChainDef{{Chain: []string{"a", "bc"}, Implies: "x"}})

	assert.NotEqual(t, ComputeHash(a), ComputeHash(b))
}
