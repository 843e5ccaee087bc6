// Package ontology holds the TBox (classes, properties, chain rules) and the
// immutable Registry that answers closure queries over it.
package ontology

import (
	"slices"
	"strings"
)

// ClassDef declares a class and its direct superclasses.
// DisjointWith and SameAs are reserved for class-level metadata; reasoning
// ignores them but they participate in the schema hash.
type ClassDef struct {
	ID           string   `json:"id"`
	Parents      []string `json:"parents,omitempty"`
	DisjointWith []string `json:"disjointWith,omitempty"`
	SameAs       []string `json:"sameAs,omitempty"`
}

// PropertyDef declares a typed, directed relation. Empty Domain, Range or
// InverseOf mean "not declared".
type PropertyDef struct {
	ID              string   `json:"id"`
	Domain          string   `json:"domain,omitempty"`
	Range           string   `json:"range,omitempty"`
	Transitive      bool     `json:"transitive,omitempty"`
	Functional      bool     `json:"functional,omitempty"`
	Symmetric       bool     `json:"symmetric,omitempty"`
	InverseOf       string   `json:"inverseOf,omitempty"`
	SuperProperties []string `json:"superProperties,omitempty"`
}

// PropertyChainDef states that a path following Chain implies a direct edge
// of the Implies property from the first node to the last.
type PropertyChainDef struct {
	Chain   []string `json:"chain"`
	Implies string   `json:"implies"`
}

// ID is a stable rule identifier, e.g. "placedBy,memberOf=>placedInOrg".
func (c PropertyChainDef) ID() string {
	return strings.Join(c.Chain, ",") + "=>" + c.Implies
}

// Uses reports whether any step of the chain is the given property.
func (c PropertyChainDef) Uses(property string) bool {
	return slices.Contains(c.Chain, property)
}

// TBox is the schema aggregate. Treat it as immutable once validated; a
// reload builds a new TBox and a new Registry.
type TBox struct {
	Classes    map[string]ClassDef    `json:"classes"`
	Properties map[string]PropertyDef `json:"properties"`
	Chains     []PropertyChainDef     `json:"chains"`
}

// NewTBox builds a TBox from definition slices. Later duplicates replace
// earlier ones.
func NewTBox(classes []ClassDef, properties []PropertyDef, chains []PropertyChainDef) TBox {
	t := TBox{
		Classes:    make(map[string]ClassDef, len(classes)),
		Properties: make(map[string]PropertyDef, len(properties)),
		Chains:     make([]PropertyChainDef, 0, len(chains)),
	}
	for _, c := range classes {
		t.Classes[c.ID] = c
	}
	for _, p := range properties {
		t.Properties[p.ID] = p
	}
	t.Chains = append(t.Chains, chains...)
	return t
}

// Clone returns a deep copy so callers cannot mutate a registry's schema.
func (t TBox) Clone() TBox {
	out := TBox{
		Classes:    make(map[string]ClassDef, len(t.Classes)),
		Properties: make(map[string]PropertyDef, len(t.Properties)),
		Chains:     make([]PropertyChainDef, 0, len(t.Chains)),
	}
	for id, c := range t.Classes {
		c.Parents = slices.Clone(c.Parents)
		c.DisjointWith = slices.Clone(c.DisjointWith)
		c.SameAs = slices.Clone(c.SameAs)
		out.Classes[id] = c
	}
	for id, p := range t.Properties {
		p.SuperProperties = slices.Clone(p.SuperProperties)
		out.Properties[id] = p
	}
	for _, ch := range t.Chains {
		out.Chains = append(out.Chains, PropertyChainDef{Chain: slices.Clone(ch.Chain), Implies: ch.Implies})
	}
	return out
}

// ClassIDs returns the declared class ids in sorted order.
func (t TBox) ClassIDs() []string {
	ids := make([]string, 0, len(t.Classes))
	for id := range t.Classes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PropertyIDs returns the declared property ids in sorted order.
func (t TBox) PropertyIDs() []string {
	ids := make([]string, 0, len(t.Properties))
	for id := range t.Properties {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
