package ontology

import (
	"slices"
)

// Registry answers closure queries over a validated TBox. It is built once
// and never mutated; closures are precomputed so lookups are map reads and
// safe for concurrent use. Unknown ids yield empty results.
type Registry struct {
	tbox TBox
	hash string

	ancestors   map[string][]string
	descendants map[string][]string
	superProps  map[string][]string
	subProps    map[string][]string
	inverses    map[string]string
	transitive  []string
	chains      []PropertyChainDef
}

// NewRegistry validates the TBox and builds a registry over a private copy.
func NewRegistry(tbox TBox) (*Registry, error) {
	if err := Validate(tbox); err != nil {
		return nil, err
	}
	return buildRegistry(tbox.Clone()), nil
}

// MustNewRegistry is NewRegistry for statically known schemas (tests, fixtures).
func MustNewRegistry(tbox TBox) *Registry {
	r, err := NewRegistry(tbox)
	if err != nil {
		panic(err)
	}
	return r
}

func buildRegistry(tbox TBox) *Registry {
	r := &Registry{
		tbox:        tbox,
		hash:        ComputeHash(tbox),
		ancestors:   make(map[string][]string, len(tbox.Classes)),
		descendants: make(map[string][]string, len(tbox.Classes)),
		superProps:  make(map[string][]string, len(tbox.Properties)),
		subProps:    make(map[string][]string, len(tbox.Properties)),
		inverses:    make(map[string]string),
		chains:      tbox.Chains,
	}

	classParents := make(map[string][]string, len(tbox.Classes))
	classChildren := make(map[string][]string)
	for _, id := range tbox.ClassIDs() {
		c := tbox.Classes[id]
		classParents[id] = c.Parents
		for _, p := range c.Parents {
			classChildren[p] = append(classChildren[p], id)
		}
	}
	for _, id := range tbox.ClassIDs() {
		r.ancestors[id] = closure(id, classParents)
		r.descendants[id] = closure(id, classChildren)
	}

	propParents := make(map[string][]string, len(tbox.Properties))
	propChildren := make(map[string][]string)
	for _, id := range tbox.PropertyIDs() {
		p := tbox.Properties[id]
		propParents[id] = p.SuperProperties
		for _, sp := range p.SuperProperties {
			propChildren[sp] = append(propChildren[sp], id)
		}
	}
	for _, id := range tbox.PropertyIDs() {
		r.superProps[id] = closure(id, propParents)
		r.subProps[id] = closure(id, propChildren)
		if tbox.Properties[id].Transitive {
			r.transitive = append(r.transitive, id)
		}
	}

	// Direct declarations first; reverse lookups only fill gaps. Iterating
	// sorted ids makes the smallest declaring property win a reverse lookup.
	for _, id := range tbox.PropertyIDs() {
		if inv := tbox.Properties[id].InverseOf; inv != "" {
			r.inverses[id] = inv
		}
	}
	for _, id := range tbox.PropertyIDs() {
		inv := tbox.Properties[id].InverseOf
		if inv == "" {
			continue
		}
		if _, ok := r.inverses[inv]; !ok {
			r.inverses[inv] = id
		}
	}
	return r
}

// closure walks edges from start breadth-first and returns every reachable
// node except start itself, sorted.
func closure(start string, edges map[string][]string) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	slices.Sort(out)
	return out
}

// Hash returns the schema fingerprint computed at construction.
func (r *Registry) Hash() string { return r.hash }

// TBox returns a copy of the underlying schema.
func (r *Registry) TBox() TBox { return r.tbox.Clone() }

// Class returns the class definition for id.
func (r *Registry) Class(id string) (ClassDef, bool) {
	c, ok := r.tbox.Classes[id]
	return c, ok
}

// Property returns the property definition for id.
func (r *Registry) Property(id string) (PropertyDef, bool) {
	p, ok := r.tbox.Properties[id]
	return p, ok
}

// IsTransitive reports whether id is declared transitive.
func (r *Registry) IsTransitive(id string) bool {
	p, ok := r.tbox.Properties[id]
	return ok && p.Transitive
}

// TransitiveProperties returns the ids of every transitive property, sorted.
func (r *Registry) TransitiveProperties() []string {
	return slices.Clone(r.transitive)
}

// IsFunctional reports whether id is declared functional.
func (r *Registry) IsFunctional(id string) bool {
	p, ok := r.tbox.Properties[id]
	return ok && p.Functional
}

// AncestorsOf returns every transitive superclass of classID.
func (r *Registry) AncestorsOf(classID string) []string {
	return slices.Clone(r.ancestors[classID])
}

// DescendantsOf returns every transitive subclass of classID.
func (r *Registry) DescendantsOf(classID string) []string {
	return slices.Clone(r.descendants[classID])
}

// IsSubclassOf reports whether classID equals ancestorID or inherits from it.
func (r *Registry) IsSubclassOf(classID, ancestorID string) bool {
	if classID == ancestorID {
		return true
	}
	_, found := slices.BinarySearch(r.ancestors[classID], ancestorID)
	return found
}

// SuperPropertiesOf returns the transitive super-property closure of id.
func (r *Registry) SuperPropertiesOf(id string) []string {
	return slices.Clone(r.superProps[id])
}

// SubPropertiesOf returns the transitive sub-property closure of id.
func (r *Registry) SubPropertiesOf(id string) []string {
	return slices.Clone(r.subProps[id])
}

// InverseOf returns the inverse of id, declared on either side.
func (r *Registry) InverseOf(id string) (string, bool) {
	inv, ok := r.inverses[id]
	return inv, ok
}

// PropertyChains returns every chain rule in declaration order.
func (r *Registry) PropertyChains() []PropertyChainDef {
	return slices.Clone(r.chains)
}
