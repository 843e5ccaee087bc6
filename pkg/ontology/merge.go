package ontology

import "slices"

// Merge overlays one TBox on another and validates the result.
//
// Classes union their parent, disjoint and sameAs sets. For properties the
// overlay's domain, range and inverseOf win when set, boolean flags are OR'd
// and super-properties union. Chains are appended unless an identical chain
// already exists.
func Merge(base, overlay TBox) (TBox, error) {
	out := base.Clone()
	if out.Classes == nil {
		out.Classes = map[string]ClassDef{}
	}
	if out.Properties == nil {
		out.Properties = map[string]PropertyDef{}
	}

	for _, id := range overlay.ClassIDs() {
		oc := overlay.Classes[id]
		bc, ok := out.Classes[id]
		if !ok {
			out.Classes[id] = ClassDef{
				ID:           oc.ID,
				Parents:      slices.Clone(oc.Parents),
				DisjointWith: slices.Clone(oc.DisjointWith),
				SameAs:       slices.Clone(oc.SameAs),
			}
			continue
		}
		bc.Parents = union(bc.Parents, oc.Parents)
		bc.DisjointWith = union(bc.DisjointWith, oc.DisjointWith)
		bc.SameAs = union(bc.SameAs, oc.SameAs)
		out.Classes[id] = bc
	}

	for _, id := range overlay.PropertyIDs() {
		op := overlay.Properties[id]
		bp, ok := out.Properties[id]
		if !ok {
			op.SuperProperties = slices.Clone(op.SuperProperties)
			out.Properties[id] = op
			continue
		}
		if op.Domain != "" {
			bp.Domain = op.Domain
		}
		if op.Range != "" {
			bp.Range = op.Range
		}
		if op.InverseOf != "" {
			bp.InverseOf = op.InverseOf
		}
		bp.Transitive = bp.Transitive || op.Transitive
		bp.Functional = bp.Functional || op.Functional
		bp.Symmetric = bp.Symmetric || op.Symmetric
		bp.SuperProperties = union(bp.SuperProperties, op.SuperProperties)
		out.Properties[id] = bp
	}

	for _, ch := range overlay.Chains {
		exists := slices.ContainsFunc(out.Chains, func(c PropertyChainDef) bool {
			return c.Implies == ch.Implies && slices.Equal(c.Chain, ch.Chain)
		})
		if !exists {
			out.Chains = append(out.Chains, PropertyChainDef{Chain: slices.Clone(ch.Chain), Implies: ch.Implies})
		}
	}

	if err := Validate(out); err != nil {
		return TBox{}, err
	}
	return out, nil
}

// union keeps a's order and appends members of b not already present.
func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
