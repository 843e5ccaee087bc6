// Package reasoning computes entailed edges from a TBox: a batch forward
// chaining reasoner over one entity's snapshot, and an incremental chain
// evaluator that pulls hops from an edge store on demand.
package reasoning

import "github.com/ekaya-inc/ekaya-reasoner/pkg/models"

// Edge is the reasoning-time form of a directed, typed relation.
// Explicit edges have Inferred=false and a nil Provenance.
type Edge struct {
	SrcID      string
	SrcType    string
	Predicate  string
	DstID      string
	DstType    string
	Inferred   bool
	Provenance Provenance
}

// Ref returns the (src, predicate, dst) key of the edge.
func (e Edge) Ref() models.EdgeRef {
	return models.EdgeRef{Src: e.SrcID, Predicate: e.Predicate, Dst: e.DstID}
}

// EntitySnapshot is the unit of work for the batch reasoner. The reasoner
// never reads storage; it only sees ExplicitEdges.
type EntitySnapshot struct {
	TenantID      string
	EntityID      string
	EntityType    string
	ExplicitEdges []Edge
}

// InferenceResult is the output of one Infer call.
type InferenceResult struct {
	// AddedEdges are the entailed edges, all Inferred with non-nil provenance,
	// in the order they were derived.
	AddedEdges []Edge
	// Types are the classes the entity is entailed to belong to: its own type,
	// the domains of its outgoing explicit predicates, and their ancestors.
	Types []string
	// Iterations is the number of passes run; Converged is false only when
	// the iteration cap stopped the loop.
	Iterations int
	Converged  bool
}

// EdgesFor returns the added edges with the given predicate.
func (r InferenceResult) EdgesFor(predicate string) []Edge {
	var out []Edge
	for _, e := range r.AddedEdges {
		if e.Predicate == predicate {
			out = append(out, e)
		}
	}
	return out
}

// ToRecord converts an edge into its persisted form.
func (e Edge) ToRecord(tenantID string) *models.EdgeRecord {
	rec := &models.EdgeRecord{
		TenantID:  tenantID,
		SrcType:   e.SrcType,
		Src:       e.SrcID,
		Predicate: e.Predicate,
		DstType:   e.DstType,
		Dst:       e.DstID,
		Inferred:  e.Inferred,
	}
	if e.Provenance != nil {
		rec.Provenance = e.Provenance.Fields()
		if _, computed := e.Provenance.(*ComputedProvenance); computed {
			rec.Derived = true
		}
		if inputs := e.Provenance.Inputs(); len(inputs) > 0 {
			rec.Support = []models.Support{{RuleID: RuleID(e.Provenance), PathEdges: inputs}}
		}
	}
	return rec
}
