package reasoning

import (
	"slices"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// DefaultMaxIterations bounds the fixpoint loop. A finite snapshot converges
// well before this; the cap only guards against schema bugs.
const DefaultMaxIterations = 16

// ForwardChainingReasoner computes every edge entailed for one entity from
// the edges in its snapshot. It holds no per-call state and is safe for
// concurrent use.
type ForwardChainingReasoner struct {
	maxIterations int
}

// ReasonerOption configures a ForwardChainingReasoner.
type ReasonerOption func(*ForwardChainingReasoner)

// WithMaxIterations overrides the fixpoint iteration cap.
func WithMaxIterations(n int) ReasonerOption {
	return func(r *ForwardChainingReasoner) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// NewForwardChainingReasoner creates a reasoner.
func NewForwardChainingReasoner(opts ...ReasonerOption) *ForwardChainingReasoner {
	r := &ForwardChainingReasoner{maxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Infer runs passes of inverse, symmetric, sub-property, chain and
// transitive rules until a pass adds nothing. Only edges absent from the
// working set are added, so cycles converge.
func (r *ForwardChainingReasoner) Infer(snap EntitySnapshot, reg *ontology.Registry) InferenceResult {
	g := newWorkingGraph(snap)
	result := InferenceResult{}
	if reg == nil {
		result.Converged = true
		return result
	}

	for iter := 1; iter <= r.maxIterations; iter++ {
		before := len(g.added)

		g.inverseStep(reg)
		g.symmetricStep(reg)
		g.subPropertyStep(reg)
		g.chainStep(reg)
		g.transitiveStep(reg)

		result.Iterations = iter
		if len(g.added) == before {
			result.Converged = true
			break
		}
	}

	result.AddedEdges = g.added
	result.Types = entityTypes(snap, reg)
	return result
}

// workingGraph is the per-call edge set with adjacency by predicate.
// Adjacency lists keep insertion order so output is deterministic.
type workingGraph struct {
	entityID  string
	known     map[models.EdgeRef]struct{}
	order     []models.EdgeRef
	out       map[string]map[string][]string // predicate -> src -> dsts
	nodeTypes map[string]string
	added     []Edge
}

func newWorkingGraph(snap EntitySnapshot) *workingGraph {
	g := &workingGraph{
		entityID:  snap.EntityID,
		known:     make(map[models.EdgeRef]struct{}, len(snap.ExplicitEdges)),
		out:       make(map[string]map[string][]string),
		nodeTypes: make(map[string]string),
	}
	if snap.EntityType != "" {
		g.nodeTypes[snap.EntityID] = snap.EntityType
	}
	for _, e := range snap.ExplicitEdges {
		g.insert(e)
	}
	return g
}

func (g *workingGraph) insert(e Edge) bool {
	ref := e.Ref()
	if _, ok := g.known[ref]; ok {
		return false
	}
	g.known[ref] = struct{}{}
	g.order = append(g.order, ref)
	bySrc, ok := g.out[e.Predicate]
	if !ok {
		bySrc = make(map[string][]string)
		g.out[e.Predicate] = bySrc
	}
	bySrc[e.SrcID] = append(bySrc[e.SrcID], e.DstID)
	g.noteType(e.SrcID, e.SrcType)
	g.noteType(e.DstID, e.DstType)
	return true
}

func (g *workingGraph) noteType(id, typ string) {
	if typ == "" {
		return
	}
	if _, ok := g.nodeTypes[id]; !ok {
		g.nodeTypes[id] = typ
	}
}

// derive adds an inferred edge unless it is already known.
func (g *workingGraph) derive(reg *ontology.Registry, src, predicate, dst string, prov Provenance) {
	e := Edge{
		SrcID:      src,
		SrcType:    g.resolveType(reg, predicate, src, true),
		Predicate:  predicate,
		DstID:      dst,
		DstType:    g.resolveType(reg, predicate, dst, false),
		Inferred:   true,
		Provenance: prov,
	}
	if g.insert(e) {
		g.added = append(g.added, e)
	}
}

// resolveType prefers the property's declared domain (or range), then any
// type already seen for the node.
func (g *workingGraph) resolveType(reg *ontology.Registry, predicate, node string, source bool) string {
	if p, ok := reg.Property(predicate); ok {
		if source && p.Domain != "" {
			return p.Domain
		}
		if !source && p.Range != "" {
			return p.Range
		}
	}
	return g.nodeTypes[node]
}

func (g *workingGraph) outgoing(predicate, src string) []string {
	return g.out[predicate][src]
}

func (g *workingGraph) inverseStep(reg *ontology.Registry) {
	for i := 0; i < len(g.order); i++ {
		ref := g.order[i]
		inv, ok := reg.InverseOf(ref.Predicate)
		if !ok {
			continue
		}
		g.derive(reg, ref.Dst, inv, ref.Src, &InverseProvenance{Property: ref.Predicate, Inverse: inv, Input: ref})
	}
}

func (g *workingGraph) symmetricStep(reg *ontology.Registry) {
	for i := 0; i < len(g.order); i++ {
		ref := g.order[i]
		p, ok := reg.Property(ref.Predicate)
		if !ok || !p.Symmetric {
			continue
		}
		g.derive(reg, ref.Dst, ref.Predicate, ref.Src, &SymmetricProvenance{Property: ref.Predicate, Input: ref})
	}
}

func (g *workingGraph) subPropertyStep(reg *ontology.Registry) {
	for i := 0; i < len(g.order); i++ {
		ref := g.order[i]
		for _, super := range reg.SuperPropertiesOf(ref.Predicate) {
			g.derive(reg, ref.Src, super, ref.Dst, &SubPropertyProvenance{SubProperty: ref.Predicate, SuperProperty: super, Input: ref})
		}
	}
}

// chainStep walks every chain from the snapshot entity. Edges a chain adds
// are visible to the chains evaluated after it in the same pass.
func (g *workingGraph) chainStep(reg *ontology.Registry) {
	for _, ch := range reg.PropertyChains() {
		reached := g.walkChain(reg, ch)
		prov := func(path []models.EdgeRef) Provenance {
			return &ChainProvenance{ChainID: ch.ID(), Chain: slices.Clone(ch.Chain), Path: path}
		}
		for _, hit := range reached {
			if hit.node == g.entityID {
				continue
			}
			g.derive(reg, g.entityID, ch.Implies, hit.node, prov(hit.path))
		}
	}
}

type reachedNode struct {
	node string
	path []models.EdgeRef
}

func (g *workingGraph) walkChain(reg *ontology.Registry, ch ontology.PropertyChainDef) []reachedNode {
	frontier := []reachedNode{{node: g.entityID}}
	for _, p := range ch.Chain {
		if _, declared := reg.Property(p); !declared {
			return nil
		}
		if reg.IsTransitive(p) {
			frontier = g.closure(p, frontier)
		} else {
			frontier = g.step(p, frontier)
		}
		if len(frontier) == 0 {
			return nil
		}
	}
	return frontier
}

// step follows one hop of p from every frontier node. The first path to
// reach a node is kept.
func (g *workingGraph) step(p string, frontier []reachedNode) []reachedNode {
	var next []reachedNode
	seen := make(map[string]bool)
	for _, f := range frontier {
		for _, y := range g.outgoing(p, f.node) {
			if seen[y] {
				continue
			}
			seen[y] = true
			next = append(next, reachedNode{node: y, path: appendRef(f.path, models.EdgeRef{Src: f.node, Predicate: p, Dst: y})})
		}
	}
	return next
}

// closure follows one or more hops of p breadth-first with a visited guard,
// so cycles yield a finite result.
func (g *workingGraph) closure(p string, frontier []reachedNode) []reachedNode {
	visited := make(map[string]bool, len(frontier))
	queue := make([]reachedNode, 0, len(frontier))
	for _, f := range frontier {
		if !visited[f.node] {
			visited[f.node] = true
			queue = append(queue, f)
		}
	}

	var next []reachedNode
	inNext := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, y := range g.outgoing(p, cur.node) {
			hop := reachedNode{node: y, path: appendRef(cur.path, models.EdgeRef{Src: cur.node, Predicate: p, Dst: y})}
			if !inNext[y] {
				inNext[y] = true
				next = append(next, hop)
			}
			if !visited[y] {
				visited[y] = true
				queue = append(queue, hop)
			}
		}
	}
	return next
}

// transitiveStep materializes the closure of every transitive property the
// entity has outgoing edges on.
func (g *workingGraph) transitiveStep(reg *ontology.Registry) {
	for _, pid := range reg.TransitiveProperties() {
		if len(g.outgoing(pid, g.entityID)) == 0 {
			continue
		}
		for _, hit := range g.closure(pid, []reachedNode{{node: g.entityID}}) {
			if hit.node == g.entityID {
				continue
			}
			g.derive(reg, g.entityID, pid, hit.node, &TransitiveProvenance{Property: pid, Path: hit.path})
		}
	}
}

func appendRef(path []models.EdgeRef, ref models.EdgeRef) []models.EdgeRef {
	out := make([]models.EdgeRef, len(path), len(path)+1)
	copy(out, path)
	return append(out, ref)
}

func entityTypes(snap EntitySnapshot, reg *ontology.Registry) []string {
	set := make(map[string]bool)
	add := func(class string) {
		if class == "" || set[class] {
			return
		}
		set[class] = true
		for _, a := range reg.AncestorsOf(class) {
			set[a] = true
		}
	}
	add(snap.EntityType)
	for _, e := range snap.ExplicitEdges {
		if e.SrcID != snap.EntityID {
			continue
		}
		if p, ok := reg.Property(e.Predicate); ok {
			add(p.Domain)
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
