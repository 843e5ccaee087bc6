package reasoning

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// OutgoingEdgeLister is the store read the incremental evaluator needs. The
// store returns explicit and previously derived edges alike.
type OutgoingEdgeLister interface {
	ListOutgoingBy(ctx context.Context, tenantID, src, predicate string) ([]*models.EdgeRecord, error)
}

// EvaluationResult is the outcome of one incremental evaluation.
type EvaluationResult struct {
	// DerivedEdges is the complete set of chain-derived edges rooted at the
	// source, sorted by predicate then destination. Derived edges of the
	// evaluated predicates missing from this list are stale.
	DerivedEdges []*models.EdgeRecord
	// ImpliedPredicates lists the implied predicates of every chain evaluated,
	// i.e. the scope within which absence means retraction.
	ImpliedPredicates []string
	CacheHits         int
	CacheMisses       int
}

// IncrementalChainEvaluator recomputes chain-derived edges for one source
// entity, reading hops from an edge store. Reads are memoized per call; no
// state is shared between calls.
type IncrementalChainEvaluator struct {
	maxPasses int
	now       func() time.Time
}

// EvaluatorOption configures an IncrementalChainEvaluator.
type EvaluatorOption func(*IncrementalChainEvaluator)

// WithMaxPasses bounds how many times the selected chains are re-walked to
// pick up edges implied earlier in the same call.
func WithMaxPasses(n int) EvaluatorOption {
	return func(e *IncrementalChainEvaluator) {
		if n > 0 {
			e.maxPasses = n
		}
	}
}

// WithClock sets the timestamp source for emitted records.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *IncrementalChainEvaluator) {
		e.now = now
	}
}

// NewIncrementalChainEvaluator creates an evaluator.
func NewIncrementalChainEvaluator(opts ...EvaluatorOption) *IncrementalChainEvaluator {
	e := &IncrementalChainEvaluator{maxPasses: DefaultMaxIterations, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type hopKey struct {
	node      string
	predicate string
}

// hop is one outgoing edge as seen by the evaluator.
type hop struct {
	dst      string
	srcType  string
	dstType  string
	explicit bool
}

type candidate struct {
	ref      models.EdgeRef
	srcType  string
	dstType  string
	supports []*ChainProvenance
}

type evaluation struct {
	ctx      context.Context
	tenantID string
	sourceID string
	reg      *ontology.Registry
	store    OutgoingEdgeLister

	// chainIDs and chainImplied identify stored rows this call re-derives.
	chainIDs     map[string]bool
	chainImplied map[string]bool

	memo    map[hopKey][]hop
	overlay map[hopKey][]hop
	hits    int
	misses  int

	// banned holds functional candidates discarded in an earlier round.
	banned     map[models.EdgeRef]bool
	candidates map[models.EdgeRef]*candidate
	order      []models.EdgeRef
}

// Evaluate recomputes the chain-derived edges rooted at sourceID.
//
// Chains with a step in changedPredicates are walked; an empty
// changedPredicates walks every chain. Chains that consume a walked chain's
// implied predicate are walked too, as are chains implying any step or the
// implied predicate of a walked chain. Stored chain-derived edges leaving sourceID under those
// implied predicates are ignored: they are what this call recomputes, and
// only their re-derived versions may feed later hops.
//
// Functional predicates are resolved before their values reach other
// chains. When resolution discards a candidate the walk is repeated without
// it, so nothing is built on a discarded value.
//
// Each (node, predicate) pair is read from the store at most once per call.
// Store errors are returned wrapped with no partial result.
func (e *IncrementalChainEvaluator) Evaluate(
	ctx context.Context,
	tenantID, sourceID string,
	changedPredicates []string,
	reg *ontology.Registry,
	store OutgoingEdgeLister,
) (*EvaluationResult, error) {
	if reg == nil {
		return &EvaluationResult{}, nil
	}
	chains := selectChains(reg.PropertyChains(), changedPredicates)
	ev := &evaluation{
		ctx:          ctx,
		tenantID:     tenantID,
		sourceID:     sourceID,
		reg:          reg,
		store:        store,
		chainIDs:     make(map[string]bool),
		chainImplied: make(map[string]bool),
		memo:         make(map[hopKey][]hop),
		banned:       make(map[models.EdgeRef]bool),
	}
	for _, ch := range chains {
		ev.chainIDs[ch.ID()] = true
		ev.chainImplied[ch.Implies] = true
	}

	now := e.now()
	var records []*models.EdgeRecord
	for {
		ev.reset()
		if err := e.walk(ev, chains); err != nil {
			return nil, err
		}
		var discarded []models.EdgeRef
		var err error
		records, discarded, err = ev.emit(now)
		if err != nil {
			return nil, err
		}
		if len(discarded) == 0 {
			break
		}
		for _, ref := range discarded {
			ev.banned[ref] = true
		}
	}

	result := &EvaluationResult{
		DerivedEdges: records,
		CacheHits:    ev.hits,
		CacheMisses:  ev.misses,
	}
	for p := range ev.chainImplied {
		result.ImpliedPredicates = append(result.ImpliedPredicates, p)
	}
	slices.Sort(result.ImpliedPredicates)
	return result, nil
}

// walk re-walks the chains until a pass records no new edge.
func (e *IncrementalChainEvaluator) walk(ev *evaluation, chains []ontology.PropertyChainDef) error {
	for pass := 0; pass < e.maxPasses; pass++ {
		progress := false
		for _, ch := range chains {
			if err := ev.ctx.Err(); err != nil {
				return err
			}
			added, err := ev.evaluateChain(ch)
			if err != nil {
				return err
			}
			progress = progress || added
		}
		if !progress {
			return nil
		}
	}
	return nil
}

// selectChains returns the chains touching a changed predicate, closed over
// chains that consume their implied predicates, chains implying one of their
// steps and chains sharing their implied predicate. An empty changed set
// selects every chain.
func selectChains(chains []ontology.PropertyChainDef, changed []string) []ontology.PropertyChainDef {
	if len(changed) == 0 {
		return chains
	}
	// consumed: predicates whose edges changed or are re-derived here.
	// needed: predicates some selected chain walks.
	consumed := make(map[string]bool, len(changed))
	for _, p := range changed {
		consumed[p] = true
	}
	needed := make(map[string]bool)
	selected := make([]bool, len(chains))
	for grew := true; grew; {
		grew = false
		for i, ch := range chains {
			if selected[i] {
				continue
			}
			if !needed[ch.Implies] && !consumed[ch.Implies] &&
				!slices.ContainsFunc(ch.Chain, func(p string) bool { return consumed[p] }) {
				continue
			}
			selected[i] = true
			grew = true
			consumed[ch.Implies] = true
			for _, p := range ch.Chain {
				needed[p] = true
			}
		}
	}

	var out []ontology.PropertyChainDef
	for i, ch := range chains {
		if selected[i] {
			out = append(out, ch)
		}
	}
	return out
}

func (ev *evaluation) reset() {
	ev.overlay = make(map[hopKey][]hop)
	ev.candidates = make(map[models.EdgeRef]*candidate)
	ev.order = nil
}

// rederived reports whether a stored row leaving the source is one of the
// chain-derived edges this call recomputes.
func (ev *evaluation) rederived(r *models.EdgeRecord) bool {
	if !r.Inferred || !ev.chainImplied[r.Predicate] {
		return false
	}
	return !slices.ContainsFunc(r.Support, func(s models.Support) bool { return !ev.chainIDs[s.RuleID] })
}

// lookup returns the outgoing hops of (node, predicate): store results read
// once and cached, plus edges implied earlier in this call.
func (ev *evaluation) lookup(node, predicate string) ([]hop, error) {
	key := hopKey{node: node, predicate: predicate}
	hops, ok := ev.memo[key]
	if ok {
		ev.hits++
	} else {
		ev.misses++
		records, err := ev.store.ListOutgoingBy(ev.ctx, ev.tenantID, node, predicate)
		if err != nil {
			return nil, fmt.Errorf("failed to list outgoing %s edges of %s: %w", predicate, node, err)
		}
		index := make(map[string]int, len(records))
		hops = make([]hop, 0, len(records))
		for _, r := range records {
			if node == ev.sourceID && ev.rederived(r) {
				continue
			}
			if i, dup := index[r.Dst]; dup {
				hops[i].explicit = hops[i].explicit || r.IsExplicit()
				continue
			}
			index[r.Dst] = len(hops)
			hops = append(hops, hop{dst: r.Dst, srcType: r.SrcType, dstType: r.DstType, explicit: r.IsExplicit()})
		}
		ev.memo[key] = hops
	}

	extra := ev.overlay[key]
	if len(extra) == 0 {
		return hops, nil
	}
	merged := slices.Clone(hops)
	for _, x := range extra {
		if !slices.ContainsFunc(merged, func(h hop) bool { return h.dst == x.dst }) {
			merged = append(merged, x)
		}
	}
	return merged, nil
}

// explicitTargets returns destinations of authoritative (non-derived)
// edges for (node, predicate).
func (ev *evaluation) explicitTargets(node, predicate string) ([]string, error) {
	hops, err := ev.lookup(node, predicate)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, h := range hops {
		if h.explicit {
			out = append(out, h.dst)
		}
	}
	return out, nil
}

type walkState struct {
	node    string
	srcType string
	dstType string
	path    []models.EdgeRef
}

func (ev *evaluation) evaluateChain(ch ontology.PropertyChainDef) (bool, error) {
	frontier := []walkState{{node: ev.sourceID}}
	for _, p := range ch.Chain {
		var err error
		if ev.reg.IsTransitive(p) {
			frontier, err = ev.closure(p, frontier)
		} else {
			frontier, err = ev.step(p, frontier)
		}
		if err != nil {
			return false, err
		}
		if len(frontier) == 0 {
			return false, nil
		}
	}

	if ev.reg.IsTransitive(ch.Implies) {
		extended, err := ev.closure(ch.Implies, frontier)
		if err != nil {
			return false, err
		}
		frontier = appendUnique(frontier, extended)
	}

	added := false
	for _, w := range frontier {
		if w.node == ev.sourceID {
			continue
		}
		if ev.record(ch, w) {
			added = true
		}
	}
	return added, nil
}

func (ev *evaluation) step(p string, frontier []walkState) ([]walkState, error) {
	var next []walkState
	seen := make(map[string]bool)
	for _, f := range frontier {
		hops, err := ev.lookup(f.node, p)
		if err != nil {
			return nil, err
		}
		for _, h := range hops {
			if seen[h.dst] {
				continue
			}
			seen[h.dst] = true
			next = append(next, ev.advance(f, p, h))
		}
	}
	return next, nil
}

// closure expands p one or more hops from the frontier with a visited guard.
func (ev *evaluation) closure(p string, frontier []walkState) ([]walkState, error) {
	visited := make(map[string]bool, len(frontier))
	queue := make([]walkState, 0, len(frontier))
	for _, f := range frontier {
		if !visited[f.node] {
			visited[f.node] = true
			queue = append(queue, f)
		}
	}

	var next []walkState
	inNext := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		hops, err := ev.lookup(cur.node, p)
		if err != nil {
			return nil, err
		}
		for _, h := range hops {
			w := ev.advance(cur, p, h)
			if !inNext[h.dst] {
				inNext[h.dst] = true
				next = append(next, w)
			}
			if !visited[h.dst] {
				visited[h.dst] = true
				queue = append(queue, w)
			}
		}
	}
	return next, nil
}

func (ev *evaluation) advance(from walkState, p string, h hop) walkState {
	srcType := from.srcType
	if len(from.path) == 0 {
		srcType = h.srcType
	}
	return walkState{
		node:    h.dst,
		srcType: srcType,
		dstType: h.dstType,
		path:    appendRef(from.path, models.EdgeRef{Src: from.node, Predicate: p, Dst: h.dst}),
	}
}

func appendUnique(base, extra []walkState) []walkState {
	seen := make(map[string]bool, len(base))
	for _, w := range base {
		seen[w.node] = true
	}
	for _, w := range extra {
		if !seen[w.node] {
			seen[w.node] = true
			base = append(base, w)
		}
	}
	return base
}

// record registers a candidate edge and its support. It returns true when
// the (src, predicate, dst) triple is new in this call.
func (ev *evaluation) record(ch ontology.PropertyChainDef, w walkState) bool {
	ref := models.EdgeRef{Src: ev.sourceID, Predicate: ch.Implies, Dst: w.node}
	if ev.banned[ref] {
		return false
	}
	support := &ChainProvenance{ChainID: ch.ID(), Chain: slices.Clone(ch.Chain), Path: w.path}

	if c, ok := ev.candidates[ref]; ok {
		for _, s := range c.supports {
			if s.ChainID == support.ChainID && slices.Equal(s.Path, support.Path) {
				return false
			}
		}
		c.supports = append(c.supports, support)
		return false
	}

	c := &candidate{
		ref:      ref,
		srcType:  ev.typeFor(ch.Implies, true, w.srcType),
		dstType:  ev.typeFor(ch.Implies, false, w.dstType),
		supports: []*ChainProvenance{support},
	}
	ev.candidates[ref] = c
	ev.order = append(ev.order, ref)

	key := hopKey{node: ev.sourceID, predicate: ch.Implies}
	ev.overlay[key] = append(ev.overlay[key], hop{dst: w.node, srcType: c.srcType, dstType: c.dstType})
	return true
}

func (ev *evaluation) typeFor(predicate string, source bool, observed string) string {
	if p, ok := ev.reg.Property(predicate); ok {
		if source && p.Domain != "" {
			return p.Domain
		}
		if !source && p.Range != "" {
			return p.Range
		}
	}
	return observed
}

// emit applies functional conflict resolution and builds the records. It
// also returns the candidates resolution discarded.
func (ev *evaluation) emit(now time.Time) ([]*models.EdgeRecord, []models.EdgeRef, error) {
	byPredicate := make(map[string][]*candidate)
	for _, ref := range ev.order {
		c := ev.candidates[ref]
		byPredicate[ref.Predicate] = append(byPredicate[ref.Predicate], c)
	}

	var out []*models.EdgeRecord
	var discarded []models.EdgeRef
	for predicate, cands := range byPredicate {
		if ev.reg.IsFunctional(predicate) {
			resolved, err := ev.resolveFunctional(predicate, cands)
			if err != nil {
				return nil, nil, err
			}
			for _, c := range cands {
				if !slices.Contains(resolved, c) {
					discarded = append(discarded, c.ref)
				}
			}
			cands = resolved
		}
		for _, c := range cands {
			out = append(out, ev.toRecord(c, now))
		}
	}

	slices.SortFunc(out, func(a, b *models.EdgeRecord) int {
		return cmp.Or(cmp.Compare(a.Predicate, b.Predicate), cmp.Compare(a.Dst, b.Dst))
	})
	return out, discarded, nil
}

// resolveFunctional keeps at most one candidate. An existing explicit edge
// for (source, predicate) wins: only a candidate agreeing with it survives.
// Otherwise the lexicographically smallest destination is chosen.
func (ev *evaluation) resolveFunctional(predicate string, cands []*candidate) ([]*candidate, error) {
	explicit, err := ev.explicitTargets(ev.sourceID, predicate)
	if err != nil {
		return nil, err
	}
	if len(explicit) > 0 {
		for _, c := range cands {
			if slices.Contains(explicit, c.ref.Dst) {
				return []*candidate{c}, nil
			}
		}
		return nil, nil
	}
	best := slices.MinFunc(cands, func(a, b *candidate) int {
		return cmp.Compare(a.ref.Dst, b.ref.Dst)
	})
	return []*candidate{best}, nil
}

func (ev *evaluation) toRecord(c *candidate, now time.Time) *models.EdgeRecord {
	supports := make([]models.Support, 0, len(c.supports))
	for _, s := range c.supports {
		supports = append(supports, models.Support{RuleID: s.ChainID, PathEdges: s.Path})
	}
	prov := c.supports[0].Fields()
	if len(c.supports) > 1 {
		ids := make([]string, 0, len(c.supports))
		for _, s := range c.supports {
			if !slices.Contains(ids, s.ChainID) {
				ids = append(ids, s.ChainID)
			}
		}
		prov["chains"] = ids
	}
	return &models.EdgeRecord{
		TenantID:   ev.tenantID,
		SrcType:    c.srcType,
		Src:        c.ref.Src,
		Predicate:  c.ref.Predicate,
		DstType:    c.dstType,
		Dst:        c.ref.Dst,
		Inferred:   true,
		Derived:    true,
		Provenance: prov,
		Support:    supports,
		Timestamp:  now,
	}
}
