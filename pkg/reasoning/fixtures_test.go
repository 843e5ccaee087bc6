package reasoning

import (
	"context"
	"errors"
	"sync"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

func placementRegistry() *ontology.Registry {
	return ontology.MustNewRegistry(ontology.NewTBox(
		[]ontology.ClassDef{
			{ID: "Order"},
			{ID: "Customer"},
			{ID: "Organization"},
		},
		[]ontology.PropertyDef{
			{ID: "placedBy", Domain: "Order", Range: "Customer"},
			{ID: "memberOf", Domain: "Customer", Range: "Organization"},
			{ID: "placedInOrg", Domain: "Order", Range: "Organization"},
			{ID: "ancestorOf", Domain: "Organization", Range: "Organization", Transitive: true},
		},
		[]ontology.PropertyChainDef{
			{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"},
			{Chain: []string{"placedInOrg", "ancestorOf"}, Implies: "placedInOrg"},
		},
	))
}

func explicit(src, p, dst string) Edge {
	return Edge{SrcID: src, Predicate: p, DstID: dst}
}

// countingStore is an in-memory OutgoingEdgeLister that counts reads per
// (src, predicate).
type countingStore struct {
	mu      sync.Mutex
	edges   []*models.EdgeRecord
	queries map[string]int
	failOn  string
}

func newCountingStore(records ...*models.EdgeRecord) *countingStore {
	return &countingStore{edges: records, queries: make(map[string]int)}
}

var errStoreDown = errors.New("store unavailable")

func (s *countingStore) ListOutgoingBy(ctx context.Context, tenantID, src, predicate string) ([]*models.EdgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[src+"|"+predicate]++
	if s.failOn == src+"|"+predicate {
		return nil, errStoreDown
	}
	var out []*models.EdgeRecord
	for _, e := range s.edges {
		if e.TenantID == tenantID && e.Src == src && e.Predicate == predicate {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *countingStore) count(src, predicate string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[src+"|"+predicate]
}

func (s *countingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.queries {
		n += c
	}
	return n
}

func base(src, p, dst string) *models.EdgeRecord {
	return &models.EdgeRecord{TenantID: "t1", Src: src, Predicate: p, Dst: dst}
}

func derivedRecord(src, p, dst string) *models.EdgeRecord {
	r := base(src, p, dst)
	r.Inferred = true
	r.Derived = true
	return r
}

func dsts(edges []Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.DstID)
	}
	return out
}

func recordRefs(records []*models.EdgeRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Ref().String())
	}
	return out
}
