package repositories

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

// memoryEdgeStore keeps edges in process. It applies the same write rules
// as the Postgres store and returns copies so callers cannot mutate state.
type memoryEdgeStore struct {
	mu      sync.RWMutex
	tenants map[string]map[models.EdgeRef]*models.EdgeRecord
	now     func() time.Time
}

// NewMemoryEdgeStore creates an in-process EdgeStore.
func NewMemoryEdgeStore() EdgeStore {
	return &memoryEdgeStore{
		tenants: make(map[string]map[models.EdgeRef]*models.EdgeRecord),
		now:     time.Now,
	}
}

var _ EdgeStore = (*memoryEdgeStore)(nil)

func (s *memoryEdgeStore) Upsert(ctx context.Context, edge *models.EdgeRecord) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(edge)
	return nil
}

func (s *memoryEdgeStore) UpsertDerived(ctx context.Context, edge *models.EdgeRecord) error {
	markDerived(edge)
	return s.Upsert(ctx, edge)
}

func (s *memoryEdgeStore) UpsertMany(ctx context.Context, edges []*models.EdgeRecord) error {
	for _, edge := range edges {
		if err := validateEdge(edge); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, edge := range edges {
		if len(edge.Support) > 0 {
			markDerived(edge)
		}
		s.put(edge)
	}
	return nil
}

// put must be called with the write lock held.
func (s *memoryEdgeStore) put(edge *models.EdgeRecord) {
	rows, ok := s.tenants[edge.TenantID]
	if !ok {
		rows = make(map[models.EdgeRef]*models.EdgeRecord)
		s.tenants[edge.TenantID] = rows
	}

	ref := edge.Ref()
	existing, exists := rows[ref]
	if exists && existing.IsExplicit() && !edge.IsExplicit() {
		return
	}
	if edge.ID == uuid.Nil {
		if exists {
			edge.ID = existing.ID
		} else {
			edge.ID = uuid.New()
		}
	}
	if edge.Timestamp.IsZero() {
		edge.Timestamp = s.now()
	}
	rows[ref] = cloneEdge(edge)
}

func (s *memoryEdgeStore) FindBySrc(ctx context.Context, tenantID, src string) ([]*models.EdgeRecord, error) {
	out := s.filter(tenantID, func(e *models.EdgeRecord) bool { return e.Src == src })
	slices.SortFunc(out, func(a, b *models.EdgeRecord) int {
		return cmp.Or(cmp.Compare(a.Predicate, b.Predicate), cmp.Compare(a.Dst, b.Dst))
	})
	return out, nil
}

func (s *memoryEdgeStore) ListOutgoingBy(ctx context.Context, tenantID, src, predicate string) ([]*models.EdgeRecord, error) {
	out := s.filter(tenantID, func(e *models.EdgeRecord) bool { return e.Src == src && e.Predicate == predicate })
	slices.SortFunc(out, func(a, b *models.EdgeRecord) int { return cmp.Compare(a.Dst, b.Dst) })
	return out, nil
}

func (s *memoryEdgeStore) ListIncomingBy(ctx context.Context, tenantID, predicate, dst string) ([]*models.EdgeRecord, error) {
	out := s.filter(tenantID, func(e *models.EdgeRecord) bool { return e.Predicate == predicate && e.Dst == dst })
	slices.SortFunc(out, func(a, b *models.EdgeRecord) int { return cmp.Compare(a.Src, b.Src) })
	return out, nil
}

func (s *memoryEdgeStore) DeleteInferredBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return s.deleteNotIn(tenantID, src, predicate, keep, func(e *models.EdgeRecord) bool {
		return e.Inferred
	}), nil
}

func (s *memoryEdgeStore) DeleteExplicitBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return s.deleteNotIn(tenantID, src, predicate, keep, (*models.EdgeRecord).IsExplicit), nil
}

func (s *memoryEdgeStore) DeleteDerivedBySrcNotIn(ctx context.Context, tenantID, src, predicate string, keep []string) (int64, error) {
	return s.deleteNotIn(tenantID, src, predicate, keep, func(e *models.EdgeRecord) bool {
		return e.Origin() == models.OriginComputed
	}), nil
}

func (s *memoryEdgeStore) deleteNotIn(tenantID, src, predicate string, keep []string, origin func(*models.EdgeRecord) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for ref, e := range s.tenants[tenantID] {
		if ref.Src != src || ref.Predicate != predicate || !origin(e) || slices.Contains(keep, ref.Dst) {
			continue
		}
		delete(s.tenants[tenantID], ref)
		removed++
	}
	return removed
}

func (s *memoryEdgeStore) PruneDerivedWithoutSupport(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tenants[tenantID]
	var derived []*models.EdgeRecord
	for _, e := range rows {
		if e.Derived && e.Inferred {
			derived = append(derived, e)
		}
	}
	stale := unfoundedDerived(derived, func(ref models.EdgeRef) bool {
		e, ok := rows[ref]
		return ok && !(e.Derived && e.Inferred)
	})
	for _, ref := range stale {
		delete(rows, ref)
	}
	return int64(len(stale)), nil
}

func (s *memoryEdgeStore) filter(tenantID string, match func(*models.EdgeRecord) bool) []*models.EdgeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EdgeRecord
	for _, e := range s.tenants[tenantID] {
		if match(e) {
			out = append(out, cloneEdge(e))
		}
	}
	return out
}

func cloneEdge(e *models.EdgeRecord) *models.EdgeRecord {
	c := *e
	c.Provenance = maps.Clone(e.Provenance)
	if e.Support != nil {
		c.Support = make([]models.Support, len(e.Support))
		for i, sup := range e.Support {
			c.Support[i] = models.Support{RuleID: sup.RuleID, PathEdges: slices.Clone(sup.PathEdges)}
		}
	}
	return &c
}
