package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/computed"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/config"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/metrics"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/retry"
)

// SourceLoader fetches the domain object a computed-edge provider reads.
// It returns apperrors.ErrNotFound when the source no longer exists.
type SourceLoader interface {
	LoadSource(ctx context.Context, tenantID, entityType, entityID string) (any, error)
}

// DependencyChange identifies an entity whose change may stale computed edges.
type DependencyChange struct {
	TenantID   string
	Realm      string
	Domain     models.DataDomain
	EntityType string
	EntityID   string
}

// RecomputeResult summarizes one dependency change.
type RecomputeResult struct {
	// Sources is the number of distinct sources found stale.
	Sources    int
	Recomputed int
	Removed    int
	// Err joins per-source and per-provider failures. Healthy sources are
	// recomputed regardless.
	Err error
}

// RecomputeHandler refreshes computed edges after their dependencies change.
type RecomputeHandler interface {
	OnDependencyChanged(ctx context.Context, change DependencyChange) (*RecomputeResult, error)
}

type recomputeHandler struct {
	schemas     SchemaService
	store       repositories.EdgeStore
	providers   *computed.Registry
	loader      SourceLoader
	evaluator   *reasoning.IncrementalChainEvaluator
	getTenant   TenantContextFunc
	concurrency int
	retryCfg    *retry.Config
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewRecomputeHandler creates a new RecomputeHandler.
func NewRecomputeHandler(
	schemas SchemaService,
	store repositories.EdgeStore,
	providers *computed.Registry,
	loader SourceLoader,
	getTenant TenantContextFunc,
	cfg *config.ReasonerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) RecomputeHandler {
	return &recomputeHandler{
		schemas:     schemas,
		store:       store,
		providers:   providers,
		loader:      loader,
		evaluator:   reasoning.NewIncrementalChainEvaluator(reasoning.WithMaxPasses(cfg.MaxChainPasses)),
		getTenant:   getTenant,
		concurrency: max(cfg.RecomputeConcurrency, 1),
		retryCfg:    retry.WithAttempts(cfg.StoreRetries),
		metrics:     m,
		logger:      logger.Named("recompute-handler"),
	}
}

var _ RecomputeHandler = (*recomputeHandler)(nil)

// staleSource is one source to recompute with every provider of its type.
type staleSource struct {
	entityType string
	entityID   string
}

func (h *recomputeHandler) OnDependencyChanged(ctx context.Context, change DependencyChange) (*RecomputeResult, error) {
	if change.TenantID == "" {
		return nil, fmt.Errorf("tenant id must be provided")
	}
	if !h.providers.HasDependentsFor(change.EntityType) {
		return &RecomputeResult{}, nil
	}

	affected, findErr := h.providers.FindAffectedSources(ctx, change.Realm, change.Domain, change.EntityType, change.EntityID)
	for id := range failedProviderIDs(findErr) {
		h.metrics.ProviderFailed(id)
	}

	var stale []staleSource
	for _, a := range affected {
		for _, id := range a.SourceIDs {
			s := staleSource{entityType: a.Provider.SourceType(), entityID: id}
			if !slices.Contains(stale, s) {
				stale = append(stale, s)
			}
		}
	}

	result := &RecomputeResult{Sources: len(stale)}
	if len(stale) == 0 {
		result.Err = findErr
		return result, nil
	}

	reg, err := h.schemas.Registry(ctx, change.TenantID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	getTenant := WithRecomputeTriggerWrapper(h.getTenant, models.RecomputeTrigger{
		Reason:     TriggerDependencyChanged,
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
	})

	var (
		mu   sync.Mutex
		errs = []error{findErr}
	)
	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for _, s := range stale {
		g.Go(func() error {
			removed, err := h.recomputeSource(ctx, getTenant, change, reg, s)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("recompute %s %s: %w", s.entityType, s.entityID, err))
				return nil
			}
			if removed {
				result.Removed++
			} else {
				result.Recomputed++
			}
			return nil
		})
	}
	_ = g.Wait()

	// One prune after the fan-out; concurrent prunes would race over the same rows.
	pruneCtx, cleanup, err := getTenant(ctx, change.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()
	pruned, err := h.store.PruneDerivedWithoutSupport(pruneCtx, change.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to prune unsupported edges: %w", err)
	}
	h.metrics.EdgesDeleted(models.OriginInferred.String(), pruned)

	result.Err = errors.Join(errs...)
	h.logger.Info("Recomputed computed edges",
		zap.String("tenant_id", change.TenantID),
		zap.String("changed_type", change.EntityType),
		zap.String("changed_id", change.EntityID),
		zap.Int("sources", result.Sources),
		zap.Int("recomputed", result.Recomputed),
		zap.Int("removed", result.Removed),
		zap.Int64("pruned", pruned),
		zap.Bool("partial", result.Err != nil))
	return result, nil
}

// recomputeSource runs every provider of the source's type and reconciles
// their predicates. removed is true when the source no longer exists and
// its computed edges were dropped. Each call takes its own tenant scope;
// a scoped connection is not safe for concurrent use.
//
// Chain-derived rows that lost a computed hop are left to the prune that
// follows the fan-out.
func (h *recomputeHandler) recomputeSource(
	ctx context.Context,
	getTenant TenantContextFunc,
	change DependencyChange,
	reg *ontology.Registry,
	s staleSource,
) (removed bool, err error) {
	tenantCtx, cleanup, err := getTenant(ctx, change.TenantID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	source, err := h.loader.LoadSource(tenantCtx, change.TenantID, s.entityType, s.entityID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		removed = true
	case err != nil:
		return false, fmt.Errorf("failed to load source: %w", err)
	}

	var (
		edges      []reasoning.Edge
		computeErr error
	)
	failed := map[string]bool{}
	if !removed {
		edges, computeErr = h.providers.ComputeEdges(tenantCtx, change.Realm, change.Domain, s.entityType, s.entityID, source)
		if computeErr != nil {
			failed = failedProviderIDs(computeErr)
			for id := range failed {
				h.metrics.ProviderFailed(id)
			}
		}
	}

	predicates := providerPredicates(h.providers, s.entityType, failed)
	err = retry.Do(tenantCtx, h.retryCfg, func() error {
		return h.reconcileSource(tenantCtx, change.TenantID, s.entityID, reg, edges, predicates)
	})
	if err != nil {
		return false, err
	}
	return removed, computeErr
}

func (h *recomputeHandler) reconcileSource(
	ctx context.Context,
	tenantID, sourceID string,
	reg *ontology.Registry,
	edges []reasoning.Edge,
	predicates []string,
) error {
	recs := toRecords(tenantID, edges)
	annotateTrigger(ctx, recs)
	if err := h.store.UpsertMany(ctx, recs); err != nil {
		return fmt.Errorf("failed to write computed edges: %w", err)
	}
	h.metrics.EdgesWritten(models.OriginComputed.String(), len(recs))

	keep := keepSets(sourceID, recs)
	for _, p := range predicates {
		n, err := h.store.DeleteDerivedBySrcNotIn(ctx, tenantID, sourceID, p, keep[p])
		if err != nil {
			return fmt.Errorf("failed to delete stale computed %s edges: %w", p, err)
		}
		h.metrics.EdgesDeleted(models.OriginComputed.String(), n)
	}

	if reg == nil || len(predicates) == 0 {
		return nil
	}
	eval, err := h.evaluator.Evaluate(ctx, tenantID, sourceID, predicates, reg, h.store)
	if err != nil {
		return fmt.Errorf("failed to evaluate property chains: %w", err)
	}
	h.metrics.ObserveChainEvaluation(len(eval.DerivedEdges), eval.CacheHits, eval.CacheMisses)
	if err := h.store.UpsertMany(ctx, eval.DerivedEdges); err != nil {
		return fmt.Errorf("failed to write chain-derived edges: %w", err)
	}
	h.metrics.EdgesWritten(models.OriginInferred.String(), len(eval.DerivedEdges))
	return nil
}
