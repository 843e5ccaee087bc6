package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/computed"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/config"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/metrics"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/retry"
)

// Recompute trigger reasons recorded in computed-edge provenance.
const (
	TriggerMaterialize       = "materialize"
	TriggerDependencyChanged = "dependency-changed"
)

// MaterializeRequest is one entity's current explicit state.
type MaterializeRequest struct {
	TenantID   string
	Realm      string
	Domain     models.DataDomain
	EntityType string
	EntityID   string
	// Explicit holds the entity's edges. Edges leaving EntityID are the
	// complete set; stored explicit edges from EntityID not listed here are
	// removed. Incoming edges are upserted and feed inverse/symmetric rules.
	Explicit []reasoning.Edge
	// Source is handed to computed-edge providers. Nil skips them.
	Source any
}

// MaterializeResult reports what one materialization did.
type MaterializeResult struct {
	Inference    reasoning.InferenceResult
	Computed     []reasoning.Edge
	ChainDerived []*models.EdgeRecord
	Written      map[models.EdgeOrigin]int
	Deleted      map[models.EdgeOrigin]int64
	Pruned       int64
	// ProviderErr joins the failures of computed-edge providers. Their
	// previously stored edges are left untouched.
	ProviderErr error
}

// Materializer reconciles the edge store with what the ontology entails for one entity.
type Materializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) (*MaterializeResult, error)
}

type materializer struct {
	schemas   SchemaService
	store     repositories.EdgeStore
	providers *computed.Registry
	reasoner  *reasoning.ForwardChainingReasoner
	evaluator *reasoning.IncrementalChainEvaluator
	getTenant TenantContextFunc
	retryCfg  *retry.Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewMaterializer creates a new Materializer. providers may be nil.
func NewMaterializer(
	schemas SchemaService,
	store repositories.EdgeStore,
	providers *computed.Registry,
	getTenant TenantContextFunc,
	cfg *config.ReasonerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) Materializer {
	if providers == nil {
		providers = computed.NewRegistry()
	}
	return &materializer{
		schemas:   schemas,
		store:     store,
		providers: providers,
		reasoner:  reasoning.NewForwardChainingReasoner(reasoning.WithMaxIterations(cfg.MaxIterations)),
		evaluator: reasoning.NewIncrementalChainEvaluator(reasoning.WithMaxPasses(cfg.MaxChainPasses)),
		getTenant: getTenant,
		retryCfg:  retry.WithAttempts(cfg.StoreRetries),
		metrics:   m,
		logger:    logger.Named("materializer"),
	}
}

var _ Materializer = (*materializer)(nil)

func (m *materializer) Materialize(ctx context.Context, req MaterializeRequest) (*MaterializeResult, error) {
	if req.TenantID == "" || req.EntityID == "" {
		return nil, fmt.Errorf("tenant id and entity id must be provided")
	}
	start := time.Now()

	reg, err := m.schemas.Registry(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	explicit := make([]reasoning.Edge, 0, len(req.Explicit))
	for _, e := range req.Explicit {
		e.Inferred = false
		e.Provenance = nil
		if e.SrcID == req.EntityID && e.SrcType == "" {
			e.SrcType = req.EntityType
		}
		if e.DstID == req.EntityID && e.DstType == "" {
			e.DstType = req.EntityType
		}
		explicit = append(explicit, e)
	}

	inference := m.reasoner.Infer(reasoning.EntitySnapshot{
		TenantID:      req.TenantID,
		EntityID:      req.EntityID,
		EntityType:    req.EntityType,
		ExplicitEdges: explicit,
	}, reg)
	m.metrics.ObserveInference(inference.Iterations, len(inference.AddedEdges), inference.Converged)
	if !inference.Converged {
		m.logger.Warn("Forward chaining hit the iteration cap",
			zap.String("tenant_id", req.TenantID),
			zap.String("entity_id", req.EntityID),
			zap.Int("iterations", inference.Iterations))
	}

	result := &MaterializeResult{
		Inference: inference,
		Written:   make(map[models.EdgeOrigin]int),
		Deleted:   make(map[models.EdgeOrigin]int64),
	}

	failed := map[string]bool{}
	if req.Source != nil {
		edges, err := m.providers.ComputeEdges(ctx, req.Realm, req.Domain, req.EntityType, req.EntityID, req.Source)
		if err != nil {
			failed = failedProviderIDs(err)
			for id := range failed {
				m.metrics.ProviderFailed(id)
			}
			result.ProviderErr = err
		}
		result.Computed = edges
	}

	getTenant := WithRecomputeTriggerWrapper(m.getTenant, models.RecomputeTrigger{
		Reason:     TriggerMaterialize,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	})
	tenantCtx, cleanup, err := getTenant(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	err = retry.Do(tenantCtx, m.retryCfg, func() error {
		return m.reconcile(tenantCtx, req, explicit, reg, failed, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize %s: %w", req.EntityID, err)
	}

	for origin, n := range result.Written {
		m.metrics.EdgesWritten(origin.String(), n)
	}
	for origin, n := range result.Deleted {
		m.metrics.EdgesDeleted(origin.String(), n)
	}
	m.metrics.ObserveMaterialize(time.Since(start))

	m.logger.Debug("Materialized entity",
		zap.String("tenant_id", req.TenantID),
		zap.String("entity_id", req.EntityID),
		zap.String("schema_hash", reg.Hash()),
		zap.Int("inferred", len(inference.AddedEdges)),
		zap.Int("computed", len(result.Computed)),
		zap.Int("chain_derived", len(result.ChainDerived)),
		zap.Int64("pruned", result.Pruned))
	return result, nil
}

// reconcile writes and sweeps the store. Every step is idempotent, so the
// whole pass is safe to retry.
func (m *materializer) reconcile(
	ctx context.Context,
	req MaterializeRequest,
	explicit []reasoning.Edge,
	reg *ontology.Registry,
	failed map[string]bool,
	result *MaterializeResult,
) error {
	clear(result.Written)
	clear(result.Deleted)
	result.Pruned = 0

	explicitRecs := toRecords(req.TenantID, explicit)
	if err := m.store.UpsertMany(ctx, explicitRecs); err != nil {
		return fmt.Errorf("failed to write explicit edges: %w", err)
	}
	result.Written[models.OriginExplicit] = len(explicitRecs)

	inferredRecs := toRecords(req.TenantID, result.Inference.AddedEdges)
	if err := m.store.UpsertMany(ctx, inferredRecs); err != nil {
		return fmt.Errorf("failed to write inferred edges: %w", err)
	}
	result.Written[models.OriginInferred] = len(inferredRecs)

	computedRecs := toRecords(req.TenantID, result.Computed)
	annotateTrigger(ctx, computedRecs)
	if err := m.store.UpsertMany(ctx, computedRecs); err != nil {
		return fmt.Errorf("failed to write computed edges: %w", err)
	}
	result.Written[models.OriginComputed] = len(computedRecs)

	// Stale base rows go before chain evaluation so no chain walks through them.
	if err := m.sweepBase(ctx, req, explicitRecs, computedRecs, failed, result); err != nil {
		return err
	}

	changed := outgoingPredicates(req.EntityID, explicit, result.Computed)
	eval, err := m.evaluator.Evaluate(ctx, req.TenantID, req.EntityID, changed, reg, m.store)
	if err != nil {
		return fmt.Errorf("failed to evaluate property chains: %w", err)
	}
	m.metrics.ObserveChainEvaluation(len(eval.DerivedEdges), eval.CacheHits, eval.CacheMisses)
	if err := m.store.UpsertMany(ctx, eval.DerivedEdges); err != nil {
		return fmt.Errorf("failed to write chain-derived edges: %w", err)
	}
	result.ChainDerived = eval.DerivedEdges
	result.Written[models.OriginInferred] += len(eval.DerivedEdges)

	// Chain-implied predicates are re-derived in full above, so anything
	// else stored under them from this entity is stale. Other inferred rows
	// stay while their support holds, which pruning checks.
	inferredKeep := keepSets(req.EntityID, slices.Concat(inferredRecs, eval.DerivedEdges))
	for _, p := range eval.ImpliedPredicates {
		n, err := m.store.DeleteInferredBySrcNotIn(ctx, req.TenantID, req.EntityID, p, inferredKeep[p])
		if err != nil {
			return fmt.Errorf("failed to delete stale inferred %s edges: %w", p, err)
		}
		result.Deleted[models.OriginInferred] += n
	}

	pruned, err := m.store.PruneDerivedWithoutSupport(ctx, req.TenantID)
	if err != nil {
		return fmt.Errorf("failed to prune unsupported edges: %w", err)
	}
	result.Pruned = pruned
	result.Deleted[models.OriginInferred] += pruned
	return nil
}

// sweepBase removes explicit rows leaving the entity that the request no
// longer lists, and computed rows of healthy providers that were not
// produced this run.
func (m *materializer) sweepBase(
	ctx context.Context,
	req MaterializeRequest,
	explicitRecs, computedRecs []*models.EdgeRecord,
	failed map[string]bool,
	result *MaterializeResult,
) error {
	existing, err := m.store.FindBySrc(ctx, req.TenantID, req.EntityID)
	if err != nil {
		return fmt.Errorf("failed to list stored edges: %w", err)
	}

	explicitKeep := keepSets(req.EntityID, explicitRecs)
	for _, p := range storedPredicates(existing, models.OriginExplicit) {
		n, err := m.store.DeleteExplicitBySrcNotIn(ctx, req.TenantID, req.EntityID, p, explicitKeep[p])
		if err != nil {
			return fmt.Errorf("failed to delete stale explicit %s edges: %w", p, err)
		}
		result.Deleted[models.OriginExplicit] += n
	}

	if req.Source == nil {
		return nil
	}
	computedKeep := keepSets(req.EntityID, computedRecs)
	for _, p := range providerPredicates(m.providers, req.EntityType, failed) {
		n, err := m.store.DeleteDerivedBySrcNotIn(ctx, req.TenantID, req.EntityID, p, computedKeep[p])
		if err != nil {
			return fmt.Errorf("failed to delete stale computed %s edges: %w", p, err)
		}
		result.Deleted[models.OriginComputed] += n
	}
	return nil
}

// providerPredicates lists the predicates owned by providers of entityType.
// A predicate shared with a provider that failed this run is left out.
func providerPredicates(registry *computed.Registry, entityType string, failed map[string]bool) []string {
	providers := registry.ProvidersForSourceType(entityType)
	skip := make(map[string]bool)
	for _, p := range providers {
		if failed[p.ProviderID()] {
			skip[p.Predicate()] = true
		}
	}
	var out []string
	for _, p := range providers {
		if skip[p.Predicate()] || slices.Contains(out, p.Predicate()) {
			continue
		}
		out = append(out, p.Predicate())
	}
	return out
}

// annotateTrigger stamps computed records with the recompute trigger carried in ctx.
func annotateTrigger(ctx context.Context, recs []*models.EdgeRecord) {
	trigger, ok := models.GetRecomputeTrigger(ctx)
	if !ok {
		return
	}
	for _, r := range recs {
		if r.Provenance == nil {
			r.Provenance = make(map[string]any)
		}
		r.Provenance["trigger"] = map[string]any{
			"reason":     trigger.Reason,
			"entityType": trigger.EntityType,
			"entityId":   trigger.EntityID,
		}
	}
}

func toRecords(tenantID string, edges []reasoning.Edge) []*models.EdgeRecord {
	recs := make([]*models.EdgeRecord, 0, len(edges))
	for _, e := range edges {
		recs = append(recs, e.ToRecord(tenantID))
	}
	return recs
}

// keepSets groups destinations of records leaving src by predicate.
func keepSets(src string, recs []*models.EdgeRecord) map[string][]string {
	out := make(map[string][]string)
	for _, r := range recs {
		if r.Src == src {
			out[r.Predicate] = append(out[r.Predicate], r.Dst)
		}
	}
	return out
}

func storedPredicates(recs []*models.EdgeRecord, origin models.EdgeOrigin) []string {
	var out []string
	for _, r := range recs {
		if r.Origin() == origin && !slices.Contains(out, r.Predicate) {
			out = append(out, r.Predicate)
		}
	}
	slices.Sort(out)
	return out
}

func outgoingPredicates(src string, groups ...[]reasoning.Edge) []string {
	var out []string
	for _, edges := range groups {
		for _, e := range edges {
			if e.SrcID == src && !slices.Contains(out, e.Predicate) {
				out = append(out, e.Predicate)
			}
		}
	}
	slices.Sort(out)
	return out
}

// failedProviderIDs collects provider ids from a joined provider error.
func failedProviderIDs(err error) map[string]bool {
	out := make(map[string]bool)
	var walk func(error)
	walk = func(err error) {
		if perr, ok := err.(*computed.ProviderError); ok {
			out[perr.ProviderID] = true
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
		}
	}
	walk(err)
	return out
}
