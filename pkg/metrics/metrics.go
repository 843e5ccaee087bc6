// Package metrics exposes Prometheus instrumentation for reasoning,
// materialization and schema installs. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "ekaya_reasoner"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	inferenceTotal        prometheus.Counter
	inferenceIterations   prometheus.Histogram
	inferenceNotConverged prometheus.Counter
	inferredEdges         prometheus.Counter

	chainEvaluations  prometheus.Counter
	chainDerivedEdges prometheus.Counter
	chainLookups      *prometheus.CounterVec

	materializeDuration prometheus.Histogram
	edgesWritten        *prometheus.CounterVec
	edgesDeleted        *prometheus.CounterVec

	providerFailures *prometheus.CounterVec
	schemaInstalls   *prometheus.CounterVec
}

// New creates the collectors on a private registry, including Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.inferenceTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "forward",
		Name: "inferences_total",
		Help: "Total number of forward-chaining runs",
	})
	m.inferenceIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "forward",
		Name:    "iterations",
		Help:    "Passes needed to reach a fixpoint",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
	})
	m.inferenceNotConverged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "forward",
		Name: "not_converged_total",
		Help: "Runs stopped by the iteration cap before reaching a fixpoint",
	})
	m.inferredEdges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "forward",
		Name: "inferred_edges_total",
		Help: "Edges added by forward chaining",
	})

	m.chainEvaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "chain",
		Name: "evaluations_total",
		Help: "Total number of incremental chain evaluations",
	})
	m.chainDerivedEdges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "chain",
		Name: "derived_edges_total",
		Help: "Edges emitted by incremental chain evaluation",
	})
	m.chainLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "chain",
		Name: "hop_lookups_total",
		Help: "Hop lookups during chain evaluation by memo result",
	}, []string{"result"})

	m.materializeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "materializer",
		Name:    "duration_seconds",
		Help:    "Time to materialize one entity",
		Buckets: prometheus.DefBuckets,
	})
	m.edgesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "materializer",
		Name: "edges_written_total",
		Help: "Edges upserted by origin",
	}, []string{"origin"})
	m.edgesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "materializer",
		Name: "edges_deleted_total",
		Help: "Stale edges removed by origin",
	}, []string{"origin"})

	m.providerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "computed",
		Name: "provider_failures_total",
		Help: "Computed edge provider failures",
	}, []string{"provider"})
	m.schemaInstalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "schema",
		Name: "installs_total",
		Help: "Schema install attempts by result",
	}, []string{"result"})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inferenceTotal, m.inferenceIterations, m.inferenceNotConverged, m.inferredEdges,
		m.chainEvaluations, m.chainDerivedEdges, m.chainLookups,
		m.materializeDuration, m.edgesWritten, m.edgesDeleted,
		m.providerFailures, m.schemaInstalls,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveInference records one forward-chaining run.
func (m *Metrics) ObserveInference(iterations, added int, converged bool) {
	if m == nil {
		return
	}
	m.inferenceTotal.Inc()
	m.inferenceIterations.Observe(float64(iterations))
	m.inferredEdges.Add(float64(added))
	if !converged {
		m.inferenceNotConverged.Inc()
	}
}

// ObserveChainEvaluation records one incremental evaluation.
func (m *Metrics) ObserveChainEvaluation(derived, cacheHits, cacheMisses int) {
	if m == nil {
		return
	}
	m.chainEvaluations.Inc()
	m.chainDerivedEdges.Add(float64(derived))
	m.chainLookups.WithLabelValues("hit").Add(float64(cacheHits))
	m.chainLookups.WithLabelValues("miss").Add(float64(cacheMisses))
}

// ObserveMaterialize records the duration of one entity materialization.
func (m *Metrics) ObserveMaterialize(d time.Duration) {
	if m == nil {
		return
	}
	m.materializeDuration.Observe(d.Seconds())
}

// EdgesWritten adds n upserted edges of the given origin.
func (m *Metrics) EdgesWritten(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.edgesWritten.WithLabelValues(origin).Add(float64(n))
}

// EdgesDeleted adds n removed edges of the given origin.
func (m *Metrics) EdgesDeleted(origin string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.edgesDeleted.WithLabelValues(origin).Add(float64(n))
}

// ProviderFailed counts one provider failure.
func (m *Metrics) ProviderFailed(providerID string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(providerID).Inc()
}

// SchemaInstall counts one install attempt; result is "installed",
// "unchanged" or "rejected".
func (m *Metrics) SchemaInstall(result string) {
	if m == nil {
		return
	}
	m.schemaInstalls.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
