package computed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
)

// ClassHierarchy answers subclass checks. *ontology.Registry satisfies it.
type ClassHierarchy interface {
	IsSubclassOf(classID, ancestorID string) bool
}

// ProviderError reports one provider failing for one source or dependency.
// It matches apperrors.ErrProviderFailed and the underlying cause.
type ProviderError struct {
	ProviderID string
	EntityID   string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("computed edge provider %s failed for %s: %v", e.ProviderID, e.EntityID, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{apperrors.ErrProviderFailed, e.Err}
}

// AffectedSources lists the sources of one provider that need recomputing.
type AffectedSources struct {
	Provider  EdgeProvider
	SourceIDs []string
}

// Stats summarizes registrations.
type Stats struct {
	TotalProviders  int      `json:"totalProviders"`
	DependencyTypes int      `json:"dependencyTypes"`
	ProviderIDs     []string `json:"providerIds"`
}

// Registry is the shared table of computed-edge providers. Registration is
// rare and guarded by a write lock; lookups take the read lock and return
// copies, so readers never see a partially registered provider.
type Registry struct {
	mu           sync.RWMutex
	providers    []EdgeProvider
	byID         map[string]EdgeProvider
	byDependency map[string][]EdgeProvider

	hierarchy ClassHierarchy
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClassHierarchy makes type lookups also match subclasses of the
// declared source and dependency types.
func WithClassHierarchy(h ClassHierarchy) RegistryOption {
	return func(r *Registry) { r.hierarchy = h }
}

// WithLogger sets the logger used for isolated provider failures.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger.Named("computed-edges") }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:         make(map[string]EdgeProvider),
		byDependency: make(map[string][]EdgeProvider),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider. Registering an id that is already present is a no-op.
func (r *Registry) Register(p EdgeProvider) error {
	if p == nil {
		return errors.New("provider cannot be nil")
	}
	id := p.ProviderID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return nil
	}
	r.providers = append(r.providers, p)
	r.byID[id] = p
	for _, dep := range p.DependencyTypes() {
		r.byDependency[dep] = append(r.byDependency[dep], p)
	}
	r.logger.Debug("Registered computed edge provider",
		zap.String("provider_id", id),
		zap.String("source_type", p.SourceType()),
		zap.String("predicate", p.Predicate()))
	return nil
}

// Unregister removes the provider with p's id. Unknown providers are ignored.
func (r *Registry) Unregister(p EdgeProvider) {
	if p == nil {
		return
	}
	id := p.ProviderID()
	sameID := func(q EdgeProvider) bool { return q.ProviderID() == id }

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return
	}
	delete(r.byID, id)
	r.providers = slices.DeleteFunc(r.providers, sameID)
	for dep, list := range r.byDependency {
		list = slices.DeleteFunc(list, sameID)
		if len(list) == 0 {
			delete(r.byDependency, dep)
		} else {
			r.byDependency[dep] = list
		}
	}
}

// Provider returns the provider registered under id.
func (r *Registry) Provider(id string) (EdgeProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// Providers returns every provider in registration order.
func (r *Registry) Providers() []EdgeProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers)
}

// ProvidersForSourceType returns providers that accept entities of entityType.
func (r *Registry) ProvidersForSourceType(entityType string) []EdgeProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []EdgeProvider
	for _, p := range r.providers {
		if p.Supports(entityType) || r.isA(entityType, p.SourceType()) {
			out = append(out, p)
		}
	}
	return out
}

// HasDependentsFor reports whether any provider depends on entityType.
func (r *Registry) HasDependentsFor(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for dep := range r.byDependency {
		if dep == entityType || r.isA(entityType, dep) {
			return true
		}
	}
	return false
}

// ProvidersForDependency returns providers that declare a dependency on
// entityType, in registration order, each at most once.
func (r *Registry) ProvidersForDependency(entityType string) []EdgeProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providersForDependencyLocked(entityType)
}

func (r *Registry) providersForDependencyLocked(entityType string) []EdgeProvider {
	matched := make(map[string]bool)
	for dep, list := range r.byDependency {
		if dep != entityType && !r.isA(entityType, dep) {
			continue
		}
		for _, p := range list {
			matched[p.ProviderID()] = true
		}
	}
	var out []EdgeProvider
	for _, p := range r.providers {
		if matched[p.ProviderID()] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) isA(entityType, ancestor string) bool {
	return r.hierarchy != nil && r.hierarchy.IsSubclassOf(entityType, ancestor)
}

// FindAffectedSources asks every provider depending on changedType which of
// its sources are stale. A failing provider is logged and skipped; its
// error is included in the returned joined error while healthy providers
// still contribute.
func (r *Registry) FindAffectedSources(ctx context.Context, realm string, domain models.DataDomain, changedType, changedID string) ([]AffectedSources, error) {
	var out []AffectedSources
	var errs []error
	for _, p := range r.ProvidersForDependency(changedType) {
		ids, err := safeCall(func() ([]string, error) {
			return p.AffectedSourceIDs(ctx, realm, domain, changedType, changedID)
		})
		if err != nil {
			perr := &ProviderError{ProviderID: p.ProviderID(), EntityID: changedID, Err: err}
			r.logger.Warn("Computed edge provider failed to resolve affected sources",
				zap.String("provider_id", p.ProviderID()),
				zap.String("dependency_type", changedType),
				zap.String("dependency_id", changedID),
				zap.Error(err))
			errs = append(errs, perr)
			continue
		}
		if len(ids) > 0 {
			out = append(out, AffectedSources{Provider: p, SourceIDs: ids})
		}
	}
	return out, errors.Join(errs...)
}

// ComputeEdges runs every provider that supports entityType against source.
// Failures (including panics) are isolated per provider.
func (r *Registry) ComputeEdges(ctx context.Context, realm string, domain models.DataDomain, entityType, entityID string, source any) ([]reasoning.Edge, error) {
	var edges []reasoning.Edge
	var errs []error
	for _, p := range r.ProvidersForSourceType(entityType) {
		out, err := safeCall(func() ([]reasoning.Edge, error) {
			return p.Edges(ctx, realm, domain, source)
		})
		if err != nil {
			r.logger.Warn("Computed edge provider failed",
				zap.String("provider_id", p.ProviderID()),
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID),
				zap.Error(err))
			errs = append(errs, &ProviderError{ProviderID: p.ProviderID(), EntityID: entityID, Err: err})
			continue
		}
		edges = append(edges, out...)
	}
	return edges, errors.Join(errs...)
}

// DependencyTypes returns every declared dependency type, sorted.
func (r *Registry) DependencyTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byDependency))
	for dep := range r.byDependency {
		out = append(out, dep)
	}
	slices.Sort(out)
	return out
}

// Stats reports provider counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return Stats{
		TotalProviders:  len(r.providers),
		DependencyTypes: len(r.byDependency),
		ProviderIDs:     ids,
	}
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = nil
	r.byID = make(map[string]EdgeProvider)
	r.byDependency = make(map[string][]EdgeProvider)
}

// safeCall converts a panic in provider code into an error.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
