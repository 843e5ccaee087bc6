// Package computed is the extension point for edges produced by application
// logic rather than ontology rules, with dependency tracking so a change to
// one entity maps back to the sources whose computed edges are stale.
package computed

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
)

// Target is one computed destination. Provenance is optional; when nil a
// minimal provenance naming the provider is attached.
type Target struct {
	TargetID   string
	Provenance *reasoning.ComputedProvenance
}

// TargetComputer is the application logic behind a provider.
type TargetComputer[S any] interface {
	SourceType() string
	Predicate() string
	TargetTypeName() string
	SourceID(source S) string
	ComputeTargets(ctx context.Context, cc *ComputationContext, source S) ([]Target, error)
}

// DependencyTracker is implemented by computers whose output depends on
// entities other than the source.
type DependencyTracker interface {
	DependencyTypes() []string
	AffectedSourceIDs(ctx context.Context, cc *ComputationContext, dependencyType, dependencyID string) ([]string, error)
}

// Identified lets a computer choose its provider id.
type Identified interface {
	ProviderID() string
}

// EdgeProvider is the type-erased provider the registry stores.
type EdgeProvider interface {
	ProviderID() string
	SourceType() string
	Predicate() string
	TargetTypeName() string
	Supports(entityType string) bool
	DependencyTypes() []string
	AffectedSourceIDs(ctx context.Context, realm string, domain models.DataDomain, dependencyType, dependencyID string) ([]string, error)
	Edges(ctx context.Context, realm string, domain models.DataDomain, source any) ([]reasoning.Edge, error)
}

// Provider adapts a TargetComputer to EdgeProvider.
type Provider[S any] struct {
	computer  TargetComputer[S]
	id        string
	supported map[string]bool
	now       func() time.Time
}

var _ EdgeProvider = (*Provider[struct{}])(nil)

type providerConfig struct {
	id             string
	supportedTypes []string
	now            func() time.Time
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerConfig)

// WithProviderID overrides the provider id.
func WithProviderID(id string) ProviderOption {
	return func(c *providerConfig) { c.id = id }
}

// WithSupportedTypes adds entity types, besides the source type, whose
// instances the provider accepts.
func WithSupportedTypes(types ...string) ProviderOption {
	return func(c *providerConfig) { c.supportedTypes = append(c.supportedTypes, types...) }
}

// WithProviderClock sets the timestamp source for provenance.
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(c *providerConfig) { c.now = now }
}

// NewProvider wraps a computer. The id defaults to the computer's
// ProviderID when it implements Identified, else its type name.
func NewProvider[S any](computer TargetComputer[S], opts ...ProviderOption) *Provider[S] {
	cfg := providerConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	id := cfg.id
	if id == "" {
		if named, ok := computer.(Identified); ok {
			id = named.ProviderID()
		}
	}
	if id == "" {
		id = typeName(computer)
	}

	supported := map[string]bool{computer.SourceType(): true}
	for _, t := range cfg.supportedTypes {
		supported[t] = true
	}
	return &Provider[S]{computer: computer, id: id, supported: supported, now: cfg.now}
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func (p *Provider[S]) ProviderID() string     { return p.id }
func (p *Provider[S]) SourceType() string     { return p.computer.SourceType() }
func (p *Provider[S]) Predicate() string      { return p.computer.Predicate() }
func (p *Provider[S]) TargetTypeName() string { return p.computer.TargetTypeName() }

// Supports is a table lookup on the entity type.
func (p *Provider[S]) Supports(entityType string) bool {
	return p.supported[entityType]
}

// DependencyTypes returns the entity types whose changes invalidate this
// provider's edges.
func (p *Provider[S]) DependencyTypes() []string {
	if dt, ok := p.computer.(DependencyTracker); ok {
		return slices.Clone(dt.DependencyTypes())
	}
	return nil
}

// AffectedSourceIDs maps one changed dependency back to stale sources.
func (p *Provider[S]) AffectedSourceIDs(ctx context.Context, realm string, domain models.DataDomain, dependencyType, dependencyID string) ([]string, error) {
	dt, ok := p.computer.(DependencyTracker)
	if !ok {
		return nil, nil
	}
	cc := p.newContext(realm, domain)
	ids, err := dt.AffectedSourceIDs(ctx, cc, dependencyType, dependencyID)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Edges computes targets for source and wraps each as a non-inferred edge
// carrying computed provenance. Duplicate targets collapse to one edge.
func (p *Provider[S]) Edges(ctx context.Context, realm string, domain models.DataDomain, source any) ([]reasoning.Edge, error) {
	s, ok := source.(S)
	if !ok {
		return nil, fmt.Errorf("provider %s: unsupported source %T", p.id, source)
	}
	sourceID := p.computer.SourceID(s)

	cc := p.newContext(realm, domain)
	targets, err := p.computer.ComputeTargets(ctx, cc, s)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(targets))
	edges := make([]reasoning.Edge, 0, len(targets))
	for _, t := range targets {
		if t.TargetID == "" || seen[t.TargetID] {
			continue
		}
		seen[t.TargetID] = true
		edges = append(edges, reasoning.Edge{
			SrcID:      sourceID,
			SrcType:    p.computer.SourceType(),
			Predicate:  p.computer.Predicate(),
			DstID:      t.TargetID,
			DstType:    p.computer.TargetTypeName(),
			Inferred:   false,
			Provenance: p.provenanceFor(t, sourceID),
		})
	}
	slices.SortFunc(edges, func(a, b reasoning.Edge) int { return cmp.Compare(a.DstID, b.DstID) })
	return edges, nil
}

func (p *Provider[S]) newContext(realm string, domain models.DataDomain) *ComputationContext {
	cc := NewComputationContext(realm, domain, p.id)
	cc.now = p.now
	return cc
}

func (p *Provider[S]) provenanceFor(t Target, sourceID string) *reasoning.ComputedProvenance {
	if t.Provenance == nil {
		return &reasoning.ComputedProvenance{
			ProviderID:       p.id,
			SourceEntityType: p.computer.SourceType(),
			SourceEntityID:   sourceID,
			ComputedAt:       p.now(),
		}
	}
	prov := *t.Provenance
	if prov.ProviderID == "" {
		prov.ProviderID = p.id
	}
	if prov.SourceEntityType == "" {
		prov.SourceEntityType = p.computer.SourceType()
	}
	if prov.SourceEntityID == "" {
		prov.SourceEntityID = sourceID
	}
	if prov.ComputedAt.IsZero() {
		prov.ComputedAt = p.now()
	}
	return &prov
}
