package computed

import (
	"slices"
	"time"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
)

// ComputationContext accumulates provenance while a provider computes
// targets for one source. It is not safe for concurrent use; each provider
// invocation gets its own.
type ComputationContext struct {
	realm      string
	domain     models.DataDomain
	providerID string
	now        func() time.Time

	hierarchy []reasoning.HierarchyContribution
	lists     []reasoning.ListContribution
}

// NewComputationContext creates a context for one provider invocation.
func NewComputationContext(realm string, domain models.DataDomain, providerID string) *ComputationContext {
	return &ComputationContext{
		realm:      realm,
		domain:     domain,
		providerID: providerID,
		now:        time.Now,
	}
}

func (c *ComputationContext) Realm() string                 { return c.realm }
func (c *ComputationContext) DataDomain() models.DataDomain { return c.domain }
func (c *ComputationContext) ProviderID() string            { return c.providerID }

// AddHierarchyContribution records a hierarchy node that contributed to
// the targets being computed.
func (c *ComputationContext) AddHierarchyContribution(nodeID, nodeType, value string, isDirectAssignment bool) {
	c.hierarchy = append(c.hierarchy, reasoning.HierarchyContribution{
		NodeID:             nodeID,
		NodeType:           nodeType,
		Value:              value,
		IsDirectAssignment: isDirectAssignment,
	})
}

// AddListContribution records a list that was resolved.
func (c *ComputationContext) AddListContribution(listID, listType string, mode reasoning.ListMode, filterString string, count int) {
	c.lists = append(c.lists, reasoning.ListContribution{
		ListID:       listID,
		ListType:     listType,
		Mode:         mode,
		FilterString: filterString,
		Count:        count,
	})
}

// BuildProvenance freezes the contributions gathered so far. Later
// contributions do not affect the returned value.
func (c *ComputationContext) BuildProvenance(sourceType, sourceID string) *reasoning.ComputedProvenance {
	return &reasoning.ComputedProvenance{
		ProviderID:       c.providerID,
		SourceEntityType: sourceType,
		SourceEntityID:   sourceID,
		HierarchyPath:    slices.Clone(c.hierarchy),
		ResolvedLists:    slices.Clone(c.lists),
		ComputedAt:       c.now(),
	}
}

// ClearProvenance drops accumulated contributions, typically between targets.
func (c *ComputationContext) ClearProvenance() {
	c.hierarchy = nil
	c.lists = nil
}

// HierarchyPath returns a copy of the hierarchy contributions.
func (c *ComputationContext) HierarchyPath() []reasoning.HierarchyContribution {
	return slices.Clone(c.hierarchy)
}

// ResolvedLists returns a copy of the list contributions.
func (c *ComputationContext) ResolvedLists() []reasoning.ListContribution {
	return slices.Clone(c.lists)
}
