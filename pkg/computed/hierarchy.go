package computed

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
)

// ListInfo describes the list a hierarchy node resolved, for provenance.
type ListInfo struct {
	ID           string
	Type         string
	Mode         reasoning.ListMode
	FilterString string
}

// Hierarchy is the application side of a HierarchyListComputer. A source is
// assigned nodes of a hierarchy (territories, regions, departments). Each
// assigned node and every node below it carries a list, static or
// filter-based, whose items become the edge targets.
type Hierarchy[S, N, T any] interface {
	SourceType() string
	Predicate() string
	TargetTypeName() string
	HierarchyTypeName() string
	SourceID(source S) string

	AssignedNodeIDs(source S) []string
	// LoadNode reports false when the node does not exist.
	LoadNode(ctx context.Context, cc *ComputationContext, nodeID string) (N, bool, error)
	// Descendants returns every node below nodeID, not only direct children.
	Descendants(ctx context.Context, cc *ComputationContext, nodeID string) ([]N, error)
	NodeID(node N) string
	// NodeName is recorded as the contribution's value.
	NodeName(node N) string

	// ResolveList returns the items of the node's list. info is nil when
	// the node has no list.
	ResolveList(ctx context.Context, cc *ComputationContext, node N) (items []T, info *ListInfo, err error)
	TargetID(target T) string
}

// HierarchyIndex is implemented by hierarchies that can map a changed node
// or list back to the sources it reaches.
type HierarchyIndex interface {
	AffectedSourceIDs(ctx context.Context, cc *ComputationContext, dependencyType, dependencyID string) ([]string, error)
}

// HierarchyListComputer is a TargetComputer for hierarchy-list edges: the
// nodes assigned to a source and their descendants resolve lists whose items
// are the targets. Each target's provenance names every node and list that
// reached it.
type HierarchyListComputer[S, N, T any] struct {
	hierarchy Hierarchy[S, N, T]
	listTypes []string
}

var (
	_ TargetComputer[struct{}] = (*HierarchyListComputer[struct{}, struct{}, struct{}])(nil)
	_ DependencyTracker        = (*HierarchyListComputer[struct{}, struct{}, struct{}])(nil)
	_ Identified               = (*HierarchyListComputer[struct{}, struct{}, struct{}])(nil)
)

// NewHierarchyListComputer wraps h. listTypes are the entity types of the
// lists; together with the hierarchy type they are the computer's
// dependency types.
func NewHierarchyListComputer[S, N, T any](h Hierarchy[S, N, T], listTypes ...string) *HierarchyListComputer[S, N, T] {
	return &HierarchyListComputer[S, N, T]{hierarchy: h, listTypes: slices.Clone(listTypes)}
}

func (c *HierarchyListComputer[S, N, T]) SourceType() string       { return c.hierarchy.SourceType() }
func (c *HierarchyListComputer[S, N, T]) Predicate() string        { return c.hierarchy.Predicate() }
func (c *HierarchyListComputer[S, N, T]) TargetTypeName() string   { return c.hierarchy.TargetTypeName() }
func (c *HierarchyListComputer[S, N, T]) SourceID(source S) string { return c.hierarchy.SourceID(source) }

// ProviderID is the hierarchy's own id when it has one, else its type name.
func (c *HierarchyListComputer[S, N, T]) ProviderID() string {
	if named, ok := c.hierarchy.(Identified); ok && named.ProviderID() != "" {
		return named.ProviderID()
	}
	return typeName(c.hierarchy)
}

func (c *HierarchyListComputer[S, N, T]) DependencyTypes() []string {
	out := []string{c.hierarchy.HierarchyTypeName()}
	for _, t := range c.listTypes {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// AffectedSourceIDs delegates to the hierarchy when it is a HierarchyIndex.
func (c *HierarchyListComputer[S, N, T]) AffectedSourceIDs(ctx context.Context, cc *ComputationContext, dependencyType, dependencyID string) ([]string, error) {
	index, ok := c.hierarchy.(HierarchyIndex)
	if !ok {
		return nil, nil
	}
	return index.AffectedSourceIDs(ctx, cc, dependencyType, dependencyID)
}

// reach is what led to one target.
type reach struct {
	hierarchy []reasoning.HierarchyContribution
	lists     []reasoning.ListContribution
}

func (c *HierarchyListComputer[S, N, T]) ComputeTargets(ctx context.Context, cc *ComputationContext, source S) ([]Target, error) {
	h := c.hierarchy
	reached := make(map[string]*reach)
	var order []string

	visit := func(node N, direct bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, info, err := h.ResolveList(ctx, cc, node)
		if err != nil {
			return fmt.Errorf("failed to resolve list of %s %s: %w", h.HierarchyTypeName(), h.NodeID(node), err)
		}
		nodeID := h.NodeID(node)
		hc := reasoning.HierarchyContribution{
			NodeID:             nodeID,
			NodeType:           h.HierarchyTypeName(),
			Value:              h.NodeName(node),
			IsDirectAssignment: direct,
		}
		var lc *reasoning.ListContribution
		if info != nil {
			lc = &reasoning.ListContribution{
				ListID:       cmp.Or(info.ID, nodeID+"_list"),
				ListType:     info.Type,
				Mode:         info.Mode,
				FilterString: info.FilterString,
				Count:        len(items),
			}
		}

		for _, item := range items {
			id := h.TargetID(item)
			if id == "" {
				continue
			}
			r, ok := reached[id]
			if !ok {
				r = &reach{}
				reached[id] = r
				order = append(order, id)
			}
			if !slices.Contains(r.hierarchy, hc) {
				r.hierarchy = append(r.hierarchy, hc)
			}
			if lc != nil && !slices.ContainsFunc(r.lists, func(l reasoning.ListContribution) bool { return l.ListID == lc.ListID }) {
				r.lists = append(r.lists, *lc)
			}
		}
		return nil
	}

	for _, nodeID := range h.AssignedNodeIDs(source) {
		node, ok, err := h.LoadNode(ctx, cc, nodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %s: %w", h.HierarchyTypeName(), nodeID, err)
		}
		if !ok {
			continue
		}
		if err := visit(node, true); err != nil {
			return nil, err
		}
		children, err := h.Descendants(ctx, cc, nodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to list descendants of %s %s: %w", h.HierarchyTypeName(), nodeID, err)
		}
		for _, child := range children {
			if err := visit(child, false); err != nil {
				return nil, err
			}
		}
	}

	sourceID := h.SourceID(source)
	targets := make([]Target, 0, len(order))
	for _, id := range order {
		r := reached[id]
		cc.ClearProvenance()
		for _, hc := range r.hierarchy {
			cc.AddHierarchyContribution(hc.NodeID, hc.NodeType, hc.Value, hc.IsDirectAssignment)
		}
		for _, lc := range r.lists {
			cc.AddListContribution(lc.ListID, lc.ListType, lc.Mode, lc.FilterString, lc.Count)
		}
		targets = append(targets, Target{TargetID: id, Provenance: cc.BuildProvenance(h.SourceType(), sourceID)})
	}
	cc.ClearProvenance()
	return targets, nil
}
