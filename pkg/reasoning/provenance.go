package reasoning

import (
	"time"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

// Rule names recorded in provenance.
const (
	RuleChain       = "chain"
	RuleInverse     = "inverse"
	RuleSymmetric   = "symmetric"
	RuleSubProperty = "subPropertyOf"
	RuleTransitive  = "transitive"
	RuleComputed    = "computed"
)

// Provenance explains why an edge exists. The set of implementations is
// closed: ChainProvenance, InverseProvenance, SymmetricProvenance,
// SubPropertyProvenance, TransitiveProvenance and ComputedProvenance.
type Provenance interface {
	// Rule is the rule family that produced the edge.
	Rule() string
	// Inputs lists the edges the derivation consumed.
	Inputs() []models.EdgeRef
	// Fields renders the provenance for persistence.
	Fields() map[string]any

	sealed()
}

// RuleID returns a stable identifier of the specific rule instance, used as
// the support rule id.
func RuleID(p Provenance) string {
	switch v := p.(type) {
	case *ChainProvenance:
		return v.ChainID
	case *InverseProvenance:
		return RuleInverse + ":" + v.Property
	case *SymmetricProvenance:
		return RuleSymmetric + ":" + v.Property
	case *SubPropertyProvenance:
		return RuleSubProperty + ":" + v.SubProperty + "=>" + v.SuperProperty
	case *TransitiveProvenance:
		return RuleTransitive + ":" + v.Property
	case *ComputedProvenance:
		return RuleComputed + ":" + v.ProviderID
	default:
		return ""
	}
}

// ChainProvenance records a property chain firing.
type ChainProvenance struct {
	ChainID string
	Chain   []string
	Path    []models.EdgeRef
}

func (p *ChainProvenance) Rule() string             { return RuleChain }
func (p *ChainProvenance) Inputs() []models.EdgeRef { return p.Path }
func (p *ChainProvenance) sealed()                  {}

func (p *ChainProvenance) Fields() map[string]any {
	return map[string]any{
		"rule":   RuleChain,
		"chain":  p.ChainID,
		"inputs": refStrings(p.Path),
	}
}

// InverseProvenance records (o, Inverse, s) derived from (s, Property, o).
type InverseProvenance struct {
	Property string
	Inverse  string
	Input    models.EdgeRef
}

func (p *InverseProvenance) Rule() string             { return RuleInverse }
func (p *InverseProvenance) Inputs() []models.EdgeRef { return []models.EdgeRef{p.Input} }
func (p *InverseProvenance) sealed()                  {}

func (p *InverseProvenance) Fields() map[string]any {
	return map[string]any{
		"rule":    RuleInverse,
		"of":      p.Property,
		"inverse": p.Inverse,
		"inputs":  []string{p.Input.String()},
	}
}

// SymmetricProvenance records (o, p, s) derived from (s, p, o).
type SymmetricProvenance struct {
	Property string
	Input    models.EdgeRef
}

func (p *SymmetricProvenance) Rule() string             { return RuleSymmetric }
func (p *SymmetricProvenance) Inputs() []models.EdgeRef { return []models.EdgeRef{p.Input} }
func (p *SymmetricProvenance) sealed()                  {}

func (p *SymmetricProvenance) Fields() map[string]any {
	return map[string]any{
		"rule":   RuleSymmetric,
		"prop":   p.Property,
		"inputs": []string{p.Input.String()},
	}
}

// SubPropertyProvenance records (s, super, o) derived from (s, sub, o).
type SubPropertyProvenance struct {
	SubProperty   string
	SuperProperty string
	Input         models.EdgeRef
}

func (p *SubPropertyProvenance) Rule() string             { return RuleSubProperty }
func (p *SubPropertyProvenance) Inputs() []models.EdgeRef { return []models.EdgeRef{p.Input} }
func (p *SubPropertyProvenance) sealed()                  {}

func (p *SubPropertyProvenance) Fields() map[string]any {
	return map[string]any{
		"rule":   RuleSubProperty,
		"sub":    p.SubProperty,
		"super":  p.SuperProperty,
		"inputs": []string{p.Input.String()},
	}
}

// TransitiveProvenance records a closure edge; Path is the hop sequence
// from the source to the reached node.
type TransitiveProvenance struct {
	Property string
	Path     []models.EdgeRef
}

func (p *TransitiveProvenance) Rule() string             { return RuleTransitive }
func (p *TransitiveProvenance) Inputs() []models.EdgeRef { return p.Path }
func (p *TransitiveProvenance) sealed()                  {}

func (p *TransitiveProvenance) Fields() map[string]any {
	return map[string]any{
		"rule":   RuleTransitive,
		"prop":   p.Property,
		"inputs": refStrings(p.Path),
	}
}

// HierarchyContribution is one node of a hierarchy walk that contributed
// to a computed edge.
type HierarchyContribution struct {
	NodeID             string `json:"nodeId"`
	NodeType           string `json:"nodeType"`
	Value              string `json:"value"`
	IsDirectAssignment bool   `json:"isDirectAssignment"`
}

// ListMode says whether a resolved list was a fixed membership or a filter.
type ListMode string

const (
	ListModeStatic  ListMode = "STATIC"
	ListModeDynamic ListMode = "DYNAMIC"
)

// ListContribution is one list that was resolved while computing an edge.
type ListContribution struct {
	ListID       string   `json:"listId"`
	ListType     string   `json:"listType"`
	Mode         ListMode `json:"mode"`
	FilterString string   `json:"filterString,omitempty"`
	Count        int      `json:"itemCount"`
}

// ComputedProvenance explains an edge produced by a computed-edge provider.
// It is built through a computation context and not modified afterwards.
type ComputedProvenance struct {
	ProviderID       string
	SourceEntityType string
	SourceEntityID   string
	HierarchyPath    []HierarchyContribution
	ResolvedLists    []ListContribution
	ComputedAt       time.Time
}

func (p *ComputedProvenance) Rule() string             { return RuleComputed }
func (p *ComputedProvenance) Inputs() []models.EdgeRef { return nil }
func (p *ComputedProvenance) sealed()                  {}

func (p *ComputedProvenance) Fields() map[string]any {
	out := map[string]any{
		"rule":       RuleComputed,
		"providerId": p.ProviderID,
		"computedAt": p.ComputedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.SourceEntityType != "" {
		out["sourceEntityType"] = p.SourceEntityType
	}
	if p.SourceEntityID != "" {
		out["sourceEntityId"] = p.SourceEntityID
	}
	if len(p.HierarchyPath) > 0 {
		path := make([]map[string]any, 0, len(p.HierarchyPath))
		for _, h := range p.HierarchyPath {
			path = append(path, map[string]any{
				"nodeId":             h.NodeID,
				"nodeType":           h.NodeType,
				"value":              h.Value,
				"isDirectAssignment": h.IsDirectAssignment,
			})
		}
		out["hierarchyPath"] = path
	}
	if len(p.ResolvedLists) > 0 {
		lists := make([]map[string]any, 0, len(p.ResolvedLists))
		for _, l := range p.ResolvedLists {
			m := map[string]any{
				"listId":    l.ListID,
				"listType":  l.ListType,
				"mode":      string(l.Mode),
				"itemCount": l.Count,
			}
			if l.FilterString != "" {
				m["filterString"] = l.FilterString
			}
			lists = append(lists, m)
		}
		out["resolvedLists"] = lists
	}
	return out
}

func refStrings(refs []models.EdgeRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
