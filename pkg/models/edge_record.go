package models

import (
	"time"

	"github.com/google/uuid"
)

// EdgeRef identifies an edge by its (src, predicate, dst) key within a tenant.
type EdgeRef struct {
	Src       string `json:"src"`
	Predicate string `json:"p"`
	Dst       string `json:"dst"`
}

// String renders the ref as "src|p|dst".
func (r EdgeRef) String() string {
	return r.Src + "|" + r.Predicate + "|" + r.Dst
}

// Support is one justification for a derived edge: the rule that fired and
// the edges its path consumed. A derived edge stays valid while at least one
// of its supports has every path edge present.
type Support struct {
	RuleID    string    `json:"ruleId"`
	PathEdges []EdgeRef `json:"pathEdges"`
}

// EdgeRecord is the persisted form of an edge.
type EdgeRecord struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenant_id"`
	SrcType    string         `json:"src_type"`
	Src        string         `json:"src"`
	Predicate  string         `json:"p"`
	DstType    string         `json:"dst_type"`
	Dst        string         `json:"dst"`
	Inferred   bool           `json:"inferred"`
	Derived    bool           `json:"derived"`
	Provenance map[string]any `json:"provenance,omitempty"`
	Support    []Support      `json:"support,omitempty"`
	Timestamp  time.Time      `json:"ts"`
}

// Ref returns the record's edge key.
func (r *EdgeRecord) Ref() EdgeRef {
	return EdgeRef{Src: r.Src, Predicate: r.Predicate, Dst: r.Dst}
}

// Origin classifies the record by how it entered the store.
func (r *EdgeRecord) Origin() EdgeOrigin {
	switch {
	case r.Inferred:
		return OriginInferred
	case r.Derived:
		return OriginComputed
	default:
		return OriginExplicit
	}
}

// IsExplicit reports whether the record is authoritative base data.
func (r *EdgeRecord) IsExplicit() bool {
	return !r.Inferred && !r.Derived
}
