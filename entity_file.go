package main

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/services"
)

// entityFile is the on-disk input of explain and materialize:
//
//	tenant: acme
//	entity: {id: O1, type: Order}
//	edges:
//	  - {p: placedBy, dst: C1, dstType: Customer}
//	context:
//	  - {src: C1, srcType: Customer, p: memberOf, dst: ORG1, dstType: Organization}
//
// Edges without a src leave the entity. Context edges describe the rest of
// the graph and are only used by explain, which has no store to read them from.
type entityFile struct {
	Tenant  string            `yaml:"tenant"`
	Realm   string            `yaml:"realm"`
	Domain  models.DataDomain `yaml:"domain"`
	Entity  entityRef         `yaml:"entity"`
	Edges   []edgeSpec        `yaml:"edges"`
	Context []edgeSpec        `yaml:"context"`
}

type entityRef struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

type edgeSpec struct {
	Src     string `yaml:"src"`
	SrcType string `yaml:"srcType"`
	P       string `yaml:"p"`
	Dst     string `yaml:"dst"`
	DstType string `yaml:"dstType"`
}

func loadEntityFile(path string) (*entityFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc entityFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Entity.ID == "" || doc.Entity.Type == "" {
		return nil, fmt.Errorf("%s: entity.id and entity.type are required", path)
	}
	for i, e := range slices.Concat(doc.Edges, doc.Context) {
		if e.P == "" || e.Dst == "" {
			return nil, fmt.Errorf("%s: edge %d needs p and dst", path, i)
		}
	}
	return &doc, nil
}

// tenantOr prefers flagTenant, then the file's tenant, then fallback.
func (f *entityFile) tenantOr(flagTenant, fallback string) string {
	switch {
	case flagTenant != "":
		return flagTenant
	case f.Tenant != "":
		return f.Tenant
	default:
		return fallback
	}
}

func (f *entityFile) edge(s edgeSpec) reasoning.Edge {
	e := reasoning.Edge{SrcID: s.Src, SrcType: s.SrcType, Predicate: s.P, DstID: s.Dst, DstType: s.DstType}
	if e.SrcID == "" {
		e.SrcID = f.Entity.ID
	}
	if e.SrcID == f.Entity.ID && e.SrcType == "" {
		e.SrcType = f.Entity.Type
	}
	return e
}

func (f *entityFile) request(tenantID string) services.MaterializeRequest {
	explicit := make([]reasoning.Edge, 0, len(f.Edges))
	for _, s := range f.Edges {
		explicit = append(explicit, f.edge(s))
	}
	return services.MaterializeRequest{
		TenantID:   tenantID,
		Realm:      f.Realm,
		Domain:     f.Domain,
		EntityType: f.Entity.Type,
		EntityID:   f.Entity.ID,
		Explicit:   explicit,
	}
}

func (f *entityFile) contextRecords(tenantID string) []*models.EdgeRecord {
	records := make([]*models.EdgeRecord, 0, len(f.Context))
	for _, s := range f.Context {
		records = append(records, f.edge(s).ToRecord(tenantID))
	}
	return records
}
