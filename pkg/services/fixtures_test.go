package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/computed"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/config"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/reasoning"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
)

const testTenant = "tenant-a"

func salesTBox() ontology.TBox {
	return ontology.NewTBox(
		[]ontology.ClassDef{
			{ID: "Order"},
			{ID: "Customer"},
			{ID: "Organization"},
			{ID: "Associate"},
			{ID: "Location"},
			{ID: "Region"},
		},
		[]ontology.PropertyDef{
			{ID: "placedBy", Domain: "Order", Range: "Customer"},
			{ID: "hasOrder", Domain: "Customer", Range: "Order", InverseOf: "placedBy"},
			{ID: "memberOf", Domain: "Customer", Range: "Organization"},
			{ID: "placedInOrg", Domain: "Order", Range: "Organization"},
			{ID: "worksAt", Domain: "Associate", Range: "Location"},
			{ID: "locatedIn", Domain: "Location", Range: "Region"},
			{ID: "coversRegion", Domain: "Associate", Range: "Region"},
		},
		[]ontology.PropertyChainDef{
			{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"},
			{Chain: []string{"worksAt", "locatedIn"}, Implies: "coversRegion"},
		},
	)
}

// orgHierarchyTBox adds a cyclic-capable organization hierarchy: an order
// placed in an organization is also placed in its ancestors.
func orgHierarchyTBox() ontology.TBox {
	return ontology.NewTBox(
		[]ontology.ClassDef{{ID: "Order"}, {ID: "Customer"}, {ID: "Organization"}},
		[]ontology.PropertyDef{
			{ID: "placedBy", Domain: "Order", Range: "Customer"},
			{ID: "memberOf", Domain: "Customer", Range: "Organization"},
			{ID: "placedInOrg", Domain: "Order", Range: "Organization"},
			{ID: "ancestorOf", Domain: "Organization", Range: "Organization", Transitive: true},
		},
		[]ontology.PropertyChainDef{
			{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"},
			{Chain: []string{"placedInOrg", "ancestorOf"}, Implies: "placedInOrg"},
		},
	)
}

func testReasonerConfig() *config.ReasonerConfig {
	return &config.ReasonerConfig{
		MaxIterations:        16,
		MaxChainPasses:       16,
		RecomputeConcurrency: 4,
		StoreRetries:         3,
	}
}

// staffMember is the source object of the worksAt provider.
type staffMember struct {
	ID    string
	OrgID string
}

// staffDirectory assigns associates to the locations of their organization.
// It is the worksAt computer and the SourceLoader for associates.
type staffDirectory struct {
	mu           sync.Mutex
	members      map[string]*staffMember
	retired      map[string]bool
	orgLocations map[string][]string
}

func newStaffDirectory() *staffDirectory {
	return &staffDirectory{
		members:      make(map[string]*staffMember),
		retired:      make(map[string]bool),
		orgLocations: make(map[string][]string),
	}
}

func (d *staffDirectory) hire(id, org string) *staffMember {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := &staffMember{ID: id, OrgID: org}
	d.members[id] = m
	return m
}

// retire makes LoadSource miss while the dependency index still lists the member.
func (d *staffDirectory) retire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retired[id] = true
}

func (d *staffDirectory) setOrgLocations(org string, locations ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgLocations[org] = locations
}

func (d *staffDirectory) SourceType() string             { return "Associate" }
func (d *staffDirectory) Predicate() string              { return "worksAt" }
func (d *staffDirectory) TargetTypeName() string         { return "Location" }
func (d *staffDirectory) SourceID(m *staffMember) string { return m.ID }
func (d *staffDirectory) DependencyTypes() []string      { return []string{"Organization"} }

func (d *staffDirectory) ComputeTargets(_ context.Context, cc *computed.ComputationContext, m *staffMember) ([]computed.Target, error) {
	d.mu.Lock()
	locations := slices.Clone(d.orgLocations[m.OrgID])
	d.mu.Unlock()

	cc.AddHierarchyContribution(m.OrgID, "Organization", m.OrgID, true)
	prov := cc.BuildProvenance("Associate", m.ID)
	targets := make([]computed.Target, 0, len(locations))
	for _, l := range locations {
		targets = append(targets, computed.Target{TargetID: l, Provenance: prov})
	}
	return targets, nil
}

func (d *staffDirectory) AffectedSourceIDs(_ context.Context, _ *computed.ComputationContext, dependencyType, dependencyID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for id, m := range d.members {
		if dependencyType == "Organization" && m.OrgID == dependencyID {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (d *staffDirectory) LoadSource(_ context.Context, _, entityType, entityID string) (any, error) {
	if entityType != "Associate" {
		return nil, fmt.Errorf("unexpected source type %s", entityType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[entityID]
	if !ok || d.retired[entityID] {
		return nil, apperrors.ErrNotFound
	}
	return m, nil
}

// auditComputer always fails; its predicate must be left alone.
type auditComputer struct{}

func (auditComputer) SourceType() string             { return "Associate" }
func (auditComputer) Predicate() string              { return "auditedBy" }
func (auditComputer) TargetTypeName() string         { return "Associate" }
func (auditComputer) SourceID(m *staffMember) string { return m.ID }
func (auditComputer) ComputeTargets(context.Context, *computed.ComputationContext, *staffMember) ([]computed.Target, error) {
	return nil, fmt.Errorf("audit service unavailable")
}

type testEnv struct {
	schemas   SchemaService
	store     repositories.EdgeStore
	providers *computed.Registry
	directory *staffDirectory
	mat       Materializer
	recompute RecomputeHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		store:     repositories.NewMemoryEdgeStore(),
		providers: computed.NewRegistry(computed.WithLogger(logger)),
		directory: newStaffDirectory(),
	}
	env.schemas = NewSchemaService(repositories.NewMemoryTBoxRepository(), nil, NoTenantContext, nil, logger)
	_, err := env.schemas.Install(context.Background(), testTenant, salesTBox())
	require.NoError(t, err)

	require.NoError(t, env.providers.Register(computed.NewProvider[*staffMember](env.directory, computed.WithProviderID("works-at"))))

	cfg := testReasonerConfig()
	env.mat = NewMaterializer(env.schemas, env.store, env.providers, NoTenantContext, cfg, nil, logger)
	env.recompute = NewRecomputeHandler(env.schemas, env.store, env.providers, env.directory, NoTenantContext, cfg, nil, logger)
	return env
}

func link(src, p, dst string) reasoning.Edge {
	return reasoning.Edge{SrcID: src, Predicate: p, DstID: dst}
}

func (env *testEnv) seed(t *testing.T, src, p, dst string) {
	t.Helper()
	require.NoError(t, env.store.Upsert(context.Background(), &models.EdgeRecord{
		TenantID: testTenant, Src: src, Predicate: p, Dst: dst,
	}))
}

// outgoing returns the stored destinations of (src, p), sorted.
func (env *testEnv) outgoing(t *testing.T, src, p string) []string {
	t.Helper()
	recs, err := env.store.ListOutgoingBy(context.Background(), testTenant, src, p)
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Dst)
	}
	slices.Sort(out)
	return out
}

func (env *testEnv) record(t *testing.T, src, p, dst string) *models.EdgeRecord {
	t.Helper()
	recs, err := env.store.ListOutgoingBy(context.Background(), testTenant, src, p)
	require.NoError(t, err)
	for _, r := range recs {
		if r.Dst == dst {
			return r
		}
	}
	return nil
}
