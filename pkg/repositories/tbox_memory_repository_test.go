package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

func orderTBox() ontology.TBox {
	return ontology.NewTBox(
		[]ontology.ClassDef{{ID: "Order"}, {ID: "Customer"}, {ID: "Organization"}},
		[]ontology.PropertyDef{
			{ID: "placedBy", Domain: "Order", Range: "Customer"},
			{ID: "memberOf", Domain: "Customer", Range: "Organization"},
			{ID: "placedInOrg", Domain: "Order", Range: "Organization"},
		},
		[]ontology.PropertyChainDef{{Chain: []string{"placedBy", "memberOf"}, Implies: "placedInOrg"}},
	)
}

func customerTBox() ontology.TBox {
	return ontology.NewTBox(
		[]ontology.ClassDef{{ID: "Customer"}},
		nil,
		nil,
	)
}

// exerciseTBoxRepository runs the behavior every TBoxRepository shares. The
// context must carry whatever scope the implementation needs for tenantID.
func exerciseTBoxRepository(t *testing.T, ctx context.Context, repo TBoxRepository, tenantID string) {
	t.Helper()

	active, err := repo.GetActive(ctx, tenantID)
	require.NoError(t, err)
	assert.Nil(t, active, "nothing installed yet")

	orders, customers := orderTBox(), customerTBox()
	orderHash, customerHash := ontology.ComputeHash(orders), ontology.ComputeHash(customers)

	first, err := repo.Install(ctx, tenantID, orderHash, orders)
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, tenantID, first.TenantID)

	second, err := repo.Install(ctx, tenantID, customerHash, customers)
	require.NoError(t, err)

	active, err = repo.GetActive(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	versions, err := repo.ListVersions(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, customerHash, versions[0].Hash)
	assert.False(t, versions[1].Active)

	// Reinstalling a known hash reactivates the stored row.
	again, err := repo.Install(ctx, tenantID, orderHash, orders)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	active, err = repo.GetActive(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, orderHash, active.Hash)
	assert.Equal(t, orderHash, ontology.ComputeHash(active.TBox), "stored schema should round-trip")

	byHash, err := repo.GetByHash(ctx, tenantID, customerHash)
	require.NoError(t, err)
	assert.False(t, byHash.Active)

	_, err = repo.GetByHash(ctx, tenantID, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.Install(ctx, tenantID, "", orders)
	assert.Error(t, err)
}

func TestMemoryTBoxRepository(t *testing.T) {
	exerciseTBoxRepository(t, context.Background(), NewMemoryTBoxRepository(), testTenant)
}

func TestMemoryTBoxRepository_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTBoxRepository()

	_, err := repo.Install(ctx, "tenant-a", ontology.ComputeHash(orderTBox()), orderTBox())
	require.NoError(t, err)

	active, err := repo.GetActive(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestMemoryTBoxRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTBoxRepository()
	hash := ontology.ComputeHash(orderTBox())

	installed, err := repo.Install(ctx, testTenant, hash, orderTBox())
	require.NoError(t, err)
	delete(installed.TBox.Properties, "placedBy")

	active, err := repo.GetActive(ctx, testTenant)
	require.NoError(t, err)
	assert.Contains(t, active.TBox.Properties, "placedBy")
}
