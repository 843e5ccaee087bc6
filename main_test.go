package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/ontology"
)

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	// A config path that does not exist leaves defaults and environment.
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate", "testdata/sales.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 4 classes, 4 properties, 1 chains")
}

func TestValidateCommand_RejectsInvalidSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
properties:
  - id: placedBy
    domain: Order
`), 0o600))

	_, err := runCLI(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown class 'Order'")
}

func TestHashCommand_MergesFilesInOrder(t *testing.T) {
	out, err := runCLI(t, "hash", "testdata/sales.yaml", "testdata/partners.yaml")
	require.NoError(t, err)

	sales, err := ontology.LoadYAMLFile("testdata/sales.yaml")
	require.NoError(t, err)
	partners, err := ontology.LoadYAMLFile("testdata/partners.yaml")
	require.NoError(t, err)
	merged, err := ontology.Merge(sales, partners)
	require.NoError(t, err)

	assert.Equal(t, ontology.ComputeHash(merged), strings.TrimSpace(out))
}

func TestExplainCommand(t *testing.T) {
	out, err := runCLI(t, "explain", "--schema", "testdata/sales.yaml", "testdata/order.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "Order O1")
	assert.Contains(t, out, "C1|hasOrder|O1  [inverse:placedBy]")
	assert.Contains(t, out, "<- O1|placedBy|C1")
	assert.Contains(t, out, "O1|placedInOrg|ORG1  [placedBy,memberOf=>placedInOrg]")
	assert.Contains(t, out, "<- C1|memberOf|ORG1")
}

func TestExplainCommand_RequiresSchema(t *testing.T) {
	_, err := runCLI(t, "explain", "testdata/order.yaml")
	assert.Error(t, err)
}

func TestLoadEntityFile(t *testing.T) {
	doc, err := loadEntityFile("testdata/order.yaml")
	require.NoError(t, err)

	req := doc.request(doc.tenantOr("", offlineTenant))
	assert.Equal(t, "acme", req.TenantID)
	require.Len(t, req.Explicit, 1)
	assert.Equal(t, "O1", req.Explicit[0].SrcID)
	assert.Equal(t, "Order", req.Explicit[0].SrcType)

	records := doc.contextRecords("acme")
	require.Len(t, records, 1)
	assert.True(t, records[0].IsExplicit())
	assert.Equal(t, "Customer", records[0].SrcType)

	assert.Equal(t, "other", doc.tenantOr("other", offlineTenant))
}

func TestLoadEntityFile_RequiresEntity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("edges:\n  - {p: placedBy, dst: C1}\n"), 0o600))

	_, err := loadEntityFile(path)
	assert.Error(t, err)
}
