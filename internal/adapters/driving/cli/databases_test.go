package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseCmd_Aliases(t *testing.T) {
	assert.Contains(t, databaseCmd.Aliases, "db")
}

func TestDatabaseCmd_RequiresBusiness(t *testing.T) {
	flag := databaseCmd.PersistentFlags().Lookup("business")
	require.NotNil(t, flag)
	assert.Equal(t, "b", flag.Shorthand)
	assert.Contains(t, flag.Annotations, cobra.BashCompOneRequiredFlag)
}

func TestDatabaseCreate(t *testing.T) {
	a := setupTestApp(t)

	out, err := execute(t, "database", "create", "catalog", "-b", "biz-db", "--description", "product catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "Created database catalog")

	dbs, err := a.Databases.List(context.Background(), "biz-db")
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Equal(t, "product catalog", dbs[0].Description)
}

func TestDatabaseCreate_WithSchema(t *testing.T) {
	setupTestApp(t)
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"tables":[{"name":"p","columns":[{"name":"sku","type":"text"}]}]}`), 0o600))
	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{}`), 0o600))
	defer func() { databaseSchemaFile = "" }()

	_, err := execute(t, "database", "create", "products", "-b", "biz-db", "--schema", valid)
	assert.NoError(t, err)

	_, err = execute(t, "database", "create", "broken", "-b", "biz-db", "--schema", invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")

	_, err = execute(t, "database", "create", "missing", "-b", "biz-db", "--schema", filepath.Join(dir, "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading schema")
}

func TestDatabaseList(t *testing.T) {
	a := setupTestApp(t)

	out, err := execute(t, "database", "list", "-b", "biz-empty")
	require.NoError(t, err)
	assert.Contains(t, out, "No databases found.")

	db := createDatabase(t, a, "biz-list", "faq")
	out, err = execute(t, "db", "list", "-b", "biz-list")
	require.NoError(t, err)
	assert.Contains(t, out, "Databases")
	assert.Contains(t, out, db.ID)
	assert.Contains(t, out, "faq")
}

func TestDatabaseShowAndDelete(t *testing.T) {
	a := setupTestApp(t)
	db := createDatabase(t, a, "biz-show", "faq")

	out, err := execute(t, "database", "show", db.ID, "-b", "biz-show")
	require.NoError(t, err)
	assert.Contains(t, out, "ID: "+db.ID)
	assert.Contains(t, out, "Data sources: 0")

	_, err = execute(t, "database", "show", db.ID, "-b", "someone-else")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	out, err = execute(t, "database", "delete", db.ID, "-b", "biz-show")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted database "+db.ID)

	_, err = execute(t, "database", "show", db.ID, "-b", "biz-show")
	assert.Error(t, err)
}
