package databases_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/types"
)

// newTestRegistry opens a fresh SQLite file as the default connection. A
// file is used rather than :memory: because every pooled connection to
// :memory: sees its own empty database.
func newTestRegistry(t *testing.T) *databases.Registry {
	t.Helper()

	registry := databases.NewRegistry()
	path := filepath.Join(t.TempDir(), "db", "test.db")
	require.NoError(t, registry.Open(context.Background(), databases.DefaultConnectionName, path))

	t.Cleanup(func() { _ = registry.CloseAll() })

	return registry
}

// createItems creates items(id INTEGER PK AUTOINCREMENT, name TEXT NOT NULL,
// qty INTEGER, note TEXT DEFAULT 'none').
func createItems(t *testing.T, registry *databases.Registry) {
	t.Helper()

	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)
	require.NoError(t, schema.CreateTable(context.Background(), "items", []types.ColumnDefinition{
		{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
		types.NewColumn("name", "TEXT"),
		{Name: "qty", Type: "INTEGER"},
		{Name: "note", Type: "TEXT", DefaultValue: "none"},
	}))
}

func insertItems(t *testing.T, registry *databases.Registry, rows ...types.Values) {
	t.Helper()

	modifier := databases.NewModifier(registry, databases.DefaultConnectionName)
	for _, values := range rows {
		require.NoError(t, modifier.InsertRecord(context.Background(), "items", values))
	}
}
