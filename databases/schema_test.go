package databases_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/types"
)

func Test_BuildCreateTableSQL_Inlines_Single_Primary_Key(t *testing.T) {
	t.Parallel()

	got := databases.BuildCreateTableSQL("t", []types.ColumnDefinition{
		{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
		types.NewColumn("name", "TEXT"),
		{Name: "code", Type: "TEXT", Unique: true, DefaultValue: "x"},
	})

	assert.Equal(t,
		"CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, code TEXT UNIQUE DEFAULT 'x')",
		got)
}

func Test_BuildCreateTableSQL_Emits_Trailing_Clause_For_Composite_Key(t *testing.T) {
	t.Parallel()

	got := databases.BuildCreateTableSQL("pairs", []types.ColumnDefinition{
		{Name: "a", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
		{Name: "b", Type: "INTEGER", PrimaryKey: true},
	})

	assert.Equal(t, "CREATE TABLE pairs (a INTEGER, b INTEGER, PRIMARY KEY (a, b))", got)
}

func Test_ValidName_Accepts_Letters_Digits_Underscore_And_Dash(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"users", "tree_nodes", "a-b", "T1", "таблица"} {
		assert.True(t, databases.ValidName(name), name)
	}
	for _, name := range []string{"", "a b", "x;drop", "t.c", "q'"} {
		assert.False(t, databases.ValidName(name), name)
	}
}

func Test_SchemaManager_CreateTable_Rejects_Invalid_Input_Before_Touching_Backend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)

	err := schema.CreateTable(ctx, "bad name", []types.ColumnDefinition{types.NewColumn("a", "TEXT")})
	require.ErrorIs(t, err, databases.ErrInvalidName)
	assert.NotEmpty(t, schema.LastError())

	err = schema.CreateTable(ctx, "empty", nil)
	require.ErrorIs(t, err, databases.ErrEmpty)

	err = schema.CreateTable(ctx, "USERS", []types.ColumnDefinition{types.NewColumn("a", "TEXT")})
	require.ErrorIs(t, err, databases.ErrExists, "existence is checked case-insensitively")

	schema.ClearError()
	assert.Empty(t, schema.LastError())
}

func Test_SchemaManager_Reports_ErrNotOpen_When_Connection_Missing(t *testing.T) {
	t.Parallel()

	schema := databases.NewSchemaManager(databases.NewRegistry(), "missing")

	_, err := schema.TableNames(context.Background())
	require.ErrorIs(t, err, databases.ErrNotOpen)
	assert.Equal(t, "database is not open for connection 'missing'", schema.LastError())
}

func Test_SchemaManager_Renames_And_Drops_Tables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	createItems(t, registry)
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)

	require.ErrorIs(t, schema.RenameTable(ctx, "items", "users"), databases.ErrExists)
	require.ErrorIs(t, schema.RenameTable(ctx, "ghost", "spirits"), databases.ErrNotFound)

	require.NoError(t, schema.RenameTable(ctx, "items", "goods"))

	tables, err := schema.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"goods", "users"}, tables)

	require.NoError(t, schema.DropTable(ctx, "goods"))
	require.ErrorIs(t, schema.DropTable(ctx, "goods"), databases.ErrNotFound)

	exists, err := schema.TableExists(ctx, "goods")
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_SchemaManager_Adds_Renames_And_Drops_Columns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	createItems(t, registry)
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)

	require.NoError(t, schema.AddColumn(ctx, "items", types.ColumnDefinition{
		Name: "price", Type: "REAL", NotNull: true, DefaultValue: "0",
	}))
	require.ErrorIs(t, schema.AddColumn(ctx, "items", types.NewColumn("PRICE", "REAL")), databases.ErrExists)

	require.NoError(t, schema.RenameColumn(ctx, "items", "price", "cost"))
	require.ErrorIs(t, schema.RenameColumn(ctx, "items", "price", "other"), databases.ErrNotFound)
	require.ErrorIs(t, schema.RenameColumn(ctx, "items", "cost", "name"), databases.ErrExists)

	columns, err := schema.ColumnNames(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "qty", "note", "cost"}, columns)

	require.NoError(t, schema.DropColumn(ctx, "items", "cost"))
	require.ErrorIs(t, schema.DropColumn(ctx, "items", "cost"), databases.ErrNotFound)
}

func Test_SchemaManager_AddColumn_Surfaces_Backend_Error_For_Not_Null_Without_Default(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	createItems(t, registry)
	// SQLite only refuses the column when existing rows would violate it.
	insertItems(t, registry, types.Values{"name": "existing"})
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)

	err := schema.AddColumn(ctx, "items", types.NewColumn("required", "TEXT"))
	require.Error(t, err)
	assert.Contains(t, schema.LastError(), "NOT NULL")
}

func Test_SchemaManager_TableStructure_Reports_Nullability_And_Default(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	createItems(t, registry)
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)

	structure, err := schema.TableStructure(ctx, "items")
	require.NoError(t, err)
	require.Len(t, structure, 4)

	assert.Equal(t, types.ColumnDefinition{Name: "name", Type: "TEXT", NotNull: true}, structure[1])
	assert.Equal(t, types.ColumnDefinition{Name: "note", Type: "TEXT", DefaultValue: "'none'"}, structure[3])
	assert.False(t, structure[0].PrimaryKey, "primary keys are not detected here")
}

func Test_SchemaManager_Creates_And_Drops_Indexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	createItems(t, registry)
	schema := databases.NewSchemaManager(registry, databases.DefaultConnectionName)
	reader := databases.NewReader(registry, databases.DefaultConnectionName)

	require.ErrorIs(t, schema.CreateIndex(ctx, "", "items", []string{"name"}), databases.ErrEmpty)
	require.ErrorIs(t, schema.CreateIndex(ctx, "idx", "ghost", []string{"name"}), databases.ErrNotFound)
	require.ErrorIs(t, schema.CreateIndex(ctx, "idx", "items", nil), databases.ErrEmpty)

	require.NoError(t, schema.CreateIndex(ctx, "idx_items_name", "items", []string{"name", "qty"}))

	indexes, err := reader.Indexes(ctx, "items")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, types.Index{Name: "idx_items_name", Columns: []string{"name", "qty"}}, indexes[0])

	require.NoError(t, schema.DropIndex(ctx, "idx_items_name"))
	require.Error(t, schema.DropIndex(ctx, "idx_items_name"), "backend rejects a missing index")
	require.ErrorIs(t, schema.DropIndex(ctx, ""), databases.ErrEmpty)
}
