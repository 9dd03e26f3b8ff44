package databases_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/melkeydev/treedb/databases"
	"github.com/melkeydev/treedb/types"
)

func newItemsModifier(t *testing.T) (*databases.Modifier, *databases.Reader) {
	t.Helper()

	registry := newTestRegistry(t)
	createItems(t, registry)

	modifier := databases.NewModifier(registry, databases.DefaultConnectionName)
	t.Cleanup(func() { _ = modifier.Close() })

	return modifier, databases.NewReader(registry, databases.DefaultConnectionName)
}

func count(t *testing.T, reader *databases.Reader, table string) int64 {
	t.Helper()

	n, err := reader.CountRecords(context.Background(), table)
	require.NoError(t, err)
	return n
}

func Test_Modifier_Inserted_Row_Reads_Back_With_Defaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	id, err := modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), modifier.LastInsertID())
	assert.Equal(t, int64(1), modifier.AffectedRows())
	assert.True(t, modifier.WasLastOperationSuccessful())

	row, err := reader.FindByID(ctx, "items", "id", 1)
	require.NoError(t, err)
	assert.Equal(t, "x", row.Value("name").String())
	assert.True(t, row.Value("qty").IsNull(), "omitted column without default reads NULL")
	assert.Equal(t, "none", row.Value("note").String(), "omitted column reads its declared default")

	id, err = modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"name": "y", "qty": 4, "note": "O'Brien"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	row, err = reader.FindByID(ctx, "items", "id", id)
	require.NoError(t, err)
	qty, _ := row.Value("qty").Int64()
	assert.Equal(t, int64(4), qty)
	assert.Equal(t, "O'Brien", row.Value("note").String())
}

func Test_Modifier_InsertRecord_Fails_When_Input_Empty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, _ := newItemsModifier(t)

	require.ErrorIs(t, modifier.InsertRecord(ctx, "", types.Values{"a": 1}), databases.ErrEmpty)
	require.ErrorIs(t, modifier.InsertRecord(ctx, "items", nil), databases.ErrEmpty)
	assert.False(t, modifier.WasLastOperationSuccessful())

	id, err := modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"qty": 1})
	require.Error(t, err, "name is NOT NULL")
	assert.Equal(t, int64(-1), id)
	assert.Equal(t, int64(-1), modifier.LastInsertID())

	modifier.ClearLastError()
	assert.True(t, modifier.WasLastOperationSuccessful())
}

func Test_Modifier_InsertRecords_Skips_Rows_With_Wrong_Arity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	inserted, err := modifier.InsertRecords(ctx, "items", []string{"name", "qty"}, [][]any{
		{"a", 1},
		{"b"},
		{"c", 3, "extra"},
		{"d", 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, int64(2), count(t, reader, "items"))
}

func Test_Modifier_InsertRecords_Collects_Row_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	inserted, err := modifier.InsertRecords(ctx, "items", []string{"name", "qty"}, [][]any{
		{"a", 1},
		{nil, 2},
		{"c", 3},
	})
	require.Error(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, int64(2), count(t, reader, "items"))
	assert.NotEmpty(t, modifier.LastError())
}

func Test_Modifier_Updates_And_Deletes_Rows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)
	_, err := modifier.InsertRecords(ctx, "items", []string{"name", "qty"}, [][]any{{"a", 1}, {"b", 2}})
	require.NoError(t, err)

	affected, err := modifier.UpdateRecords(ctx, "items", types.Values{"note": "n"}, "qty >= 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	changed, err := modifier.UpdateRecordByID(ctx, "items", 1, types.Values{"name": "A"}, "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = modifier.UpdateRecordByID(ctx, "items", 42, types.Values{"name": "Z"}, "id")
	require.NoError(t, err)
	assert.False(t, changed)

	affected, err = modifier.UpdateColumn(ctx, "items", "qty", 9, "name = 'b'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = modifier.UpdateRecords(ctx, "items", types.Values{"missing": 1}, "")
	require.Error(t, err)
	assert.Equal(t, int64(-1), affected)

	row, err := reader.FindByID(ctx, "items", "id", 2)
	require.NoError(t, err)
	assert.Equal(t, "9", row.Value("qty").String())

	deleted, err := modifier.DeleteRecordByID(ctx, "items", "1", "id")
	require.NoError(t, err)
	assert.True(t, deleted, "text ids are escaped and compared by affinity")

	affected, err = modifier.DeleteRecords(ctx, "items", "id = 99")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	require.NoError(t, modifier.DeleteAllRecords(ctx, "items"))
	assert.Equal(t, int64(0), count(t, reader, "items"))

	affected, err = modifier.DeleteRecords(ctx, "", "")
	require.ErrorIs(t, err, databases.ErrEmpty)
	assert.Equal(t, int64(-1), affected)
}

func Test_Modifier_TruncateTable_Resets_Autoincrement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	_, err := modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"name": "a"})
	require.NoError(t, err)
	_, err = modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"name": "b"})
	require.NoError(t, err)

	require.NoError(t, modifier.TruncateTable(ctx, "items"))
	assert.Equal(t, int64(0), count(t, reader, "items"))

	id, err := modifier.InsertRecordAndReturnID(ctx, "items", types.Values{"name": "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.ErrorIs(t, modifier.TruncateTable(ctx, ""), databases.ErrEmpty)
}

func Test_Modifier_UpsertRecord_Keeps_One_Row_Per_Conflict_Key(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := newTestRegistry(t)
	modifier := databases.NewModifier(registry, databases.DefaultConnectionName)
	reader := databases.NewReader(registry, databases.DefaultConnectionName)

	_, err := modifier.ExecuteModifyQuery(ctx, "CREATE TABLE kv (k TEXT UNIQUE, v TEXT, w INTEGER)")
	require.NoError(t, err)

	require.NoError(t, modifier.UpsertRecord(ctx, "kv", types.Values{"k": "a", "v": "first", "w": 1}, []string{"k"}))
	require.NoError(t, modifier.UpsertRecord(ctx, "kv", types.Values{"k": "a", "v": "second", "w": 2}, []string{"k"}))
	require.NoError(t, modifier.UpsertRecord(ctx, "kv", types.Values{"k": "b", "v": "other"}, []string{"k"}))

	rows, err := reader.FindByColumn(ctx, "kv", "k", "a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Value("v").String())
	assert.Equal(t, "2", rows[0].Value("w").String())
	assert.Equal(t, int64(2), count(t, reader, "kv"))

	require.NoError(t, modifier.UpsertRecord(ctx, "kv", types.Values{"k": "a"}, []string{"k"}),
		"all columns in the conflict target do nothing")

	err = modifier.UpsertRecord(ctx, "kv", types.Values{"k": "a"}, nil)
	require.ErrorIs(t, err, databases.ErrEmpty)
}

func Test_Modifier_InsertIfNotExists_Checks_Present_Columns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	inserted, err := modifier.InsertIfNotExists(ctx, "items", types.Values{"name": "a", "qty": 1}, []string{"name"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = modifier.InsertIfNotExists(ctx, "items", types.Values{"name": "a", "qty": 2}, []string{"name"})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = modifier.InsertIfNotExists(ctx, "items", types.Values{"name": "a", "qty": 2}, []string{"name", "qty"})
	require.NoError(t, err)
	assert.True(t, inserted, "match requires every present check column")

	inserted, err = modifier.InsertIfNotExists(ctx, "items", types.Values{"name": "b"}, []string{"note"})
	require.ErrorIs(t, err, databases.ErrEmpty)
	assert.False(t, inserted)

	assert.Equal(t, int64(2), count(t, reader, "items"))
}

func Test_Modifier_Rollback_Leaves_Count_Unchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)
	before := count(t, reader, "items")

	require.NoError(t, modifier.BeginTransaction(ctx))
	assert.True(t, modifier.InTransaction())
	require.NoError(t, modifier.InsertRecord(ctx, "items", types.Values{"name": "temp"}))
	require.NoError(t, modifier.RollbackTransaction())

	assert.False(t, modifier.InTransaction())
	assert.Equal(t, before, count(t, reader, "items"))
}

func Test_Modifier_Transaction_State_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, _ := newItemsModifier(t)

	require.ErrorIs(t, modifier.CommitTransaction(), databases.ErrNoTransaction)
	require.ErrorIs(t, modifier.RollbackTransaction(), databases.ErrNoTransaction)
	assert.Equal(t, "no transaction in progress", modifier.LastError())

	require.NoError(t, modifier.BeginTransaction(ctx))
	require.ErrorIs(t, modifier.BeginTransaction(ctx), databases.ErrTransactionActive)
	assert.True(t, modifier.InTransaction(), "a rejected begin keeps the active transaction")
	require.NoError(t, modifier.CommitTransaction())
	assert.Empty(t, modifier.LastError())
}

func Test_Modifier_ExecuteInTransaction_Commits_Only_On_True(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	ok, err := modifier.ExecuteInTransaction(ctx, func() (bool, error) {
		return true, modifier.InsertRecord(ctx, "items", types.Values{"name": "kept"})
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), count(t, reader, "items"))

	ok, err = modifier.ExecuteInTransaction(ctx, func() (bool, error) {
		require.NoError(t, modifier.InsertRecord(ctx, "items", types.Values{"name": "dropped"}))
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, modifier.InTransaction())
	assert.Equal(t, int64(1), count(t, reader, "items"))

	boom := errors.New("boom")
	ok, err = modifier.ExecuteInTransaction(ctx, func() (bool, error) {
		require.NoError(t, modifier.InsertRecord(ctx, "items", types.Values{"name": "dropped"}))
		return true, boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, "boom", modifier.LastError(), "callback error survives the rollback")
	assert.Equal(t, int64(1), count(t, reader, "items"))
}

func Test_Modifier_ExecuteInTransaction_Rolls_Back_Then_Repanics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	assert.PanicsWithValue(t, "callback exploded", func() {
		_, _ = modifier.ExecuteInTransaction(ctx, func() (bool, error) {
			_ = modifier.InsertRecord(ctx, "items", types.Values{"name": "dropped"})
			panic("callback exploded")
		})
	})

	assert.False(t, modifier.InTransaction())
	assert.Equal(t, int64(0), count(t, reader, "items"))
}

func Test_Modifier_Close_Rolls_Back_Active_Transaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	require.NoError(t, modifier.BeginTransaction(ctx))
	require.NoError(t, modifier.InsertRecord(ctx, "items", types.Values{"name": "pending"}))
	require.NoError(t, modifier.Close())

	assert.False(t, modifier.InTransaction())
	assert.Equal(t, int64(0), count(t, reader, "items"))
	assert.NoError(t, modifier.Close())
}

func Test_Modifier_BatchInsert_Commits_In_Batches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	rows := make([][]any, 0, 7)
	for i := range 6 {
		rows = append(rows, []any{"n", i})
	}
	rows = append(rows, []any{"short"})

	inserted, err := modifier.BatchInsert(ctx, "items", []string{"name", "qty"}, rows, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, inserted)
	assert.False(t, modifier.InTransaction())
	assert.Equal(t, int64(6), count(t, reader, "items"))
}

func Test_Modifier_BatchInsert_Returns_Error_When_Reprepare_Fails_After_Commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// The table is dropped between the first commit and the next prepare.
	var registry *databases.Registry
	var drop sync.Once
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zapcore.RegisterHooks(core, func(entry zapcore.Entry) error {
		if entry.Message != "batch committed" {
			return nil
		}
		drop.Do(func() {
			conn, err := registry.Get(databases.DefaultConnectionName)
			if err == nil {
				_, err = conn.DB.Exec("DROP TABLE items")
			}
			assert.NoError(t, err)
		})
		return nil
	}))

	registry = databases.NewRegistry(databases.WithLogger(logger.Sugar()))
	require.NoError(t, registry.Open(ctx, databases.DefaultConnectionName, filepath.Join(t.TempDir(), "batch.db")))
	t.Cleanup(func() { _ = registry.CloseAll() })
	createItems(t, registry)

	modifier := databases.NewModifier(registry, databases.DefaultConnectionName)
	t.Cleanup(func() { _ = modifier.Close() })

	var inserted int
	var err error
	assert.NotPanics(t, func() {
		inserted, err = modifier.BatchInsert(ctx, "items", []string{"name"}, [][]any{{"a"}, {"b"}, {"c"}, {"d"}}, 2)
	})
	require.Error(t, err)
	assert.Equal(t, 2, inserted)
	assert.Contains(t, modifier.LastError(), "no such table")
	assert.False(t, modifier.InTransaction())
	assert.Equal(t, 1, logs.FilterMessage("batch committed").Len())
}

func Test_Modifier_BatchInsert_Joins_External_Transaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	require.NoError(t, modifier.BeginTransaction(ctx))
	inserted, err := modifier.BatchInsert(ctx, "items", []string{"name"}, [][]any{{"a"}, {"b"}, {"c"}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.True(t, modifier.InTransaction(), "an external transaction stays open")

	require.NoError(t, modifier.RollbackTransaction())
	assert.Equal(t, int64(0), count(t, reader, "items"))
}

func Test_Modifier_BatchUpdate_Skips_Entries_Without_ID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	_, err := modifier.InsertRecords(ctx, "items", []string{"name"}, [][]any{{"a"}, {"b"}, {"c"}})
	require.NoError(t, err)

	updated, err := modifier.BatchUpdate(ctx, "items", []types.Values{
		{"id": 1, "qty": 10},
		{"qty": 99},
		{"id": 3, "qty": 30},
		{"id": 77, "qty": 1},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	sum, err := reader.SumValue(ctx, "items", "qty")
	require.NoError(t, err)
	assert.Equal(t, "40", sum.String())
}

func Test_Modifier_BatchDelete_Removes_Listed_IDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	_, err := modifier.InsertRecords(ctx, "items", []string{"name"}, [][]any{{"a"}, {"b"}, {"c"}, {"d"}})
	require.NoError(t, err)

	affected, err := modifier.BatchDelete(ctx, "items", []any{1, 3, 50}, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Equal(t, int64(2), count(t, reader, "items"))

	affected, err = modifier.BatchDelete(ctx, "items", nil, "id")
	require.ErrorIs(t, err, databases.ErrEmpty)
	assert.Equal(t, int64(-1), affected)
}

func Test_Modifier_Increments_And_Replaces_Nulls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	_, err := modifier.InsertRecords(ctx, "items", []string{"name", "qty"}, [][]any{{"a", 1}, {"b", nil}, {"c", 5}})
	require.NoError(t, err)

	affected, err := modifier.ReplaceNullValues(ctx, "items", "qty", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = modifier.IncrementValue(ctx, "items", "qty", 3, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	affected, err = modifier.DecrementValue(ctx, "items", "qty", 2, "name = 'c'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	sum, err := reader.SumValue(ctx, "items", "qty")
	require.NoError(t, err)
	assert.Equal(t, "13", sum.String())

	affected, err = modifier.IncrementValue(ctx, "items", "", 1, "")
	require.ErrorIs(t, err, databases.ErrEmpty)
	assert.Equal(t, int64(-1), affected)
}

func Test_Modifier_CopyRecords_Drops_ID_And_Applies_Overrides(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	_, err := modifier.InsertRecords(ctx, "items", []string{"name", "qty"}, [][]any{{"a", 1}, {"b", 2}})
	require.NoError(t, err)

	copied, err := modifier.CopyRecords(ctx, "items", "qty = 1", types.Values{"note": "copy"})
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.False(t, modifier.InTransaction())

	rows, err := reader.FindByColumn(ctx, "items", "note", "copy")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Value("name").String())
	assert.Equal(t, "3", rows[0].Value("id").String(), "copies get a fresh id")

	copied, err = modifier.CopyRecords(ctx, "items", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, copied)
	assert.Equal(t, int64(6), count(t, reader, "items"))
}

func Test_Modifier_Executes_Raw_Statements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier, reader := newItemsModifier(t)

	affected, err := modifier.ExecutePreparedQuery(ctx, "INSERT INTO items (name, qty) VALUES (?, ?)", []any{"p", 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.Equal(t, int64(1), modifier.LastInsertID())

	affected, err = modifier.ExecuteModifyQuery(ctx, "UPDATE items SET qty = qty * 10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = modifier.ExecuteModifyQuery(ctx, "")
	require.ErrorIs(t, err, databases.ErrEmpty)
	assert.Equal(t, int64(-1), affected)

	affected, err = modifier.ExecuteModifyQuery(ctx, "UPDATE nowhere SET x = 1")
	require.Error(t, err)
	assert.Equal(t, int64(-1), affected)
	assert.Contains(t, modifier.LastError(), "no such table")

	maxV, err := reader.MaxValue(ctx, "items", "qty")
	require.NoError(t, err)
	assert.Equal(t, "20", maxV.String())
}

func Test_Modifier_Reports_ErrNotOpen_When_Connection_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	modifier := databases.NewModifier(databases.NewRegistry(), "missing")

	affected, err := modifier.UpdateRecords(ctx, "items", types.Values{"a": 1}, "")
	require.ErrorIs(t, err, databases.ErrNotOpen)
	assert.Equal(t, int64(-1), affected)
	require.ErrorIs(t, modifier.BeginTransaction(ctx), databases.ErrNotOpen)
	assert.False(t, modifier.InTransaction())
}

func Test_EscapeValue_Matches_Inline_Literal_Rules(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NULL", databases.EscapeValue(nil))
	assert.Equal(t, "12", databases.EscapeValue(12))
	assert.Equal(t, "1", databases.EscapeValue(true))
	assert.Equal(t, "'it''s'", databases.EscapeValue("it's"))
}
