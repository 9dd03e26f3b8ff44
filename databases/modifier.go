package databases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/types"
	"go.uber.org/multierr"
)

// DefaultBatchSize is the number of inserted rows BatchInsert commits at a
// time when it owns the transaction.
const DefaultBatchSize = 100

// executor is satisfied by *sqlx.DB and *sqlx.Tx.
type executor interface {
	sqlx.ExtContext
	PreparexContext(ctx context.Context, query string) (*sqlx.Stmt, error)
}

// Modifier writes rows through one named connection. It holds at most one
// transaction; while it is active every statement runs inside it.
//
// A Modifier is not safe for concurrent use.
type Modifier struct {
	registry       *Registry
	connectionName string

	tx *sqlx.Tx

	lastError    string
	lastInsertID int64
	affectedRows int64
}

func NewModifier(registry *Registry, connectionName string) *Modifier {
	if connectionName == "" {
		connectionName = DefaultConnectionName
	}
	return &Modifier{
		registry:       registry,
		connectionName: connectionName,
		lastInsertID:   -1,
	}
}

func (m *Modifier) SetConnectionName(name string) { m.connectionName = name }
func (m *Modifier) ConnectionName() string        { return m.connectionName }

// LastInsertID is the id reported by the last successful insert, or -1.
func (m *Modifier) LastInsertID() int64 { return m.lastInsertID }
func (m *Modifier) AffectedRows() int64 { return m.affectedRows }
func (m *Modifier) LastError() string   { return m.lastError }
func (m *Modifier) ClearLastError()     { m.lastError = "" }
func (m *Modifier) InTransaction() bool { return m.tx != nil }

// WasLastOperationSuccessful reports whether no error has been recorded
// since the last clear.
func (m *Modifier) WasLastOperationSuccessful() bool { return m.lastError == "" }

func (m *Modifier) fail(err error) error {
	m.lastError = err.Error()
	m.registry.logger.Debugw("modify failed", "connection", m.connectionName, "error", err)
	return err
}

func (m *Modifier) executor() (*Conn, executor, error) {
	conn, err := m.registry.Get(m.connectionName)
	if err != nil {
		return nil, nil, err
	}
	if m.tx != nil {
		return conn, m.tx, nil
	}
	return conn, conn.DB, nil
}

// execAndUpdateStats runs query and records affected rows and the last
// insert id. Backends that cannot report an insert id leave it at -1.
func (m *Modifier) execAndUpdateStats(ctx context.Context, query string, args ...any) error {
	m.lastError = ""

	conn, ex, err := m.executor()
	if err != nil {
		m.affectedRows, m.lastInsertID = 0, -1
		return m.fail(err)
	}

	res, err := ex.ExecContext(ctx, conn.DB.Rebind(query), args...)
	if err != nil {
		m.affectedRows, m.lastInsertID = 0, -1
		return m.fail(err)
	}

	m.affectedRows, _ = res.RowsAffected()
	if id, err := res.LastInsertId(); err == nil {
		m.lastInsertID = id
	} else {
		m.lastInsertID = -1
	}
	return nil
}

func insertSQL(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns)))
}

// InsertRecord inserts one row. Columns are written in sorted order.
func (m *Modifier) InsertRecord(ctx context.Context, table string, values types.Values) error {
	if table == "" || len(values) == 0 {
		return m.fail(fmt.Errorf("table name or values: %w", ErrEmpty))
	}

	columns := sortedColumns(values)
	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = types.ValueOf(values[col])
	}

	return m.execAndUpdateStats(ctx, insertSQL(table, columns), args...)
}

// InsertRecords inserts rows through one prepared statement and returns the
// number inserted. Rows whose length differs from columns are skipped
// without error; failures of individual rows are combined in the returned
// error.
func (m *Modifier) InsertRecords(ctx context.Context, table string, columns []string, rows [][]any) (int, error) {
	m.lastError = ""
	if table == "" || len(columns) == 0 || len(rows) == 0 {
		return 0, m.fail(fmt.Errorf("table name, columns or values: %w", ErrEmpty))
	}

	stmt, err := m.prepare(ctx, insertSQL(table, columns))
	if err != nil {
		return 0, m.fail(err)
	}
	defer stmt.Close()

	var errs error
	inserted := 0
	for _, row := range rows {
		if len(row) != len(columns) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, bindArgs(row)...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		inserted++
	}

	if errs != nil {
		return inserted, m.fail(errs)
	}
	return inserted, nil
}

func (m *Modifier) prepare(ctx context.Context, query string) (*sqlx.Stmt, error) {
	conn, ex, err := m.executor()
	if err != nil {
		return nil, err
	}
	return ex.PreparexContext(ctx, conn.DB.Rebind(query))
}

// InsertRecordAndReturnID inserts one row and returns its id, or -1.
func (m *Modifier) InsertRecordAndReturnID(ctx context.Context, table string, values types.Values) (int64, error) {
	if err := m.InsertRecord(ctx, table, values); err != nil {
		return -1, err
	}
	return m.lastInsertID, nil
}

// UpdateRecords sets values on the rows matching where, or on every row
// when where is empty. It returns the affected row count, or -1.
func (m *Modifier) UpdateRecords(ctx context.Context, table string, values types.Values, where string) (int64, error) {
	if table == "" || len(values) == 0 {
		return -1, m.fail(fmt.Errorf("table name or values: %w", ErrEmpty))
	}

	columns := sortedColumns(values)
	sets := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		sets[i] = col + " = ?"
		args[i] = types.ValueOf(values[col])
	}

	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if where != "" {
		query += " WHERE " + where
	}

	if err := m.execAndUpdateStats(ctx, query, args...); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

// UpdateRecordByID reports whether at least one row changed. idColumn
// defaults to "id".
func (m *Modifier) UpdateRecordByID(ctx context.Context, table string, id any, values types.Values, idColumn string) (bool, error) {
	if idColumn == "" {
		idColumn = "id"
	}
	affected, err := m.UpdateRecords(ctx, table, values, equals(idColumn, id))
	return affected > 0, err
}

func (m *Modifier) UpdateColumn(ctx context.Context, table, column string, value any, where string) (int64, error) {
	return m.UpdateRecords(ctx, table, types.Values{column: value}, where)
}

// DeleteRecords deletes the rows matching where, or every row when where
// is empty. It returns the affected row count, or -1.
func (m *Modifier) DeleteRecords(ctx context.Context, table, where string) (int64, error) {
	if table == "" {
		return -1, m.fail(fmt.Errorf("table name: %w", ErrEmpty))
	}

	query := fmt.Sprintf("DELETE FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}

	if err := m.execAndUpdateStats(ctx, query); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

func (m *Modifier) DeleteRecordByID(ctx context.Context, table string, id any, idColumn string) (bool, error) {
	if idColumn == "" {
		idColumn = "id"
	}
	affected, err := m.DeleteRecords(ctx, table, equals(idColumn, id))
	return affected > 0, err
}

func (m *Modifier) DeleteAllRecords(ctx context.Context, table string) error {
	_, err := m.DeleteRecords(ctx, table, "")
	return err
}

// TruncateTable empties table with the backend's truncate: DELETE plus an
// AUTOINCREMENT reset on SQLite, TRUNCATE TABLE elsewhere.
func (m *Modifier) TruncateTable(ctx context.Context, table string) error {
	m.lastError = ""
	if table == "" {
		return m.fail(fmt.Errorf("table name: %w", ErrEmpty))
	}

	conn, ex, err := m.executor()
	if err != nil {
		return m.fail(err)
	}

	affected, err := conn.Dialect.Truncate(ctx, ex, table)
	if err != nil {
		return m.fail(err)
	}
	m.affectedRows = affected
	return nil
}

// UpsertRecord inserts values or, when a row already holds the conflict
// columns' values, updates that row's remaining columns.
func (m *Modifier) UpsertRecord(ctx context.Context, table string, values types.Values, conflictColumns []string) error {
	if table == "" || len(values) == 0 || len(conflictColumns) == 0 {
		return m.fail(fmt.Errorf("table name, values or conflict columns: %w", ErrEmpty))
	}

	conn, err := m.registry.Get(m.connectionName)
	if err != nil {
		return m.fail(err)
	}

	columns := sortedColumns(values)
	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = types.ValueOf(values[col])
	}

	return m.execAndUpdateStats(ctx, conn.Dialect.UpsertSQL(table, columns, conflictColumns), args...)
}

// InsertIfNotExists inserts values unless a row already matches every
// check column present in values. It reports whether a row was inserted.
func (m *Modifier) InsertIfNotExists(ctx context.Context, table string, values types.Values, checkColumns []string) (bool, error) {
	m.lastError = ""
	if table == "" || len(values) == 0 || len(checkColumns) == 0 {
		return false, m.fail(fmt.Errorf("table name, values or check columns: %w", ErrEmpty))
	}

	var conditions []string
	for _, col := range checkColumns {
		if v, ok := values[col]; ok {
			conditions = append(conditions, equals(col, v))
		}
	}
	if len(conditions) == 0 {
		return false, m.fail(fmt.Errorf("no check column present in values: %w", ErrEmpty))
	}

	_, ex, err := m.executor()
	if err != nil {
		return false, m.fail(err)
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, strings.Join(conditions, " AND "))
	if err := sqlx.GetContext(ctx, ex, &count, query); err != nil {
		return false, m.fail(err)
	}
	if count > 0 {
		return false, nil
	}

	if err := m.InsertRecord(ctx, table, values); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Modifier) BeginTransaction(ctx context.Context) error {
	if m.tx != nil {
		return m.fail(ErrTransactionActive)
	}

	conn, err := m.registry.Get(m.connectionName)
	if err != nil {
		return m.fail(err)
	}

	tx, err := conn.DB.BeginTxx(ctx, nil)
	if err != nil {
		return m.fail(fmt.Errorf("failed to begin transaction: %w", err))
	}

	m.tx = tx
	m.lastError = ""
	return nil
}

// CommitTransaction commits the active transaction. The transaction is
// over afterwards even when the commit fails.
func (m *Modifier) CommitTransaction() error {
	if m.tx == nil {
		return m.fail(ErrNoTransaction)
	}

	tx := m.tx
	m.tx = nil
	if err := tx.Commit(); err != nil {
		return m.fail(fmt.Errorf("failed to commit transaction: %w", err))
	}

	m.lastError = ""
	return nil
}

func (m *Modifier) RollbackTransaction() error {
	if m.tx == nil {
		return m.fail(ErrNoTransaction)
	}

	tx := m.tx
	m.tx = nil
	if err := tx.Rollback(); err != nil {
		return m.fail(fmt.Errorf("failed to rollback transaction: %w", err))
	}

	m.lastError = ""
	return nil
}

// ExecuteInTransaction runs fn inside a new transaction and commits when fn
// returns true. A false result, an error or a panic rolls back; the panic
// is then re-raised. LastError keeps the message fn left behind.
func (m *Modifier) ExecuteInTransaction(ctx context.Context, fn func() (bool, error)) (bool, error) {
	if err := m.BeginTransaction(ctx); err != nil {
		return false, err
	}

	defer func() {
		if m.tx == nil {
			return
		}
		lastError := m.lastError
		if err := m.RollbackTransaction(); err != nil {
			m.registry.logger.Warnw("rollback failed", "connection", m.connectionName, "error", err)
			return
		}
		m.lastError = lastError
	}()

	ok, err := fn()
	if err != nil {
		return false, m.fail(err)
	}
	if !ok {
		return false, nil
	}

	if err := m.CommitTransaction(); err != nil {
		return false, err
	}
	return true, nil
}

// BatchInsert inserts rows like InsertRecords. Without an active
// transaction, and with batchSize > 0, it runs in its own transaction that
// is committed and reopened after every batchSize inserted rows, so rows
// from completed batches survive a later failure.
func (m *Modifier) BatchInsert(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) (int, error) {
	m.lastError = ""
	if table == "" || len(columns) == 0 || len(rows) == 0 {
		return 0, m.fail(fmt.Errorf("table name, columns or values: %w", ErrEmpty))
	}

	local := m.tx == nil && batchSize > 0
	if local {
		if err := m.BeginTransaction(ctx); err != nil {
			return 0, err
		}
	}

	batchID := uuid.NewString()
	logger := m.registry.logger.With("connection", m.connectionName, "table", table, "batch", batchID)

	query := insertSQL(table, columns)
	stmt, err := m.prepare(ctx, query)
	if err != nil {
		if local {
			_ = m.RollbackTransaction()
		}
		return 0, m.fail(err)
	}
	defer func() { stmt.Close() }()

	var errs error
	inserted, current := 0, 0
	for _, row := range rows {
		if len(row) != len(columns) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, bindArgs(row)...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		inserted++
		current++

		if local && current >= batchSize {
			stmt.Close()
			if err := m.CommitTransaction(); err != nil {
				return inserted, m.fail(multierr.Append(errs, err))
			}
			logger.Debugw("batch committed", "rows", current)

			if err := m.BeginTransaction(ctx); err != nil {
				return inserted, m.fail(multierr.Append(errs, err))
			}
			next, err := m.prepare(ctx, query)
			if err != nil {
				_ = m.RollbackTransaction()
				return inserted, m.fail(multierr.Append(errs, err))
			}
			stmt = next
			current = 0
		}
	}

	if local {
		stmt.Close()
		if err := m.CommitTransaction(); err != nil {
			errs = multierr.Append(errs, err)
		} else if current > 0 {
			logger.Debugw("batch committed", "rows", current)
		}
	}

	if errs != nil {
		return inserted, m.fail(errs)
	}
	return inserted, nil
}

// BatchUpdate applies each update to the row whose idColumn matches the
// update's own idColumn value. Updates without idColumn are skipped. It
// returns the number of updates that changed a row.
func (m *Modifier) BatchUpdate(ctx context.Context, table string, updates []types.Values, idColumn string) (int, error) {
	m.lastError = ""
	if table == "" || len(updates) == 0 {
		return 0, m.fail(fmt.Errorf("table name or updates: %w", ErrEmpty))
	}
	if idColumn == "" {
		idColumn = "id"
	}

	local := m.tx == nil
	if local {
		if err := m.BeginTransaction(ctx); err != nil {
			return 0, err
		}
	}

	var errs error
	updated := 0
	for _, update := range updates {
		id, ok := update[idColumn]
		if !ok {
			continue
		}

		values := make(types.Values, len(update)-1)
		for col, v := range update {
			if col != idColumn {
				values[col] = v
			}
		}

		changed, err := m.UpdateRecordByID(ctx, table, id, values, idColumn)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if changed {
			updated++
		}
	}

	if local {
		errs = multierr.Append(errs, m.CommitTransaction())
	}

	if errs != nil {
		return updated, m.fail(errs)
	}
	return updated, nil
}

// BatchDelete deletes every row whose idColumn is in ids with a single
// statement. It returns the affected row count, or -1.
func (m *Modifier) BatchDelete(ctx context.Context, table string, ids []any, idColumn string) (int64, error) {
	if table == "" || len(ids) == 0 {
		return -1, m.fail(fmt.Errorf("table name or ids: %w", ErrEmpty))
	}
	if idColumn == "" {
		idColumn = "id"
	}

	query, args, err := sqlx.In(fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", table, idColumn), bindArgs(ids))
	if err != nil {
		return -1, m.fail(err)
	}

	if err := m.execAndUpdateStats(ctx, query, args...); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

// IncrementValue adds by to column on the matching rows.
func (m *Modifier) IncrementValue(ctx context.Context, table, column string, by int64, where string) (int64, error) {
	if table == "" || column == "" {
		return -1, m.fail(fmt.Errorf("table name or column name: %w", ErrEmpty))
	}

	query := fmt.Sprintf("UPDATE %s SET %s = %s + %d", table, column, column, by)
	if where != "" {
		query += " WHERE " + where
	}

	if err := m.execAndUpdateStats(ctx, query); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

func (m *Modifier) DecrementValue(ctx context.Context, table, column string, by int64, where string) (int64, error) {
	return m.IncrementValue(ctx, table, column, -by, where)
}

// ReplaceNullValues sets column to value wherever it is NULL.
func (m *Modifier) ReplaceNullValues(ctx context.Context, table, column string, value any) (int64, error) {
	if table == "" || column == "" {
		return -1, m.fail(fmt.Errorf("table name or column name: %w", ErrEmpty))
	}

	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", table, column, EscapeValue(value), column)
	if err := m.execAndUpdateStats(ctx, query); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

// CopyRecords re-inserts every row matching where (all rows when empty)
// without its "id" column and with overrides applied. It runs in its own
// transaction unless one is active and returns the number of copies.
func (m *Modifier) CopyRecords(ctx context.Context, table, where string, overrides types.Values) (int, error) {
	m.lastError = ""
	if table == "" {
		return 0, m.fail(fmt.Errorf("table name: %w", ErrEmpty))
	}
	if where == "" {
		where = "1=1"
	}

	local := m.tx == nil
	if local {
		if err := m.BeginTransaction(ctx); err != nil {
			return 0, err
		}
	}

	_, ex, err := m.executor()
	if err != nil {
		if local {
			_ = m.RollbackTransaction()
		}
		return 0, m.fail(err)
	}

	rows, err := dialect.QueryRows(ctx, ex, fmt.Sprintf("SELECT * FROM %s WHERE %s", table, where))
	if err != nil {
		if local {
			_ = m.RollbackTransaction()
		}
		return 0, m.fail(err)
	}

	var errs error
	copied := 0
	for _, row := range rows {
		values := row.Values()
		delete(values, "id")
		for col, v := range overrides {
			values[col] = v
		}

		if err := m.InsertRecord(ctx, table, values); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		copied++
	}

	if local {
		errs = multierr.Append(errs, m.CommitTransaction())
	}

	if errs != nil {
		return copied, m.fail(errs)
	}
	return copied, nil
}

// ExecuteModifyQuery runs query verbatim and returns the affected row
// count, or -1.
func (m *Modifier) ExecuteModifyQuery(ctx context.Context, query string) (int64, error) {
	if query == "" {
		return -1, m.fail(fmt.Errorf("query string: %w", ErrEmpty))
	}
	if err := m.execAndUpdateStats(ctx, query); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

// ExecutePreparedQuery runs query with args bound positionally to its ?
// placeholders.
func (m *Modifier) ExecutePreparedQuery(ctx context.Context, query string, args []any) (int64, error) {
	if query == "" {
		return -1, m.fail(fmt.Errorf("query string: %w", ErrEmpty))
	}
	if err := m.execAndUpdateStats(ctx, query, bindArgs(args)...); err != nil {
		return -1, err
	}
	return m.affectedRows, nil
}

// Close rolls back a transaction left open. The connection itself belongs
// to the registry and stays open.
func (m *Modifier) Close() error {
	if m.tx == nil {
		return nil
	}
	m.registry.logger.Warnw("rolling back unfinished transaction", "connection", m.connectionName)
	err := m.RollbackTransaction()
	if errors.Is(err, ErrNoTransaction) {
		return nil
	}
	return err
}
