// Package generic implements the portable introspection path used for every
// backend that is not SQLite: information_schema views, and a zero-row probe
// select when only result metadata is needed.
package generic

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/types"
)

// Dialect is configured by the concrete backends, which override the few
// methods where standard information_schema is not enough.
type Dialect struct {
	Name   string
	Driver string
	// Bind is the sqlx bind type used to rewrite ? placeholders.
	Bind int
	// Schema is an SQL expression yielding the current schema name.
	Schema string
	// OpenFunc opens a handle for a DSN.
	OpenFunc func(dsn string) (*sqlx.DB, error)
}

var _ dialect.Dialect = (*Dialect)(nil)

func (d *Dialect) Kind() string       { return d.Name }
func (d *Dialect) DriverName() string { return d.Driver }

func (d *Dialect) Open(dsn string) (*sqlx.DB, error) {
	if d.OpenFunc == nil {
		return nil, fmt.Errorf("no opener configured for %s", d.Name)
	}
	return d.OpenFunc(dsn)
}

// Rebind rewrites ? placeholders for the backend.
func (d *Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.Bind, query)
}

func (d *Dialect) ListTables(ctx context.Context, q dialect.Queryer) ([]string, error) {
	tables, err := dialect.QueryStrings(ctx, q, fmt.Sprintf(`
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema = %s
		ORDER BY table_name`, d.Schema))
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (d *Dialect) ListViews(ctx context.Context, q dialect.Queryer) ([]string, error) {
	views, err := dialect.QueryStrings(ctx, q, fmt.Sprintf(`
		SELECT table_name
		FROM information_schema.views
		WHERE table_schema = %s
		ORDER BY table_name`, d.Schema))
	if err != nil {
		return nil, fmt.Errorf("failed to query views: %w", err)
	}
	return views, nil
}

// Columns runs a zero-row probe and reads names, types and nullability from
// the result metadata, without fetching any data.
func (d *Dialect) Columns(ctx context.Context, q dialect.Queryer, table string) ([]types.Column, error) {
	rows, err := q.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1=0", table))
	if err != nil {
		return nil, fmt.Errorf("failed to probe columns: %w", err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	columns := make([]types.Column, 0, len(colTypes))
	for _, ct := range colTypes {
		nullable, ok := ct.Nullable()
		columns = append(columns, types.Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable || !ok,
		})
	}
	return columns, nil
}

func (d *Dialect) TableStructure(ctx context.Context, q dialect.Queryer, table string) ([]types.Row, error) {
	rows, err := dialect.QueryRows(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = %s
		ORDER BY ordinal_position`, d.Schema)), table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	return rows, nil
}

func (d *Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, table string) ([]string, error) {
	keys, err := dialect.QueryStrings(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_name = ?
		AND tc.table_schema = %s
		ORDER BY kcu.ordinal_position`, d.Schema)), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	return keys, nil
}

func (d *Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, table string) ([]types.ForeignKey, error) {
	rows, err := dialect.QueryRows(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_name = ?
		AND tc.table_schema = %s`, d.Schema)), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	return ForeignKeysFromRows(rows), nil
}

// Indexes has no portable information_schema view; backends override it.
func (d *Dialect) Indexes(ctx context.Context, q dialect.Queryer, table string) ([]types.Index, error) {
	return nil, nil
}

func (d *Dialect) IsAutoIncrement(ctx context.Context, q dialect.Queryer, table, column string) (bool, error) {
	values, err := dialect.QueryStrings(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT is_identity
		FROM information_schema.columns
		WHERE table_name = ? AND column_name = ? AND table_schema = %s`, d.Schema)), table, column)
	if err != nil {
		return false, fmt.Errorf("failed to read column identity: %w", err)
	}
	return len(values) > 0 && strings.EqualFold(values[0], "YES"), nil
}

func (d *Dialect) ColumnDefault(ctx context.Context, q dialect.Queryer, table, column string) (string, error) {
	values, err := dialect.QueryStrings(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT column_default
		FROM information_schema.columns
		WHERE table_name = ? AND column_name = ? AND table_schema = %s`, d.Schema)), table, column)
	if err != nil {
		return "", fmt.Errorf("failed to read column default: %w", err)
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

func (d *Dialect) Constraints(ctx context.Context, q dialect.Queryer, table string) ([]types.Row, error) {
	rows, err := dialect.QueryRows(ctx, q, d.Rebind(fmt.Sprintf(`
		SELECT constraint_name, constraint_type
		FROM information_schema.table_constraints
		WHERE table_name = ? AND table_schema = %s`, d.Schema)), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get constraints: %w", err)
	}
	return rows, nil
}

func (d *Dialect) SizeInfo(ctx context.Context, q dialect.Queryer) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (d *Dialect) Truncate(ctx context.Context, e dialect.Execer, table string) (int64, error) {
	res, err := e.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table))
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// UpsertSQL emits REPLACE INTO, which deletes and reinserts a conflicting
// row rather than updating it in place.
func (d *Dialect) UpsertSQL(table string, columns, conflict []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)
}

// ForeignKeysFromRows converts (column, ref_table, ref_column) rows.
func ForeignKeysFromRows(rows []types.Row) []types.ForeignKey {
	keys := make([]types.ForeignKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, types.ForeignKey{
			Column:    r.At(0).String(),
			RefTable:  r.At(1).String(),
			RefColumn: r.At(2).String(),
		})
	}
	return keys
}
