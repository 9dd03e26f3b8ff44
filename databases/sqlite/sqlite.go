// Package sqlite is the native SQLite backend: introspection goes through
// PRAGMAs and sqlite_master instead of information_schema.
//
// Build modes:
//   - Default: mattn/go-sqlite3 (CGO)
//   - -tags purego: modernc.org/sqlite
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/types"
)

const busyTimeoutMillis = 5000

type Dialect struct{}

var _ dialect.Dialect = Dialect{}

func New() Dialect { return Dialect{} }

func (Dialect) Kind() string       { return dialect.SQLite }
func (Dialect) DriverName() string { return driverName }

// DriverType reports which SQLite implementation was compiled in.
func DriverType() string { return driverType }

// Open creates the parent directory of path when needed and opens the file.
func (d Dialect) Open(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open(driverName, dataSource(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (Dialect) ListTables(ctx context.Context, q dialect.Queryer) ([]string, error) {
	tables, err := dialect.QueryStrings(ctx, q, `
		SELECT name
		FROM sqlite_master
		WHERE type='table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (Dialect) ListViews(ctx context.Context, q dialect.Queryer) ([]string, error) {
	views, err := dialect.QueryStrings(ctx, q, `
		SELECT name
		FROM sqlite_master
		WHERE type='view'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query views: %w", err)
	}
	return views, nil
}

func (d Dialect) TableStructure(ctx context.Context, q dialect.Queryer, table string) ([]types.Row, error) {
	rows, err := dialect.QueryRows(ctx, q, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	return rows, nil
}

// Columns reads PRAGMA table_info: cid, name, type, notnull, dflt_value, pk.
func (d Dialect) Columns(ctx context.Context, q dialect.Queryer, table string) ([]types.Column, error) {
	rows, err := d.TableStructure(ctx, q, table)
	if err != nil {
		return nil, err
	}

	columns := make([]types.Column, 0, len(rows))
	for _, r := range rows {
		notNull, _ := r.Value("notnull").Int64()
		pk, _ := r.Value("pk").Int64()
		columns = append(columns, types.Column{
			Name:     r.Value("name").String(),
			Type:     r.Value("type").String(),
			Nullable: notNull == 0,
			Default:  r.Value("dflt_value").String(),
			Primary:  pk > 0,
		})
	}
	return columns, nil
}

func (Dialect) PrimaryKeys(ctx context.Context, q dialect.Queryer, table string) ([]string, error) {
	keys, err := dialect.QueryStrings(ctx, q, `
		SELECT name
		FROM pragma_table_info(?)
		WHERE pk > 0
		ORDER BY pk`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	return keys, nil
}

// ForeignKeys reads PRAGMA foreign_key_list, whose "from" column names the
// local column.
func (Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, table string) ([]types.ForeignKey, error) {
	rows, err := dialect.QueryRows(ctx, q, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	keys := make([]types.ForeignKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, types.ForeignKey{
			Column:    r.Value("from").String(),
			RefTable:  r.Value("table").String(),
			RefColumn: r.Value("to").String(),
		})
	}
	return keys, nil
}

func (Dialect) Indexes(ctx context.Context, q dialect.Queryer, table string) ([]types.Index, error) {
	list, err := dialect.QueryRows(ctx, q, `
		SELECT name, "unique"
		FROM pragma_index_list(?)
		WHERE origin != 'pk'`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	var indexes []types.Index
	for _, r := range list {
		name := r.At(0).String()

		columns, err := dialect.QueryStrings(ctx, q, `
			SELECT name
			FROM pragma_index_info(?)
			ORDER BY seqno`, name)
		if err != nil {
			continue
		}

		indexes = append(indexes, types.Index{
			Name:    name,
			Columns: columns,
			Unique:  r.At(1).Bool(),
		})
	}
	return indexes, nil
}

// IsAutoIncrement looks for "<column> integer primary key" in the lowered
// CREATE TABLE text. This is a text match, not a parse: extra whitespace,
// quoting or a table-level PRIMARY KEY clause defeat it.
func (Dialect) IsAutoIncrement(ctx context.Context, q dialect.Queryer, table, column string) (bool, error) {
	ddl, err := dialect.QueryStrings(ctx, q,
		"SELECT sql FROM sqlite_master WHERE type='table' AND name = ?", table)
	if err != nil {
		return false, fmt.Errorf("failed to read table definition: %w", err)
	}
	if len(ddl) == 0 {
		return false, nil
	}

	needle := strings.ToLower(column) + " integer primary key"
	return strings.Contains(strings.ToLower(ddl[0]), needle), nil
}

func (d Dialect) ColumnDefault(ctx context.Context, q dialect.Queryer, table, column string) (string, error) {
	columns, err := d.Columns(ctx, q, table)
	if err != nil {
		return "", err
	}
	for _, c := range columns {
		if strings.EqualFold(c.Name, column) {
			return c.Default, nil
		}
	}
	return "", nil
}

// Constraints reports foreign keys, the only constraint list SQLite exposes
// through a PRAGMA.
func (Dialect) Constraints(ctx context.Context, q dialect.Queryer, table string) ([]types.Row, error) {
	rows, err := dialect.QueryRows(ctx, q, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to get constraints: %w", err)
	}
	return rows, nil
}

func (Dialect) SizeInfo(ctx context.Context, q dialect.Queryer) (map[string]int64, error) {
	info := make(map[string]int64)

	for _, pragma := range []string{"page_size", "page_count"} {
		var n int64
		if err := sqlx.GetContext(ctx, q, &n, "PRAGMA "+pragma); err != nil {
			return info, fmt.Errorf("failed to read %s: %w", pragma, err)
		}
		info[pragma] = n
	}
	info["database_size_bytes"] = info["page_size"] * info["page_count"]

	return info, nil
}

// Truncate deletes every row, then resets the AUTOINCREMENT counter. The
// reset fails harmlessly when the table never used one.
func (Dialect) Truncate(ctx context.Context, e dialect.Execer, table string) (int64, error) {
	res, err := e.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()

	_, _ = e.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", table)

	return affected, nil
}

func (Dialect) UpsertSQL(table string, columns, conflict []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	var updates []string
	for _, col := range columns {
		if !containsFold(conflict, col) {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		table,
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(conflict, ", "),
		action)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
