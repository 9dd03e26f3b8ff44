// Package dialect defines the per-backend strategy used by the schema,
// reader and modifier components, plus the row scanning they share.
package dialect

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/types"
)

// Backend kinds understood by the registry.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer = sqlx.QueryerContext

// Execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Execer = sqlx.ExtContext

// Dialect hides the backend-specific parts of introspection and of the few
// statements that differ between backends.
type Dialect interface {
	// Kind is one of SQLite, MySQL or Postgres.
	Kind() string
	// DriverName is the database/sql driver registered for the backend.
	DriverName() string
	// Open returns a handle that has not been pinged yet.
	Open(dsn string) (*sqlx.DB, error)

	ListTables(ctx context.Context, q Queryer) ([]string, error)
	ListViews(ctx context.Context, q Queryer) ([]string, error)
	Columns(ctx context.Context, q Queryer, table string) ([]types.Column, error)
	// TableStructure returns the backend's raw structure rows.
	TableStructure(ctx context.Context, q Queryer, table string) ([]types.Row, error)
	PrimaryKeys(ctx context.Context, q Queryer, table string) ([]string, error)
	ForeignKeys(ctx context.Context, q Queryer, table string) ([]types.ForeignKey, error)
	Indexes(ctx context.Context, q Queryer, table string) ([]types.Index, error)
	IsAutoIncrement(ctx context.Context, q Queryer, table, column string) (bool, error)
	ColumnDefault(ctx context.Context, q Queryer, table, column string) (string, error)
	Constraints(ctx context.Context, q Queryer, table string) ([]types.Row, error)
	// SizeInfo reports storage statistics; an empty map when the backend
	// exposes none.
	SizeInfo(ctx context.Context, q Queryer) (map[string]int64, error)

	// Truncate removes every row and returns the affected row count when
	// the backend reports one.
	Truncate(ctx context.Context, e Execer, table string) (int64, error)
	// UpsertSQL builds an insert-or-update statement with ? placeholders.
	UpsertSQL(table string, columns, conflict []string) string
}

// ScanRows drains rows into ordered Row values. Byte slices are turned into
// strings unless the column is declared as binary.
func ScanRows(rows *sqlx.Rows) ([]types.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	binary := make([]bool, len(columns))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			binary[i] = isBinaryType(ct.DatabaseTypeName())
		}
	}

	var result []types.Row
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("unable to scan row: %w", err)
		}

		values := make([]types.Value, len(raw))
		for i, v := range raw {
			if b, ok := v.([]byte); ok && !binary[i] {
				values[i] = types.String(string(b))
				continue
			}
			values[i] = types.ValueOf(v)
		}
		result = append(result, types.NewRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return result, nil
}

// QueryRows runs query on q and scans every row.
func QueryRows(ctx context.Context, q Queryer, query string, args ...any) ([]types.Row, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return ScanRows(rows)
}

// QueryStrings runs a single-column query and collects its values as text.
func QueryStrings(ctx context.Context, q Queryer, query string, args ...any) ([]string, error) {
	rows, err := QueryRows(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.At(0).String())
	}
	return out, nil
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") ||
		strings.Contains(name, "BINARY") ||
		strings.Contains(name, "BYTEA")
}
