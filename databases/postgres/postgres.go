package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/databases/generic"
	"github.com/melkeydev/treedb/types"
)

// Dialect is the information_schema path with pg_indexes, serial detection
// and ON CONFLICT upserts, since PostgreSQL has no REPLACE INTO.
type Dialect struct {
	*generic.Dialect
}

var _ dialect.Dialect = Dialect{}

func New() Dialect {
	return Dialect{Dialect: &generic.Dialect{
		Name:     dialect.Postgres,
		Driver:   "pgx",
		Bind:     sqlx.DOLLAR,
		Schema:   "current_schema()",
		OpenFunc: open,
	}}
}

func open(connectionString string) (*sqlx.DB, error) {
	config, err := pgx.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.PreferSimpleProtocol = true

	return sqlx.NewDb(stdlib.OpenDB(*config), "pgx"), nil
}

func (d Dialect) Indexes(ctx context.Context, q dialect.Queryer, table string) ([]types.Index, error) {
	rows, err := dialect.QueryRows(ctx, q, `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE t.relname = $1
		AND n.nspname = current_schema()
		AND NOT ix.indisprimary
		ORDER BY i.relname, a.attnum`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	var indexes []types.Index
	byName := make(map[string]int)
	for _, r := range rows {
		name := r.At(0).String()
		pos, ok := byName[name]
		if !ok {
			indexes = append(indexes, types.Index{Name: name, Unique: r.At(2).Bool()})
			pos = len(indexes) - 1
			byName[name] = pos
		}
		indexes[pos].Columns = append(indexes[pos].Columns, r.At(1).String())
	}
	return indexes, nil
}

// IsAutoIncrement treats identity columns and serial columns (a nextval
// default) as auto-incrementing.
func (d Dialect) IsAutoIncrement(ctx context.Context, q dialect.Queryer, table, column string) (bool, error) {
	rows, err := dialect.QueryRows(ctx, q, `
		SELECT is_identity, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`, table, column)
	if err != nil {
		return false, fmt.Errorf("failed to read column identity: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return strings.EqualFold(rows[0].At(0).String(), "YES") ||
		strings.HasPrefix(rows[0].At(1).String(), "nextval("), nil
}

func (d Dialect) UpsertSQL(table string, columns, conflict []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	var updates []string
	for _, col := range columns {
		if !contains(conflict, col) {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table,
		strings.Join(columns, ", "),
		placeholders,
		strings.Join(conflict, ", "),
		action)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
