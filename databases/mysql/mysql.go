package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/databases/generic"
	"github.com/melkeydev/treedb/types"
)

// Dialect is the information_schema path with the MySQL-specific columns
// (referenced_table_name, statistics, extra) filled in.
type Dialect struct {
	*generic.Dialect
}

var _ dialect.Dialect = Dialect{}

func New() Dialect {
	return Dialect{Dialect: &generic.Dialect{
		Name:     dialect.MySQL,
		Driver:   "mysql",
		Bind:     sqlx.QUESTION,
		Schema:   "DATABASE()",
		OpenFunc: open,
	}}
}

// ValidateDSN reports whether connectionString parses as a MySQL DSN.
func ValidateDSN(connectionString string) error {
	if _, err := mysql.ParseDSN(connectionString); err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	return nil
}

func open(connectionString string) (*sqlx.DB, error) {
	if err := ValidateDSN(connectionString); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("mysql", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (d Dialect) ForeignKeys(ctx context.Context, q dialect.Queryer, table string) ([]types.ForeignKey, error) {
	rows, err := dialect.QueryRows(ctx, q, `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND referenced_table_name IS NOT NULL`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	return generic.ForeignKeysFromRows(rows), nil
}

func (d Dialect) Indexes(ctx context.Context, q dialect.Queryer, table string) ([]types.Index, error) {
	rows, err := dialect.QueryRows(ctx, q, `
		SELECT
			index_name,
			GROUP_CONCAT(column_name ORDER BY seq_in_index) as columns,
			NOT non_unique as is_unique
		FROM information_schema.statistics
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND index_name != 'PRIMARY'
		GROUP BY index_name, non_unique`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	indexes := make([]types.Index, 0, len(rows))
	for _, r := range rows {
		indexes = append(indexes, types.Index{
			Name:    r.At(0).String(),
			Columns: strings.Split(r.At(1).String(), ","),
			Unique:  r.At(2).Bool(),
		})
	}
	return indexes, nil
}

func (d Dialect) IsAutoIncrement(ctx context.Context, q dialect.Queryer, table, column string) (bool, error) {
	extra, err := dialect.QueryStrings(ctx, q, `
		SELECT extra
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`, table, column)
	if err != nil {
		return false, fmt.Errorf("failed to read column extra: %w", err)
	}
	return len(extra) > 0 && strings.Contains(strings.ToLower(extra[0]), "auto_increment"), nil
}
