package databases

import (
	"context"
	"fmt"
	"strings"

	"github.com/melkeydev/treedb/databases/dialect"
	"github.com/melkeydev/treedb/types"
)

// Reader runs read-only queries against one named connection. Table and
// column names and raw clauses are spliced into SQL as given; only values
// are bound.
type Reader struct {
	registry       *Registry
	connectionName string
	lastError      string
}

func NewReader(registry *Registry, connectionName string) *Reader {
	if connectionName == "" {
		connectionName = DefaultConnectionName
	}
	return &Reader{registry: registry, connectionName: connectionName}
}

func (r *Reader) SetConnectionName(name string) { r.connectionName = name }
func (r *Reader) ConnectionName() string        { return r.connectionName }

// LastError is the message of the most recent failure, or "" when the last
// call succeeded.
func (r *Reader) LastError() string { return r.lastError }

func (r *Reader) conn() (*Conn, error) {
	r.lastError = ""
	conn, err := r.registry.Get(r.connectionName)
	if err != nil {
		return nil, r.fail(err)
	}
	return conn, nil
}

func (r *Reader) fail(err error) error {
	r.lastError = err.Error()
	r.registry.logger.Debugw("read failed", "connection", r.connectionName, "error", err)
	return err
}

func (r *Reader) query(ctx context.Context, query string, args ...any) ([]types.Row, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}

	rows, err := dialect.QueryRows(ctx, conn.DB, conn.DB.Rebind(query), args...)
	if err != nil {
		return nil, r.fail(err)
	}
	return rows, nil
}

func (r *Reader) SelectAll(ctx context.Context, table string) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s", table))
}

func (r *Reader) SelectWhere(ctx context.Context, table, where string) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", table, where))
}

// SelectCustom runs query verbatim.
func (r *Reader) SelectCustom(ctx context.Context, query string) ([]types.Row, error) {
	return r.query(ctx, query)
}

func (r *Reader) SelectOrdered(ctx context.Context, table, orderBy string, ascending bool) ([]types.Row, error) {
	direction := "DESC"
	if ascending {
		direction = "ASC"
	}
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s %s", table, orderBy, direction))
}

func (r *Reader) SelectLimited(ctx context.Context, table string, limit, offset int) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", table, limit, offset))
}

// SelectDistinct selects distinct rows over columns, or over every column
// when columns is empty.
func (r *Reader) SelectDistinct(ctx context.Context, table string, columns []string) ([]types.Row, error) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ", ")
	}
	return r.query(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", cols, table))
}

// SelectGrouped selects the group columns followed by the aggregate
// expressions. GROUP BY is omitted when groupBy is empty.
func (r *Reader) SelectGrouped(ctx context.Context, table string, groupBy, aggregates []string) ([]types.Row, error) {
	var parts []string
	if len(groupBy) > 0 {
		parts = append(parts, strings.Join(groupBy, ", "))
	}
	if len(aggregates) > 0 {
		parts = append(parts, strings.Join(aggregates, ", "))
	}

	selectList := strings.Join(parts, ", ")
	if selectList == "" {
		selectList = "*"
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList, table)
	if len(groupBy) > 0 {
		query += fmt.Sprintf(" GROUP BY %s", strings.Join(groupBy, ", "))
	}
	return r.query(ctx, query)
}

// SelectWithHaving groups by groupBy and adds COUNT(*) AS cnt, so having
// may refer to cnt.
func (r *Reader) SelectWithHaving(ctx context.Context, table, groupBy, having string) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT %s, COUNT(*) AS cnt FROM %s GROUP BY %s HAVING %s",
		groupBy, table, groupBy, having))
}

// SelectWithPagination returns page (1-based) of pageSize rows. Pages below
// 1 read from the start.
func (r *Reader) SelectWithPagination(ctx context.Context, table string, page, pageSize int, orderBy string) ([]types.Row, error) {
	offset := max(0, (page-1)*pageSize)

	query := fmt.Sprintf("SELECT * FROM %s", table)
	if orderBy != "" {
		query += fmt.Sprintf(" ORDER BY %s", orderBy)
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, offset)

	return r.query(ctx, query)
}

// FindByID returns the first row whose idColumn equals id. No match is an
// empty row and a nil error.
func (r *Reader) FindByID(ctx context.Context, table, idColumn string, id any) (types.Row, error) {
	rows, err := r.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", table, idColumn), types.ValueOf(id))
	if err != nil || len(rows) == 0 {
		return types.Row{}, err
	}
	return rows[0], nil
}

func (r *Reader) FindByColumn(ctx context.Context, table, column string, value any) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", table, column), types.ValueOf(value))
}

func (r *Reader) RecordExists(ctx context.Context, table, where string) (bool, error) {
	rows, err := r.query(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", table, where))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// CountRecords returns -1 with the error on any failure. A table with no
// rows counts 0.
func (r *Reader) CountRecords(ctx context.Context, table string) (int64, error) {
	return r.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
}

func (r *Reader) CountRecordsWhere(ctx context.Context, table, where string) (int64, error) {
	return r.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where))
}

func (r *Reader) count(ctx context.Context, query string) (int64, error) {
	rows, err := r.query(ctx, query)
	if err != nil {
		return -1, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := rows[0].At(0).Int64()
	return n, nil
}

// MinValue and the other aggregates return NULL on failure and when the
// table is empty.
func (r *Reader) MinValue(ctx context.Context, table, column string) (types.Value, error) {
	return r.aggregate(ctx, "MIN", "min_value", table, column)
}

func (r *Reader) MaxValue(ctx context.Context, table, column string) (types.Value, error) {
	return r.aggregate(ctx, "MAX", "max_value", table, column)
}

func (r *Reader) SumValue(ctx context.Context, table, column string) (types.Value, error) {
	return r.aggregate(ctx, "SUM", "sum_value", table, column)
}

func (r *Reader) AvgValue(ctx context.Context, table, column string) (types.Value, error) {
	return r.aggregate(ctx, "AVG", "avg_value", table, column)
}

func (r *Reader) aggregate(ctx context.Context, fn, alias, table, column string) (types.Value, error) {
	rows, err := r.query(ctx, fmt.Sprintf("SELECT %s(%s) AS %s FROM %s", fn, column, alias, table))
	if err != nil || len(rows) == 0 {
		return types.Null(), err
	}
	return rows[0].At(0), nil
}

func (r *Reader) TableNames(ctx context.Context) ([]string, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	tables, err := conn.Dialect.ListTables(ctx, conn.DB)
	if err != nil {
		return nil, r.fail(err)
	}
	return tables, nil
}

func (r *Reader) ViewNames(ctx context.Context) ([]string, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	views, err := conn.Dialect.ListViews(ctx, conn.DB)
	if err != nil {
		return nil, r.fail(err)
	}
	return views, nil
}

// TableExists matches the name exactly. SchemaManager.TableExists is the
// case-insensitive variant.
func (r *Reader) TableExists(ctx context.Context, table string) (bool, error) {
	tables, err := r.TableNames(ctx)
	if err != nil {
		return false, err
	}
	return contains(tables, table), nil
}

func (r *Reader) ViewExists(ctx context.Context, view string) (bool, error) {
	views, err := r.ViewNames(ctx)
	if err != nil {
		return false, err
	}
	return contains(views, view), nil
}

func (r *Reader) Columns(ctx context.Context, table string) ([]types.Column, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	columns, err := conn.Dialect.Columns(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}
	return columns, nil
}

func (r *Reader) ColumnNames(ctx context.Context, table string) ([]string, error) {
	columns, err := r.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	return names, nil
}

// TableStructure returns the backend's own structure rows: PRAGMA
// table_info on SQLite, information_schema.columns elsewhere.
func (r *Reader) TableStructure(ctx context.Context, table string) ([]types.Row, error) {
	if table == "" {
		r.lastError = ""
		return nil, nil
	}
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Dialect.TableStructure(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}
	return rows, nil
}

func (r *Reader) PrimaryKeyColumns(ctx context.Context, table string) ([]string, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	keys, err := conn.Dialect.PrimaryKeys(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}
	return keys, nil
}

// ForeignKeyColumns lists local columns that reference another table, each
// once.
func (r *Reader) ForeignKeyColumns(ctx context.Context, table string) ([]string, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	keys, err := conn.Dialect.ForeignKeys(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}

	var columns []string
	for _, fk := range keys {
		if !contains(columns, fk.Column) {
			columns = append(columns, fk.Column)
		}
	}
	return columns, nil
}

func (r *Reader) Indexes(ctx context.Context, table string) ([]types.Index, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	indexes, err := conn.Dialect.Indexes(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}
	return indexes, nil
}

func (r *Reader) IndexNames(ctx context.Context, table string) ([]string, error) {
	indexes, err := r.Indexes(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (r *Reader) column(ctx context.Context, table, column string) (types.Column, bool, error) {
	columns, err := r.Columns(ctx, table)
	if err != nil {
		return types.Column{}, false, err
	}
	for _, c := range columns {
		if strings.EqualFold(c.Name, column) {
			return c, true, nil
		}
	}
	return types.Column{}, false, nil
}

// ColumnType returns the declared type, or "" for an unknown column.
func (r *Reader) ColumnType(ctx context.Context, table, column string) (string, error) {
	c, _, err := r.column(ctx, table, column)
	return c.Type, err
}

func (r *Reader) IsColumnNullable(ctx context.Context, table, column string) (bool, error) {
	c, ok, err := r.column(ctx, table, column)
	return ok && c.Nullable, err
}

func (r *Reader) IsColumnPrimaryKey(ctx context.Context, table, column string) (bool, error) {
	keys, err := r.PrimaryKeyColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return contains(keys, column), nil
}

func (r *Reader) IsColumnAutoIncrement(ctx context.Context, table, column string) (bool, error) {
	conn, err := r.conn()
	if err != nil {
		return false, err
	}
	auto, err := conn.Dialect.IsAutoIncrement(ctx, conn.DB, table, column)
	if err != nil {
		return false, r.fail(err)
	}
	return auto, nil
}

func (r *Reader) ColumnDefaultValue(ctx context.Context, table, column string) (string, error) {
	conn, err := r.conn()
	if err != nil {
		return "", err
	}
	def, err := conn.Dialect.ColumnDefault(ctx, conn.DB, table, column)
	if err != nil {
		return "", r.fail(err)
	}
	return def, nil
}

// TableRowCounts counts every table. A table whose count fails maps to -1
// and the first such failure is returned.
func (r *Reader) TableRowCounts(ctx context.Context) (map[string]int64, error) {
	tables, err := r.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	var firstErr error
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		n, err := r.CountRecords(ctx, t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		counts[t] = n
	}
	return counts, firstErr
}

// TableSizeInfo combines the backend's storage statistics with the table's
// row count under "row_count".
func (r *Reader) TableSizeInfo(ctx context.Context, table string) (map[string]int64, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}

	info, err := conn.Dialect.SizeInfo(ctx, conn.DB)
	if err != nil {
		r.registry.logger.Debugw("size info unavailable", "connection", r.connectionName, "error", err)
		info = make(map[string]int64)
	}

	info["row_count"], err = r.CountRecords(ctx, table)
	return info, err
}

func (r *Reader) TableConstraints(ctx context.Context, table string) ([]types.Row, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Dialect.Constraints(ctx, conn.DB, table)
	if err != nil {
		return nil, r.fail(err)
	}
	return rows, nil
}

// ColumnStatistics returns one row with min_value, max_value, avg_value,
// total_count, null_count and distinct_count.
func (r *Reader) ColumnStatistics(ctx context.Context, table, column string) (types.Row, error) {
	rows, err := r.query(ctx, fmt.Sprintf(
		"SELECT MIN(%[1]s) AS min_value, MAX(%[1]s) AS max_value, AVG(%[1]s) AS avg_value, "+
			"COUNT(*) AS total_count, SUM(CASE WHEN %[1]s IS NULL THEN 1 ELSE 0 END) AS null_count, "+
			"COUNT(DISTINCT %[1]s) AS distinct_count FROM %[2]s", column, table))
	if err != nil || len(rows) == 0 {
		return types.Row{}, err
	}
	return rows[0], nil
}

// DataDistribution returns (value, freq) rows, most frequent first.
func (r *Reader) DataDistribution(ctx context.Context, table, column string) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf(
		"SELECT %[1]s AS value, COUNT(*) AS freq FROM %[2]s GROUP BY %[1]s ORDER BY freq DESC", column, table))
}

// FindDuplicateRecords returns each combination of columns that occurs more
// than once, with its count in cnt.
func (r *Reader) FindDuplicateRecords(ctx context.Context, table string, columns []string) ([]types.Row, error) {
	if len(columns) == 0 {
		r.lastError = ""
		return nil, nil
	}
	cols := strings.Join(columns, ", ")
	return r.query(ctx, fmt.Sprintf(
		"SELECT %[1]s, COUNT(*) AS cnt FROM %[2]s GROUP BY %[1]s HAVING COUNT(*) > 1", cols, table))
}

// SearchInText matches rows whose column contains term anywhere.
func (r *Reader) SearchInText(ctx context.Context, table, column, term string) ([]types.Row, error) {
	return r.SelectByPattern(ctx, table, column, "%"+term+"%")
}

// SelectByPattern binds pattern to LIKE unchanged, so % and _ keep their
// wildcard meaning.
func (r *Reader) SelectByPattern(ctx context.Context, table, column, pattern string) ([]types.Row, error) {
	return r.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE ?", table, column), pattern)
}

// Sample returns up to limit rows; limit <= 0 means 10.
func (r *Reader) Sample(ctx context.Context, table string, limit int) ([]types.Row, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.SelectLimited(ctx, table, limit, 0)
}

// DescribeTable gathers columns, row count, a few sample rows, primary keys
// and indexes. A missing sample is not an error.
func (r *Reader) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	exists, err := r.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, r.fail(fmt.Errorf("table %s %w", table, ErrNotFound))
	}

	columns, err := r.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	rowCount, err := r.CountRecords(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get row count: %w", err)
	}

	sampleData, err := r.Sample(ctx, table, 5)
	if err != nil {
		sampleData = nil
	}

	primaryKeys, err := r.PrimaryKeyColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	indexes, err := r.Indexes(ctx, table)
	if err != nil {
		return nil, err
	}

	r.lastError = ""
	return &types.TableDescription{
		Name:        table,
		Columns:     columns,
		RowCount:    rowCount,
		SampleData:  sampleData,
		PrimaryKeys: primaryKeys,
		Indexes:     indexes,
	}, nil
}

// Scan returns the columns of the named tables, or of every table when
// tables is empty. Names that are not tables are skipped.
func (r *Reader) Scan(ctx context.Context, tables []string) ([]types.Table, error) {
	all, err := r.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	names := all
	if len(tables) > 0 {
		names = names[:0:0]
		for _, t := range all {
			if contains(tables, t) {
				names = append(names, t)
			}
		}
	}

	result := make([]types.Table, 0, len(names))
	for _, name := range names {
		columns, err := r.Columns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load columns for table %s: %w", name, err)
		}
		result = append(result, types.Table{Name: name, Columns: columns})
	}
	return result, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
