package databases

import (
	"context"
	"fmt"
	"strings"

	"github.com/melkeydev/treedb/types"
)

// SchemaManager issues DDL against one named connection. Existence checks
// always go to the backend; nothing is cached.
type SchemaManager struct {
	registry       *Registry
	connectionName string
	lastError      string
}

func NewSchemaManager(registry *Registry, connectionName string) *SchemaManager {
	if connectionName == "" {
		connectionName = DefaultConnectionName
	}
	return &SchemaManager{registry: registry, connectionName: connectionName}
}

func (s *SchemaManager) SetConnectionName(name string) { s.connectionName = name }
func (s *SchemaManager) ConnectionName() string        { return s.connectionName }
func (s *SchemaManager) LastError() string             { return s.lastError }
func (s *SchemaManager) ClearError()                   { s.lastError = "" }

func (s *SchemaManager) fail(err error) error {
	s.lastError = err.Error()
	s.registry.logger.Debugw("schema operation failed", "connection", s.connectionName, "error", err)
	return err
}

func (s *SchemaManager) CreateTable(ctx context.Context, name string, columns []types.ColumnDefinition) error {
	if !ValidName(name) {
		return s.fail(fmt.Errorf("invalid table name %q: %w", name, ErrInvalidName))
	}
	if len(columns) == 0 {
		return s.fail(fmt.Errorf("column list: %w", ErrEmpty))
	}

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return s.fail(err)
	}
	if exists {
		return s.fail(fmt.Errorf("table %s %w", name, ErrExists))
	}

	return s.exec(ctx, BuildCreateTableSQL(name, columns))
}

// BuildCreateTableSQL renders CREATE TABLE. A single primary key column is
// declared inline; several become a trailing PRIMARY KEY (...) clause.
func BuildCreateTableSQL(name string, columns []types.ColumnDefinition) string {
	var primaryKeys []string
	for _, c := range columns {
		if c.PrimaryKey {
			primaryKeys = append(primaryKeys, c.Name)
		}
	}

	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		def := c.Name + " " + c.Type

		if c.PrimaryKey && len(primaryKeys) == 1 {
			def += " PRIMARY KEY"
			// only valid on SQLite's INTEGER rowid alias
			if c.AutoIncrement {
				def += " AUTOINCREMENT"
			}
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Unique {
			def += " UNIQUE"
		}
		if c.DefaultValue != "" {
			def += fmt.Sprintf(" DEFAULT '%s'", c.DefaultValue)
		}

		defs = append(defs, def)
	}

	if len(primaryKeys) > 1 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKeys, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
}

func (s *SchemaManager) DropTable(ctx context.Context, name string) error {
	if err := s.requireTable(ctx, name); err != nil {
		return err
	}
	return s.exec(ctx, fmt.Sprintf("DROP TABLE %s", name))
}

func (s *SchemaManager) RenameTable(ctx context.Context, oldName, newName string) error {
	if !ValidName(newName) {
		return s.fail(fmt.Errorf("invalid table name %q: %w", newName, ErrInvalidName))
	}
	if err := s.requireTable(ctx, oldName); err != nil {
		return err
	}

	exists, err := s.TableExists(ctx, newName)
	if err != nil {
		return s.fail(err)
	}
	if exists {
		return s.fail(fmt.Errorf("table %s %w", newName, ErrExists))
	}

	return s.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", oldName, newName))
}

// AddColumn appends a column. Backends that refuse NOT NULL without a
// DEFAULT report that through the returned error.
func (s *SchemaManager) AddColumn(ctx context.Context, table string, column types.ColumnDefinition) error {
	if !ValidName(column.Name) {
		return s.fail(fmt.Errorf("invalid column name %q: %w", column.Name, ErrInvalidName))
	}
	existing, err := s.existingColumns(ctx, table)
	if err != nil {
		return err
	}
	if containsFold(existing, column.Name) {
		return s.fail(fmt.Errorf("column %s in table %s %w", column.Name, table, ErrExists))
	}

	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column.Name, column.Type)
	switch {
	case column.NotNull && column.DefaultValue != "":
		query += fmt.Sprintf(" NOT NULL DEFAULT '%s'", column.DefaultValue)
	case column.NotNull:
		query += " NOT NULL"
	case column.DefaultValue != "":
		query += fmt.Sprintf(" DEFAULT '%s'", column.DefaultValue)
	}
	if column.Unique {
		query += " UNIQUE"
	}

	return s.exec(ctx, query)
}

func (s *SchemaManager) DropColumn(ctx context.Context, table, column string) error {
	if !ValidName(column) {
		return s.fail(fmt.Errorf("invalid column name %q: %w", column, ErrInvalidName))
	}
	existing, err := s.existingColumns(ctx, table)
	if err != nil {
		return err
	}
	if !containsFold(existing, column) {
		return s.fail(fmt.Errorf("column %s in table %s %w", column, table, ErrNotFound))
	}

	return s.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column))
}

func (s *SchemaManager) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	if !ValidName(oldName) || !ValidName(newName) {
		return s.fail(fmt.Errorf("invalid column name: %w", ErrInvalidName))
	}
	existing, err := s.existingColumns(ctx, table)
	if err != nil {
		return err
	}
	if !containsFold(existing, oldName) {
		return s.fail(fmt.Errorf("column %s in table %s %w", oldName, table, ErrNotFound))
	}
	if containsFold(existing, newName) {
		return s.fail(fmt.Errorf("column %s in table %s %w", newName, table, ErrExists))
	}

	return s.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, oldName, newName))
}

// TableExists matches name case-insensitively against the live table list.
// Invalid names never exist.
func (s *SchemaManager) TableExists(ctx context.Context, name string) (bool, error) {
	if !ValidName(name) {
		return false, nil
	}

	tables, err := s.TableNames(ctx)
	if err != nil {
		return false, err
	}
	return containsFold(tables, name), nil
}

func (s *SchemaManager) TableNames(ctx context.Context) ([]string, error) {
	conn, err := s.registry.Get(s.connectionName)
	if err != nil {
		return nil, s.fail(err)
	}

	tables, err := conn.Dialect.ListTables(ctx, conn.DB)
	if err != nil {
		return nil, s.fail(err)
	}
	return tables, nil
}

func (s *SchemaManager) ColumnNames(ctx context.Context, table string) ([]string, error) {
	columns, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	return names, nil
}

// TableStructure reports name, type, nullability and default per column.
// PrimaryKey and AutoIncrement are left unset; the reader answers those.
func (s *SchemaManager) TableStructure(ctx context.Context, table string) ([]types.ColumnDefinition, error) {
	columns, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}

	structure := make([]types.ColumnDefinition, 0, len(columns))
	for _, c := range columns {
		structure = append(structure, types.ColumnDefinition{
			Name:         c.Name,
			Type:         c.Type,
			NotNull:      !c.Nullable,
			DefaultValue: c.Default,
		})
	}
	return structure, nil
}

func (s *SchemaManager) CreateIndex(ctx context.Context, indexName, table string, columns []string) error {
	if indexName == "" {
		return s.fail(fmt.Errorf("index name: %w", ErrEmpty))
	}
	if err := s.requireTable(ctx, table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return s.fail(fmt.Errorf("index column list: %w", ErrEmpty))
	}

	return s.exec(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", indexName, table, strings.Join(columns, ", ")))
}

func (s *SchemaManager) DropIndex(ctx context.Context, indexName string) error {
	if indexName == "" {
		return s.fail(fmt.Errorf("index name: %w", ErrEmpty))
	}
	return s.exec(ctx, fmt.Sprintf("DROP INDEX %s", indexName))
}

func (s *SchemaManager) columns(ctx context.Context, table string) ([]types.Column, error) {
	if !ValidName(table) {
		return nil, s.fail(fmt.Errorf("invalid table name %q: %w", table, ErrInvalidName))
	}

	conn, err := s.registry.Get(s.connectionName)
	if err != nil {
		return nil, s.fail(err)
	}

	columns, err := conn.Dialect.Columns(ctx, conn.DB, table)
	if err != nil {
		return nil, s.fail(err)
	}
	return columns, nil
}

func (s *SchemaManager) existingColumns(ctx context.Context, table string) ([]string, error) {
	if err := s.requireTable(ctx, table); err != nil {
		return nil, err
	}
	return s.ColumnNames(ctx, table)
}

func (s *SchemaManager) requireTable(ctx context.Context, name string) error {
	if !ValidName(name) {
		return s.fail(fmt.Errorf("invalid table name %q: %w", name, ErrInvalidName))
	}

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return s.fail(err)
	}
	if !exists {
		return s.fail(fmt.Errorf("table %s %w", name, ErrNotFound))
	}
	return nil
}

func (s *SchemaManager) exec(ctx context.Context, query string) error {
	conn, err := s.registry.Get(s.connectionName)
	if err != nil {
		return s.fail(err)
	}

	if _, err := conn.DB.ExecContext(ctx, query); err != nil {
		return s.fail(err)
	}
	s.lastError = ""
	return nil
}
