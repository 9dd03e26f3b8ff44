package types

import (
	"encoding/json"
	"strings"
)

// Column describes a live column as reported by the backend.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
	Primary  bool   `json:"primary,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

type TableDescription struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	RowCount    int64    `json:"row_count"`
	SampleData  []Row    `json:"sample_data,omitempty"`
	Indexes     []Index  `json:"indexes,omitempty"`
	PrimaryKeys []string `json:"primary_keys,omitempty"`
}

// ColumnDefinition is the input to DDL builders. It is not a cache of the
// live schema.
type ColumnDefinition struct {
	Name          string
	Type          string
	PrimaryKey    bool
	AutoIncrement bool
	NotNull       bool
	Unique        bool
	DefaultValue  string
}

// NewColumn returns a definition with NotNull set, which is the default for
// new columns.
func NewColumn(name, typ string) ColumnDefinition {
	return ColumnDefinition{Name: name, Type: typ, NotNull: true}
}

// Values maps column names to the values bound in INSERT/UPDATE statements.
// Map values may be plain Go scalars or Value.
type Values map[string]any

// Row is one result row: column names in select order and their values.
type Row struct {
	columns []string
	values  []Value
}

func NewRow(columns []string, values []Value) Row {
	return Row{columns: columns, values: values}
}

func (r Row) Len() int          { return len(r.values) }
func (r Row) IsEmpty() bool     { return len(r.values) == 0 }
func (r Row) Columns() []string { return r.columns }

// At returns the value at position i, or NULL when out of range.
func (r Row) At(i int) Value {
	if i < 0 || i >= len(r.values) {
		return Null()
	}
	return r.values[i]
}

// Value returns the value of the named column, or NULL when the row has no
// such column. Names match case-insensitively when no exact match exists.
func (r Row) Value(name string) Value {
	v, _ := r.Lookup(name)
	return v
}

func (r Row) Lookup(name string) (Value, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	for i, c := range r.columns {
		if strings.EqualFold(c, name) {
			return r.values[i], true
		}
	}
	return Null(), false
}

func (r Row) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Values copies the row into an unordered map suitable for re-insertion.
func (r Row) Values() Values {
	out := make(Values, len(r.columns))
	for i, c := range r.columns {
		out[c] = r.values[i]
	}
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]Value, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return json.Marshal(m)
}
