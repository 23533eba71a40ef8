package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Column describes one column of a Table. Type is the driver's database type name when known.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Table is an in-memory tabular result or tabular request value.
type Table struct {
	Name    string   `json:"name,omitempty"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewTable creates an empty table with the named columns.
func NewTable(name string, columns ...string) *Table {
	t := &Table{Name: name, Columns: make([]Column, len(columns)), Rows: [][]any{}}
	for i, c := range columns {
		t.Columns[i] = Column{Name: c}
	}
	return t
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// AddRow appends a row. Short rows are padded with nil, long rows are truncated.
func (t *Table) AddRow(values ...any) {
	row := make([]any, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Records returns the rows as column-keyed maps, the JSON shape callers receive.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, c := range t.Columns {
			if j < len(row) {
				rec[c.Name] = row[j]
			} else {
				rec[c.Name] = nil
			}
		}
		out[i] = rec
	}
	return out
}

// MarshalJSON renders the table as an array of row objects.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Records())
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := &Table{
		Name:    t.Name,
		Columns: make([]Column, len(t.Columns)),
		Rows:    make([][]any, len(t.Rows)),
	}
	copy(c.Columns, t.Columns)
	for i, row := range t.Rows {
		r := make([]any, len(row))
		for j, v := range row {
			r[j] = cloneValue(v)
		}
		c.Rows[i] = r
	}
	return c
}

// DataSet is an ordered collection of tables produced by a multi-result-set query.
type DataSet struct {
	Tables []*Table `json:"tables"`
}

// MarshalJSON renders the set as an object keyed by table name.
func (d *DataSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]*Table, len(d.Tables))
	for _, t := range d.Tables {
		out[t.Name] = t
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of every table in the set.
func (d *DataSet) Clone() *DataSet {
	if d == nil {
		return nil
	}
	c := &DataSet{Tables: make([]*Table, len(d.Tables))}
	for i, t := range d.Tables {
		c.Tables[i] = t.Clone()
	}
	return c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return b
	case *Table:
		return x.Clone()
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case time.Time, decimal.Decimal, string, bool, int64, float64, nil:
		return x
	}
	return v
}
