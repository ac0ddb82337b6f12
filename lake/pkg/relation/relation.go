// Package relation implements immutable in-memory relations: the rows read from input files
// and query results, plus the projection, sort and partition stages applied before they are
// written to the engine. Every stage returns a new relation and leaves its inputs untouched.
package relation

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownColumn  = errors.New("unknown column")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrArity          = errors.New("row arity mismatch")
)

type Type int

const (
	String Type = iota
	Int
)

func (t Type) String() string {
	switch t {
	case String:
		return "VARCHAR"
	case Int:
		return "INTEGER"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType maps an engine column type to a relation type.
func ParseType(s string) (Type, error) {
	switch s {
	case "VARCHAR", "STRING", "TEXT":
		return String, nil
	case "INTEGER", "INT", "BIGINT":
		return Int, nil
	default:
		return 0, fmt.Errorf("unsupported column type %q", s)
	}
}

type Column struct {
	Name string
	Type Type
}

// Value is nil (NULL), string or int64.
type Value = any

type Schema struct {
	columns []Column
	index   map[string]int
}

func NewSchema(columns ...Column) (Schema, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return Schema{}, fmt.Errorf("column %d has no name", i)
		}
		if _, ok := index[c.Name]; ok {
			return Schema{}, fmt.Errorf("duplicate column %q", c.Name)
		}
		index[c.Name] = i
	}
	return Schema{columns: append([]Column(nil), columns...), index: index}, nil
}

func (s Schema) Len() int {
	return len(s.columns)
}

func (s Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

func (s Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column.
func (s Schema) Index(name string) (int, error) {
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return i, nil
}

func (s Schema) String() string {
	out := "("
	for i, c := range s.columns {
		if i > 0 {
			out += ", "
		}
		out += c.Name + " " + c.Type.String()
	}
	return out + ")"
}

type Relation struct {
	schema Schema
	rows   [][]Value
}

// New builds a relation, checking that every row has one value per column and that each
// value matches its column type.
func New(columns []Column, rows [][]Value) (*Relation, error) {
	schema, err := NewSchema(columns...)
	if err != nil {
		return nil, err
	}
	out := make([][]Value, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, schema has %d columns", ErrArity, i, len(row), len(columns))
		}
		for j, v := range row {
			if err := checkValue(columns[j], v); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
		out[i] = append([]Value(nil), row...)
	}
	return &Relation{schema: schema, rows: out}, nil
}

// FromStrings builds a relation whose columns are all String.
func FromStrings(names []string, rows [][]Value) (*Relation, error) {
	columns := make([]Column, len(names))
	for i, n := range names {
		columns[i] = Column{Name: n, Type: String}
	}
	return New(columns, rows)
}

func checkValue(c Column, v Value) error {
	switch v.(type) {
	case nil:
		return nil
	case string:
		if c.Type == String {
			return nil
		}
	case int64:
		if c.Type == Int {
			return nil
		}
	}
	return fmt.Errorf("column %s: value of type %T does not fit %s", c.Name, v, c.Type)
}

func (r *Relation) Schema() Schema {
	return r.schema
}

func (r *Relation) Len() int {
	return len(r.rows)
}

func (r *Relation) Row(i int) []Value {
	return append([]Value(nil), r.rows[i]...)
}

func (r *Relation) Rows() [][]Value {
	out := make([][]Value, len(r.rows))
	for i := range r.rows {
		out[i] = r.Row(i)
	}
	return out
}

// Column returns the values of the named column in row order.
func (r *Relation) Column(name string) ([]Value, error) {
	idx, err := r.schema.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(r.rows))
	for i, row := range r.rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Format renders a value the way report output prints it.
func Format(v Value) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
