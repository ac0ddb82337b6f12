package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// TableConfig declares a bucketed table.
type TableConfig struct {
	// Name is the table name within the session's catalog and schema.
	Name string
	// Columns lists the declared columns in order as name:type pairs, e.g. "match_id:VARCHAR".
	// The physical bucket column is added by Provision and must not be declared.
	Columns []string
	// Bucket is the bucketing strategy; Bucket.Column must be a declared column.
	Bucket bucket.Spec
	// SortColumns order rows within each bucket.
	SortColumns []string
}

type ColumnDef struct {
	Name string
	Type string
}

func (c TableConfig) Validate() error {
	if c.Name == "" {
		return errors.New("table name is required")
	}
	if err := c.Bucket.Validate(); err != nil {
		return fmt.Errorf("table %s: %w", c.Name, err)
	}
	defs, err := c.ColumnDefs()
	if err != nil {
		return fmt.Errorf("table %s: %w", c.Name, err)
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		if d.Name == bucket.Column {
			return fmt.Errorf("table %s: column %s is reserved", c.Name, bucket.Column)
		}
		if slices.Contains(names[:i], d.Name) {
			return fmt.Errorf("table %s: duplicate column %s", c.Name, d.Name)
		}
		if _, err := relation.ParseType(d.Type); err != nil {
			return fmt.Errorf("table %s: column %s: %w", c.Name, d.Name, err)
		}
		names[i] = d.Name
	}
	if !slices.Contains(names, c.Bucket.Column) {
		return fmt.Errorf("table %s: bucket column %s is not declared", c.Name, c.Bucket.Column)
	}
	for _, s := range c.SortColumns {
		if !slices.Contains(names, s) {
			return fmt.Errorf("table %s: sort column %s is not declared", c.Name, s)
		}
	}
	return nil
}

// ColumnDefs parses Columns.
func (c TableConfig) ColumnDefs() ([]ColumnDef, error) {
	if len(c.Columns) == 0 {
		return nil, errors.New("columns cannot be empty")
	}
	defs := make([]ColumnDef, 0, len(c.Columns))
	for _, col := range c.Columns {
		parts := strings.SplitN(col, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", col)
		}
		defs = append(defs, ColumnDef{
			Name: strings.TrimSpace(parts[0]),
			Type: strings.ToUpper(strings.TrimSpace(parts[1])),
		})
	}
	return defs, nil
}

func (c TableConfig) ColumnNames() []string {
	defs, err := c.ColumnDefs()
	if err != nil {
		return nil
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// RelationColumns returns the declared columns as relation columns.
func (c TableConfig) RelationColumns() ([]relation.Column, error) {
	defs, err := c.ColumnDefs()
	if err != nil {
		return nil, err
	}
	out := make([]relation.Column, len(defs))
	for i, d := range defs {
		t, err := relation.ParseType(d.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", d.Name, err)
		}
		out[i] = relation.Column{Name: d.Name, Type: t}
	}
	return out, nil
}

// Layout is the bucketing recorded for a provisioned table.
type Layout struct {
	Table       string
	Bucket      bucket.Spec
	SortColumns []string
}

func (l Layout) Matches(cfg TableConfig) bool {
	return l.Table == cfg.Name && l.Bucket.Equal(cfg.Bucket) && slices.Equal(l.SortColumns, cfg.SortColumns)
}

func (l Layout) String() string {
	return fmt.Sprintf("%s %s sorted by (%s)", l.Table, l.Bucket, strings.Join(l.SortColumns, ", "))
}
