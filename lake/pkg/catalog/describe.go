package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
)

// DescribeLayout returns the layout recorded for table, or ErrLayoutNotFound.
func DescribeLayout(ctx context.Context, conn duck.Connection, table string) (*Layout, error) {
	layouts, err := Layouts(ctx, conn)
	if err != nil {
		return nil, err
	}
	for _, l := range layouts {
		if l.Table == table {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLayoutNotFound, table)
}

// Layouts returns every recorded layout ordered by table name.
func Layouts(ctx context.Context, conn duck.Connection) ([]Layout, error) {
	exists, err := tableExists(ctx, conn, LayoutsTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT table_name, bucket_column, bucket_count, sort_columns FROM %s ORDER BY table_name",
		duck.QualifiedName(conn.DB(), LayoutsTable))
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", LayoutsTable, err)
	}
	defer rows.Close()

	var out []Layout
	for rows.Next() {
		var l Layout
		var sortColumns string
		if err := rows.Scan(&l.Table, &l.Bucket.Column, &l.Bucket.Count, &sortColumns); err != nil {
			return nil, fmt.Errorf("failed to scan layout: %w", err)
		}
		if sortColumns != "" {
			l.SortColumns = strings.Split(sortColumns, ",")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layouts: %w", err)
	}
	return out, nil
}

// DescribeColumns returns the declared columns of table in order, without the bucket column.
func DescribeColumns(ctx context.Context, conn duck.Connection, table string) ([]ColumnDef, error) {
	db := conn.DB()
	rows, err := conn.QueryContext(ctx, `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_catalog = ? AND table_schema = ? AND table_name = ? AND column_name <> ?
		ORDER BY ordinal_position`, db.Catalog(), db.Schema(), table, bucket.Column)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	defer rows.Close()

	var out []ColumnDef
	for rows.Next() {
		var d ColumnDef
		if err := rows.Scan(&d.Name, &d.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return out, nil
}

// VerifyLayout checks that table cfg.Name carries the recorded layout and columns cfg declares
// and that every stored row sits in the bucket of its key.
func VerifyLayout(ctx context.Context, conn duck.Connection, cfg TableConfig) error {
	layout, err := DescribeLayout(ctx, conn, cfg.Name)
	if err != nil {
		return err
	}
	if !layout.Matches(cfg) {
		return fmt.Errorf("%w: %s recorded as %s, declared %s sorted by (%s)",
			ErrLayoutMismatch, cfg.Name, layout, cfg.Bucket, strings.Join(cfg.SortColumns, ", "))
	}

	want, err := cfg.ColumnDefs()
	if err != nil {
		return err
	}
	got, err := DescribeColumns(ctx, conn, cfg.Name)
	if err != nil {
		return err
	}
	if !slices.Equal(want, got) {
		return fmt.Errorf("%w: %s has columns %v, declared %v", ErrLayoutMismatch, cfg.Name, got, want)
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s", cfg.Bucket.Column, bucket.Column, duck.QualifiedName(conn.DB(), cfg.Name))
	_, rows, err := duck.Query(ctx, conn, query)
	if err != nil {
		return fmt.Errorf("failed to read buckets of %s: %w", cfg.Name, err)
	}
	for _, row := range rows {
		want, err := bucket.OfValue(row[0], cfg.Bucket.Count)
		if err != nil {
			return err
		}
		if got, _ := row[1].(int64); int(got) != want {
			return fmt.Errorf("%w: %s row with %s=%v stored in bucket %d, expected %d",
				ErrLayoutMismatch, cfg.Name, cfg.Bucket.Column, row[0], got, want)
		}
	}
	return nil
}

func tableExists(ctx context.Context, conn duck.Connection, table string) (bool, error) {
	db := conn.DB()
	var n int
	err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_catalog = ? AND table_schema = ? AND table_name = ?`, db.Catalog(), db.Schema(), table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}
