package matches

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/catalog"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
	"github.com/malbeclabs/matchlake/lake/pkg/relation"
)

// ErrLayoutMismatch is returned when a write or join would use a bucket layout other than the
// one the table was provisioned with.
var ErrLayoutMismatch = catalog.ErrLayoutMismatch

type StoreConfig struct {
	Logger *slog.Logger
	DB     duck.DB
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// Store writes and reads bucketed tables.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// WriteBucketed replaces the contents of the table declared by cfg with rel. rel is projected
// onto the declared columns, split into cfg.Bucket.Count buckets on the bucket column and
// sorted by cfg.SortColumns within each bucket; buckets are written in order 0..N-1 in one
// transaction. The write is refused if the recorded layout differs from cfg.
func (s *Store) WriteBucketed(ctx context.Context, cfg catalog.TableConfig, rel *relation.Relation) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	layout, err := catalog.DescribeLayout(ctx, conn, cfg.Name)
	if err != nil {
		return 0, err
	}
	if !layout.Matches(cfg) {
		return 0, fmt.Errorf("%w: %s provisioned as %s, write uses %s", ErrLayoutMismatch, cfg.Name, layout.Bucket, cfg.Bucket)
	}

	projected, err := projectDeclared(cfg, rel)
	if err != nil {
		return 0, fmt.Errorf("table %s: %w", cfg.Name, err)
	}
	parts, err := relation.Partition(projected, cfg.Bucket)
	if err != nil {
		return 0, fmt.Errorf("table %s: %w", cfg.Name, err)
	}
	keys := make([]relation.SortKey, len(cfg.SortColumns))
	for i, c := range cfg.SortColumns {
		keys[i] = relation.Asc(c)
	}

	type bucketRow struct {
		values []relation.Value
		bucket int
	}
	rows := make([]bucketRow, 0, projected.Len())
	for b, part := range parts {
		sorted, err := relation.Sort(part, keys...)
		if err != nil {
			return 0, fmt.Errorf("table %s: %w", cfg.Name, err)
		}
		for _, row := range sorted.Rows() {
			rows = append(rows, bucketRow{values: row, bucket: b})
		}
		s.log.Debug("matches/store: bucket prepared", "table", cfg.Name, "bucket", b, "rows", sorted.Len())
	}

	columns := append(cfg.ColumnNames(), bucket.Column)
	record := make([]string, len(columns))
	err = duck.OverwriteTableViaCSV(ctx, s.log, conn, cfg.Name, columns, len(rows), func(w *csv.Writer, i int) error {
		for j, v := range rows[i].values {
			record[j] = csvValue(v)
		}
		record[len(record)-1] = strconv.Itoa(rows[i].bucket)
		return w.Write(record)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", cfg.Name, err)
	}

	s.log.Info("matches/store: wrote table", "table", cfg.Name, "rows", len(rows), "bucket", cfg.Bucket.String())
	return len(rows), nil
}

// WriteDimension replaces the broadcast table d with the d.Columns of rel. Dimension tables
// are not bucketed and every column is VARCHAR.
func (s *Store) WriteDimension(ctx context.Context, d Dimension, rel *relation.Relation) (int, error) {
	items := make([]relation.Item, len(d.Columns))
	defs := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		items[i] = relation.Col(c).Cast(relation.String)
		defs[i] = c + " VARCHAR"
	}
	projected, err := relation.Project(rel, items...)
	if err != nil {
		return 0, fmt.Errorf("table %s: %w", d.Table, err)
	}

	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	table := duck.QualifiedName(conn.DB(), d.Table)
	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", d.Table, err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", d.Table, err)
	}

	rows := projected.Rows()
	record := make([]string, len(d.Columns))
	err = duck.OverwriteTableViaCSV(ctx, s.log, conn, d.Table, d.Columns, len(rows), func(w *csv.Writer, i int) error {
		for j, v := range rows[i] {
			record[j] = csvValue(v)
		}
		return w.Write(record)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", d.Table, err)
	}

	s.log.Debug("matches/store: wrote dimension", "table", d.Table, "rows", len(rows))
	return len(rows), nil
}

// ReadBucket returns the rows of bucket b of the table declared by cfg, ordered by its sort columns.
func (s *Store) ReadBucket(ctx context.Context, cfg catalog.TableConfig, b int) (*relation.Relation, error) {
	if b < 0 || b >= cfg.Bucket.Count {
		return nil, fmt.Errorf("bucket %d out of range for %s", b, cfg.Bucket)
	}
	return s.read(ctx, cfg, fmt.Sprintf(" WHERE %s = ?", bucket.Column), b)
}

// ReadTable returns every row of the table declared by cfg in bucket order.
func (s *Store) ReadTable(ctx context.Context, cfg catalog.TableConfig) (*relation.Relation, error) {
	return s.read(ctx, cfg, "")
}

func (s *Store) read(ctx context.Context, cfg catalog.TableConfig, where string, args ...any) (*relation.Relation, error) {
	columns, err := cfg.RelationColumns()
	if err != nil {
		return nil, err
	}

	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	order := make([]string, 0, len(cfg.SortColumns)+1)
	order = append(order, bucket.Column)
	for _, c := range cfg.SortColumns {
		order = append(order, c+" ASC NULLS FIRST")
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(cfg.ColumnNames(), ", "), duck.QualifiedName(conn.DB(), cfg.Name), where, strings.Join(order, ", "))

	_, rows, err := duck.Query(ctx, conn, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.Name, err)
	}
	rel, err := relation.New(columns, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.Name, err)
	}
	return rel, nil
}

func projectDeclared(cfg catalog.TableConfig, rel *relation.Relation) (*relation.Relation, error) {
	declared, err := cfg.RelationColumns()
	if err != nil {
		return nil, err
	}
	items := make([]relation.Item, len(declared))
	for i, c := range declared {
		items[i] = relation.Col(c.Name)
	}
	projected, err := relation.Project(rel, items...)
	if err != nil {
		return nil, err
	}
	for i, c := range projected.Schema().Columns() {
		if c.Type != declared[i].Type {
			return nil, fmt.Errorf("%w: column %s is %s, table declares %s", relation.ErrSchemaMismatch, c.Name, c.Type, declared[i].Type)
		}
	}
	return projected, nil
}

func csvValue(v relation.Value) string {
	switch t := v.(type) {
	case nil:
		return duck.NullMarker
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return relation.Format(t)
	}
}
