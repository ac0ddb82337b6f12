package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DB is an engine session. It is opened once per process and every table operation runs on a
// Connection obtained from it.
type DB interface {
	Catalog() string
	Schema() string
	Close() error
	Conn(ctx context.Context) (Connection, error)
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type duckDB struct {
	log     *slog.Logger
	path    string
	db      *sql.DB
	catalog string
	schema  string
}

type duckDBConn struct {
	conn    *sql.Conn
	db      DB
	writeMu sync.Mutex // serializes statements issued through ExecContext
}

// NewDB opens a local DuckDB database. An empty path opens an in-memory database.
func NewDB(ctx context.Context, path string, log *slog.Logger) (*duckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var catalog, schema string
	row := db.QueryRowContext(ctx, "SELECT current_database() AS catalog, current_schema() AS schema")
	if err := row.Scan(&catalog, &schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get current database and schema: %w", err)
	}

	log.Debug("duck: opened database", "path", path, "catalog", catalog, "schema", schema)

	return &duckDB{
		log:     log,
		path:    path,
		db:      db,
		catalog: catalog,
		schema:  schema,
	}, nil
}

func (d *duckDB) Catalog() string {
	return d.catalog
}

func (d *duckDB) Schema() string {
	return d.schema
}

func (d *duckDB) Close() error {
	return d.db.Close()
}

func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	return openConn(ctx, d.db, d, d.catalog, d.schema)
}

func openConn(ctx context.Context, db *sql.DB, owner DB, catalog, schema string) (*duckDBConn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "USE "+catalog); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to use catalog %s: %w", catalog, err)
	}
	if _, err := conn.ExecContext(ctx, "SET schema = "+schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set schema %s: %w", schema, err)
	}
	return &duckDBConn{
		conn: conn,
		db:   owner,
	}, nil
}

func (c *duckDBConn) DB() DB {
	return c.db
}

func (c *duckDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.ExecContext(ctx, query, args...)
}

func (c *duckDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *duckDBConn) Close() error {
	return c.conn.Close()
}

// IsLake reports whether db is backed by a DuckLake catalog, which supports physical partitioning.
func IsLake(db DB) bool {
	_, ok := db.(*Lake)
	return ok
}

// QualifiedName returns catalog.schema.table for db.
func QualifiedName(db DB, table string) string {
	return fmt.Sprintf("%s.%s.%s", db.Catalog(), db.Schema(), table)
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
