package duck

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// testDBWithConn opens a file-backed DuckDB under t.TempDir and a connection on it.
func testDBWithConn(t *testing.T) (DB, Connection) {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, t.TempDir()+"/test.db", testLogger())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		t.Fatalf("failed to open test connection: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		db.Close()
	})
	return db, conn
}

// failingDBConn is a connection whose every operation fails.
type failingDBConn struct{}

func (f *failingDBConn) DB() DB {
	return &failingDB{}
}

func (f *failingDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("database error")
}

func (f *failingDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("database error")
}

func (f *failingDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (f *failingDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("failed to begin transaction")
}

func (f *failingDBConn) Close() error {
	return nil
}

type failingDB struct{}

func (f *failingDB) Catalog() string {
	return "test"
}

func (f *failingDB) Schema() string {
	return "main"
}

func (f *failingDB) Close() error {
	return nil
}

func (f *failingDB) Conn(ctx context.Context) (Connection, error) {
	return &failingDBConn{}, nil
}
