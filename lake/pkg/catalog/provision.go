package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
	"github.com/malbeclabs/matchlake/lake/pkg/duck"
)

// LayoutsTable records the declared bucket layout of every provisioned table.
const LayoutsTable = "_bucket_layouts"

var (
	ErrLayoutNotFound = errors.New("bucket layout not found")
	ErrLayoutMismatch = errors.New("bucket layout mismatch")
)

// Provision drops and recreates the table declared by cfg with an extra bucket_id partition
// column, and records its layout. On DuckLake the table is physically partitioned by
// bucket_id. The table and its layout record change in one transaction, so a failed
// provision leaves both as they were. Provisioning twice yields the same empty table and the
// same recorded layout.
func Provision(ctx context.Context, log *slog.Logger, conn duck.Connection, cfg TableConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	defs, err := cfg.ColumnDefs()
	if err != nil {
		return err
	}
	db := conn.DB()
	table := duck.QualifiedName(db, cfg.Name)
	layouts := duck.QualifiedName(db, LayoutsTable)

	if err := ensureLayoutsTable(ctx, conn); err != nil {
		return err
	}

	colDefs := make([]string, 0, len(defs)+1)
	for _, d := range defs {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", d.Name, d.Type))
	}
	colDefs = append(colDefs, bucket.Column+" INTEGER NOT NULL")
	createSQL := fmt.Sprintf(`CREATE TABLE %s (
		%s
	)`, table, strings.Join(colDefs, ",\n\t\t"))

	err = duck.RetryOnConflict(ctx, log, "provision table "+cfg.Name, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", cfg.Name, err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("catalog: failed to rollback transaction", "table", cfg.Name, "error", err)
			}
		}()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+layouts+" WHERE table_name = ?", cfg.Name); err != nil {
			return fmt.Errorf("failed to clear layout of %s: %w", cfg.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", cfg.Name, err)
		}
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", cfg.Name, err)
		}
		if duck.IsLake(db) {
			partitionSQL := fmt.Sprintf("ALTER TABLE %s SET PARTITIONED BY (%s)", table, bucket.Column)
			if _, err := tx.ExecContext(ctx, partitionSQL); err != nil {
				return fmt.Errorf("failed to partition table %s: %w", cfg.Name, err)
			}
		}
		insertSQL := "INSERT INTO " + layouts + " (table_name, bucket_column, bucket_count, sort_columns) VALUES (?, ?, ?, ?)"
		if _, err := tx.ExecContext(ctx, insertSQL, cfg.Name, cfg.Bucket.Column, cfg.Bucket.Count, strings.Join(cfg.SortColumns, ",")); err != nil {
			return fmt.Errorf("failed to record layout of %s: %w", cfg.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit provisioning of %s: %w", cfg.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("catalog: provisioned table", "table", cfg.Name, "bucket", cfg.Bucket.String(), "sort_columns", strings.Join(cfg.SortColumns, ","), "partitioned", duck.IsLake(db))
	return nil
}

func ensureLayoutsTable(ctx context.Context, conn duck.Connection) error {
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name VARCHAR NOT NULL,
		bucket_column VARCHAR NOT NULL,
		bucket_count INTEGER NOT NULL,
		sort_columns VARCHAR NOT NULL
	)`, duck.QualifiedName(conn.DB(), LayoutsTable))
	if _, err := conn.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", LayoutsTable, err)
	}
	return nil
}
