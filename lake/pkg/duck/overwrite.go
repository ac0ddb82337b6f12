package duck

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// NullMarker is written into staging CSV files for NULL values so empty strings survive a load.
const NullMarker = `\N`

// OverwriteTableViaCSV replaces every row of tableName with the count rows produced by
// writeCSVFn. Columns name the target columns in the order writeCSVFn writes them.
//
// Rows are staged in a temp CSV file, loaded into a VARCHAR staging table and inserted in
// file order inside a single transaction that first deletes the existing rows, so a failed
// load leaves the previous contents in place.
func OverwriteTableViaCSV(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	tableName string,
	columns []string,
	count int,
	writeCSVFn func(*csv.Writer, int) error,
) error {
	start := time.Now()
	defer func() {
		log.Debug("duck: overwrite completed", "table", tableName, "rows", count, "duration", time.Since(start).String())
	}()

	if len(columns) == 0 {
		return fmt.Errorf("columns cannot be empty")
	}

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("%s_*.csv", tableName))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	w := csv.NewWriter(tmpFile)
	progressLogInterval := 5 * time.Second
	lastProgressLog := time.Now()
	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while writing CSV for %s: %w", tableName, ctx.Err())
		default:
		}
		if err := writeCSVFn(w, i); err != nil {
			return fmt.Errorf("failed to write CSV record %d for %s: %w", i, tableName, err)
		}
		if count > 1000 && time.Since(lastProgressLog) >= progressLogInterval {
			log.Debug("duck: write progress", "table", tableName, "written", i+1, "total", count)
			lastProgressLog = time.Now()
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmpFile.Close()

	target := QualifiedName(conn.DB(), tableName)
	colList := strings.Join(columns, ", ")

	return RetryOnConflict(ctx, log, "overwrite table "+tableName, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", tableName, err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("duck: failed to rollback transaction", "table", tableName, "error", err)
			}
		}()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+target); err != nil {
			return fmt.Errorf("failed to clear %s: %w", tableName, err)
		}

		if count > 0 {
			stage, err := stageTableName(tableName)
			if err != nil {
				return err
			}
			defs := make([]string, len(columns))
			for i, c := range columns {
				defs[i] = c + " VARCHAR"
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (%s)", stage, strings.Join(defs, ", "))); err != nil {
				return fmt.Errorf("failed to create stage table for %s: %w", tableName, err)
			}
			copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false, NULL '%s')", stage, escapeLiteral(tmpFile.Name()), NullMarker)
			if _, err := tx.ExecContext(ctx, copySQL); err != nil {
				return fmt.Errorf("failed to COPY FROM CSV for %s: %w", tableName, err)
			}
			insertSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", target, colList, colList, stage)
			if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", tableName, err)
			}
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+stage); err != nil {
				log.Error("duck: failed to drop stage table", "table", tableName, "stage", stage, "error", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction for %s: %w", tableName, err)
		}
		return nil
	})
}

func stageTableName(tableName string) (string, error) {
	suffix := make([]byte, 7)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate unique suffix: %w", err)
	}
	return fmt.Sprintf("%s_stage_%s", tableName, hex.EncodeToString(suffix)), nil
}
