package duck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// ReadCSV reads a header-bearing CSV file with every column typed as VARCHAR. Empty fields
// are returned as nil.
func ReadCSV(ctx context.Context, conn Connection, path string) ([]string, [][]any, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	query := fmt.Sprintf("SELECT * FROM read_csv('%s', header = true, all_varchar = true)", escapeLiteral(path))
	return Query(ctx, conn, query)
}

// Query runs query and materializes the result. Values are normalized to nil, string or int64.
func Query(ctx context.Context, conn Connection, query string, args ...any) ([]string, [][]any, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		dest := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range dest {
			n, err := normalizeValue(v)
			if err != nil {
				return nil, nil, fmt.Errorf("column %s: %w", columns[i], err)
			}
			dest[i] = n
		}
		out = append(out, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return columns, out, nil
}

func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
