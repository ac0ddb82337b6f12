package duck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLake_Duck_ReadCSV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reads header and varchar rows", func(t *testing.T) {
		t.Parallel()
		_, conn := testDBWithConn(t)

		path := filepath.Join(t.TempDir(), "maps.csv")
		require.NoError(t, os.WriteFile(path, []byte("mapid,name\nm1,Alpine\nm2,\nm3,0042\n"), 0644))

		cols, rows, err := ReadCSV(ctx, conn, path)
		require.NoError(t, err)
		require.Equal(t, []string{"mapid", "name"}, cols)
		require.Equal(t, [][]any{{"m1", "Alpine"}, {"m2", nil}, {"m3", "0042"}}, rows)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, conn := testDBWithConn(t)

		_, _, err := ReadCSV(ctx, conn, filepath.Join(t.TempDir(), "nope.csv"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("path with quote", func(t *testing.T) {
		t.Parallel()
		_, conn := testDBWithConn(t)

		dir := filepath.Join(t.TempDir(), "it's")
		require.NoError(t, os.MkdirAll(dir, 0755))
		path := filepath.Join(dir, "medals.csv")
		require.NoError(t, os.WriteFile(path, []byte("medal_id,name\n1,Killing Frenzy\n"), 0644))

		_, rows, err := ReadCSV(ctx, conn, path)
		require.NoError(t, err)
		require.Equal(t, [][]any{{"1", "Killing Frenzy"}}, rows)
	})
}

func TestLake_Duck_Query(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, conn := testDBWithConn(t)

	cols, rows, err := Query(ctx, conn, "SELECT 'a' AS s, CAST(7 AS INTEGER) AS i, CAST(8 AS BIGINT) AS b, CAST(NULL AS VARCHAR) AS n, COUNT(*) AS c")
	require.NoError(t, err)
	require.Equal(t, []string{"s", "i", "b", "n", "c"}, cols)
	require.Equal(t, [][]any{{"a", int64(7), int64(8), nil, int64(1)}}, rows)

	_, _, err = Query(ctx, conn, "SELECT 1.5::DOUBLE AS d")
	require.ErrorContains(t, err, "unsupported value type float64")

	_, _, err = Query(ctx, &failingDBConn{}, "SELECT 1")
	require.ErrorContains(t, err, "database error")
}
