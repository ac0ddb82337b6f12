package bucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLake_Bucket_Spec(t *testing.T) {
	t.Parallel()

	spec := Spec{Column: "match_id", Count: 16}
	require.NoError(t, spec.Validate())
	require.Equal(t, "bucket(16, match_id)", spec.String())
	require.True(t, spec.Equal(Spec{Column: "match_id", Count: 16}))
	require.False(t, spec.Equal(Spec{Column: "match_id", Count: 8}))
	require.False(t, spec.Equal(Spec{Column: "map_id", Count: 16}))

	require.EqualError(t, Spec{Count: 16}.Validate(), "bucket column is required")
	require.EqualError(t, Spec{Column: "match_id"}.Validate(), "bucket count must be greater than 0 (got 0)")
}

func TestLake_Bucket_Of(t *testing.T) {
	t.Parallel()

	t.Run("deterministic and in range", func(t *testing.T) {
		t.Parallel()
		for i := range 1000 {
			key := fmt.Sprintf("match-%d", i)
			b := Of(key, 16)
			require.GreaterOrEqual(t, b, 0)
			require.Less(t, b, 16)
			require.Equal(t, b, Of(key, 16))
		}
	})

	t.Run("spreads keys across buckets", func(t *testing.T) {
		t.Parallel()
		seen := make(map[int]bool)
		for i := range 1000 {
			seen[Of(fmt.Sprintf("match-%d", i), 16)] = true
		}
		require.Len(t, seen, 16)
	})

	t.Run("single bucket", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, 0, Of("anything", 1))
	})
}

func TestLake_Bucket_OfValue(t *testing.T) {
	t.Parallel()

	b, err := OfValue(nil, 16)
	require.NoError(t, err)
	require.Equal(t, 0, b)

	b, err = OfValue("m1", 16)
	require.NoError(t, err)
	require.Equal(t, Of("m1", 16), b)

	b, err = OfValue(int64(42), 16)
	require.NoError(t, err)
	require.Equal(t, Of("42", 16), b)

	_, err = OfValue(1.5, 16)
	require.EqualError(t, err, "cannot bucket value of type float64")
}
