package relation

import (
	"cmp"
	"slices"
)

type SortKey struct {
	column string
	desc   bool
}

func Asc(column string) SortKey {
	return SortKey{column: column}
}

func Desc(column string) SortKey {
	return SortKey{column: column, desc: true}
}

// Sort orders r by keys. The sort is stable. NULLs come first ascending and last descending.
func Sort(r *Relation, keys ...SortKey) (*Relation, error) {
	idx := make([]int, len(keys))
	for k, key := range keys {
		i, err := r.schema.Index(key.column)
		if err != nil {
			return nil, err
		}
		idx[k] = i
	}

	rows := slices.Clone(r.rows)
	slices.SortStableFunc(rows, func(a, b []Value) int {
		for k, key := range keys {
			c := compareValues(a[idx[k]], b[idx[k]])
			if c == 0 {
				continue
			}
			if key.desc {
				return -c
			}
			return c
		}
		return 0
	})
	return &Relation{schema: r.schema, rows: rows}, nil
}

func compareValues(a, b Value) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	}
	return 0
}
