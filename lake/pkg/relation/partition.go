package relation

import (
	"fmt"

	"github.com/malbeclabs/matchlake/lake/pkg/bucket"
)

// Partition splits r into spec.Count relations by the bucket of spec.Column. Row order is
// kept within each bucket.
func Partition(r *Relation, spec bucket.Spec) ([]*Relation, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	idx, err := r.schema.Index(spec.Column)
	if err != nil {
		return nil, err
	}
	parts := make([][][]Value, spec.Count)
	for n, row := range r.rows {
		b, err := bucket.OfValue(row[idx], spec.Count)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		parts[b] = append(parts[b], row)
	}
	out := make([]*Relation, spec.Count)
	for b := range parts {
		out[b] = &Relation{schema: r.schema, rows: parts[b]}
	}
	return out, nil
}
