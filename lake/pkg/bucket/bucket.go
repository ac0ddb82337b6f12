// Package bucket assigns rows to hash buckets so that tables bucketed on the same key and
// bucket count can be joined bucket-by-bucket.
package bucket

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Column is the physical partition column every bucketed table carries.
const Column = "bucket_id"

// Spec declares how a table is bucketed: Count buckets over the hash of Column.
type Spec struct {
	Column string
	Count  int
}

func (s Spec) Validate() error {
	if s.Column == "" {
		return errors.New("bucket column is required")
	}
	if s.Count <= 0 {
		return fmt.Errorf("bucket count must be greater than 0 (got %d)", s.Count)
	}
	return nil
}

func (s Spec) Equal(other Spec) bool {
	return s.Column == other.Column && s.Count == other.Count
}

func (s Spec) String() string {
	return fmt.Sprintf("bucket(%d, %s)", s.Count, s.Column)
}

// Of returns the bucket of key among count buckets.
func Of(key string, count int) int {
	return int(xxhash.Sum64String(key) % uint64(count))
}

// OfValue returns the bucket for a relation value. NULL keys land in bucket 0.
func OfValue(v any, count int) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return Of(t, count), nil
	case int64:
		return Of(fmt.Sprintf("%d", t), count), nil
	default:
		return 0, fmt.Errorf("cannot bucket value of type %T", v)
	}
}
