package state

import "math/bits"

// CollectionStats summarises value sizes of one collection.
type CollectionStats struct {
	Name         string   `json:"name"`
	Records      int      `json:"records"`
	TotalBytes   int64    `json:"total_bytes"`
	MinValueSize int      `json:"min_value_size"`
	MaxValueSize int      `json:"max_value_size"`
	Histogram    []Bucket `json:"histogram"`
}

// Bucket counts values whose size is at most UpperBound and above the
// previous bucket's bound. Bounds are powers of two, 0 for empty values.
type Bucket struct {
	UpperBound int `json:"upper_bound"`
	Count      int `json:"count"`
}

func bucketIndex(size int) int {
	if size == 0 {
		return 0
	}
	return bits.Len(uint(size-1)) + 1
}

func bucketBound(idx int) int {
	if idx == 0 {
		return 0
	}
	return 1 << (idx - 1)
}

// Stats walks every collection. It is read-only and does not block writers.
func (s *Store) Stats() []CollectionStats {
	set := s.colls.Load()
	out := make([]CollectionStats, 0, set.Len())
	set.Range(func(name string, c *Collection) bool {
		out = append(out, c.stats())
		return true
	})
	return out
}

func (c *Collection) stats() CollectionStats {
	st := CollectionStats{Name: c.name}
	var counts []int

	for rec := range c.All() {
		size := len(rec.Value)
		if st.Records == 0 || size < st.MinValueSize {
			st.MinValueSize = size
		}
		if size > st.MaxValueSize {
			st.MaxValueSize = size
		}
		st.Records++
		st.TotalBytes += int64(size)

		idx := bucketIndex(size)
		for len(counts) <= idx {
			counts = append(counts, 0)
		}
		counts[idx]++
	}

	for idx, n := range counts {
		if n > 0 {
			st.Histogram = append(st.Histogram, Bucket{UpperBound: bucketBound(idx), Count: n})
		}
	}
	return st
}
