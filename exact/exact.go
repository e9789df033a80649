// Package exact computes exact nearest-neighbor answers by brute force.
//
// It is the ground-truth oracle the recall evaluator scores engines
// against, and engines may also use it to rank a pre-collected candidate
// pool.
package exact

import (
	"iter"
	"slices"
	"sort"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
)

// Neighbor is one exact result: the point, paired with its distance to the
// query.
type Neighbor struct {
	ID       uint32
	Vector   []float32
	Distance float32
}

// TopK returns the k nearest points to query in ascending distance order.
//
// It performs a bounded selection rather than a full sort: the first k
// points seed a sorted buffer, and every further point is admitted via
// binary search only if it beats the current worst. Ties and NaN values
// are ordered with distance.TotalCompare so the buffer stays totally
// sorted on any input.
//
// If fewer than k points are available, all of them are returned, sorted.
// k <= 0 returns nil.
func TopK(query []float32, points iter.Seq[dataset.Point], k int, dist distance.Func) []Neighbor {
	if k <= 0 {
		return nil
	}

	buf := make([]Neighbor, 0, k)
	sorted := false

	for p := range points {
		d := dist(query, p.Vector)

		if len(buf) < k {
			buf = append(buf, Neighbor{ID: p.ID, Vector: p.Vector, Distance: d})
			if len(buf) == k {
				sortNeighbors(buf)
				sorted = true
			}
			continue
		}

		// Buffer is full and sorted; the last element is the current worst.
		if !(d < buf[len(buf)-1].Distance) {
			continue
		}

		i := sort.Search(len(buf), func(i int) bool {
			return distance.TotalCompare(buf[i].Distance, d) >= 0
		})

		copy(buf[i+1:], buf[i:len(buf)-1])
		buf[i] = Neighbor{ID: p.ID, Vector: p.Vector, Distance: d}
	}

	if !sorted {
		sortNeighbors(buf)
	}

	return buf
}

// IDs extracts the ids of neighbors, preserving order.
func IDs(neighbors []Neighbor) []uint32 {
	ids := make([]uint32, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	return ids
}

func sortNeighbors(neighbors []Neighbor) {
	slices.SortFunc(neighbors, func(a, b Neighbor) int {
		return distance.TotalCompare(a.Distance, b.Distance)
	})
}
