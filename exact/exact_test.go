package exact

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
)

func pointsIter(points []dataset.Point) func(func(dataset.Point) bool) {
	return func(yield func(dataset.Point) bool) {
		for _, p := range points {
			if !yield(p) {
				return
			}
		}
	}
}

// bruteForce is the reference implementation: full sort over all points.
func bruteForce(query []float32, points []dataset.Point, k int, dist distance.Func) []uint32 {
	type scored struct {
		id uint32
		d  float32
	}

	all := make([]scored, len(points))
	for i, p := range points {
		all[i] = scored{id: p.ID, d: dist(query, p.Vector)}
	}
	slices.SortFunc(all, func(a, b scored) int {
		return distance.TotalCompare(a.d, b.d)
	})

	if k > len(all) {
		k = len(all)
	}
	ids := make([]uint32, k)
	for i := range ids {
		ids[i] = all[i].id
	}
	return ids
}

func randomPoints(t *testing.T, n, dims int, seed int64) []dataset.Point {
	t.Helper()
	return slices.Collect(dataset.NewRandomSource("rand", n, dims, seed).Points())
}

func TestTopKMatchesBruteForce(t *testing.T) {
	points := randomPoints(t, 500, 16, 42)
	rng := rand.New(rand.NewSource(7))

	for _, k := range []int{1, 5, 10, 100, 500} {
		query := points[rng.Intn(len(points))].Vector

		got := TopK(query, pointsIter(points), k, distance.SquaredL2)
		require.Len(t, got, k)

		want := bruteForce(query, points, k, distance.SquaredL2)
		assert.Equal(t, want, IDs(got), "k=%d", k)

		// Ascending distance order.
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
		}
	}
}

func TestTopKEdgeCases(t *testing.T) {
	points := randomPoints(t, 10, 4, 1)

	t.Run("ZeroK", func(t *testing.T) {
		assert.Empty(t, TopK(points[0].Vector, pointsIter(points), 0, distance.SquaredL2))
	})

	t.Run("NoPoints", func(t *testing.T) {
		assert.Empty(t, TopK(points[0].Vector, pointsIter(nil), 5, distance.SquaredL2))
	})

	t.Run("KLargerThanSet", func(t *testing.T) {
		got := TopK(points[0].Vector, pointsIter(points), 100, distance.SquaredL2)
		require.Len(t, got, len(points))
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
		}
	})
}

func TestTopKOrderIndependent(t *testing.T) {
	// Distinct distances so the expected set is unambiguous under any
	// encounter order.
	points := []dataset.Point{
		{ID: 0, Vector: []float32{0, 0}},
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{2, 0}},
		{ID: 3, Vector: []float32{3, 0}},
		{ID: 4, Vector: []float32{4, 0}},
	}
	query := []float32{0, 0}

	want := IDs(TopK(query, pointsIter(points), 3, distance.SquaredL2))
	require.Equal(t, []uint32{0, 1, 2}, want)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 20; i++ {
		shuffled := slices.Clone(points)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := IDs(TopK(query, pointsIter(shuffled), 3, distance.SquaredL2))
		assert.Equal(t, want, got)
	}
}

func TestTopKFilteredInput(t *testing.T) {
	// The oracle sees only what the iterator yields; pre-filtering the
	// input restricts the answer.
	points := []dataset.Point{
		{ID: 0, Vector: []float32{0, 0}},
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0, 1}},
		{ID: 3, Vector: []float32{10, 10}},
	}
	query := []float32{0, 0}

	allowed := map[uint32]bool{0: true, 3: true}
	filtered := func(yield func(dataset.Point) bool) {
		for _, p := range points {
			if !allowed[p.ID] {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}

	got := IDs(TopK(query, filtered, 2, distance.SquaredL2))
	assert.Equal(t, []uint32{0, 3}, got)
}
