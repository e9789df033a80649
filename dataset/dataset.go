// Package dataset provides the vector sources consumed by the benchmark:
// memory-mapped matrix files, in-memory slices, and seeded random data.
//
// A source yields a finite, restartable sequence of (id, vector) pairs of
// fixed dimensionality. IDs follow the source's natural enumeration order;
// candidate filtering downstream depends on that order being stable.
package dataset

import (
	"fmt"
	"iter"
	"math/rand"
)

// Point is one dataset entry: a stable 32-bit id and its vector.
// Points are immutable once loaded and shared read-only across query
// workers.
type Point struct {
	ID     uint32
	Vector []float32
}

// Source produces the points of one dataset.
type Source interface {
	// Name identifies the dataset in reports and scenario planning.
	Name() string

	// Dimensions is the fixed vector dimensionality of every point.
	Dimensions() int

	// Len is the total number of points.
	Len() int

	// Points returns a restartable iterator over all points in natural
	// enumeration order.
	Points() iter.Seq[Point]

	// Close releases any resources held by the source.
	Close() error
}

// Collect materializes up to count points from src, validating that every
// vector has the source's declared dimensionality. A mismatch is a fatal
// precondition violation for a recall benchmark, so it is returned as an
// error rather than coerced.
func Collect(src Source, count int) ([]Point, error) {
	n := src.Len()
	if count > 0 && count < n {
		n = count
	}

	dims := src.Dimensions()
	points := make([]Point, 0, n)

	for p := range src.Points() {
		if len(p.Vector) != dims {
			return nil, fmt.Errorf("dataset %s: point %d has %d dimensions, want %d",
				src.Name(), p.ID, len(p.Vector), dims)
		}
		points = append(points, p)
		if len(points) == n {
			break
		}
	}

	return points, nil
}

// SliceSource is an in-memory Source, mainly used in tests and as the
// backing store for synthetic datasets.
type SliceSource struct {
	name   string
	dims   int
	points []Point
}

// NewSliceSource creates a source over the given points.
func NewSliceSource(name string, dims int, points []Point) *SliceSource {
	return &SliceSource{name: name, dims: dims, points: points}
}

func (s *SliceSource) Name() string    { return s.name }
func (s *SliceSource) Dimensions() int { return s.dims }
func (s *SliceSource) Len() int        { return len(s.points) }
func (s *SliceSource) Close() error    { return nil }

func (s *SliceSource) Points() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		for _, p := range s.points {
			if !yield(p) {
				return
			}
		}
	}
}

// NewRandomSource creates a synthetic dataset of n uniformly random
// vectors. The same seed always produces the same vectors, so runs remain
// comparable.
func NewRandomSource(name string, n, dims int, seed int64) *SliceSource {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec

	points := make([]Point, n)
	for i := range points {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		points[i] = Point{ID: uint32(i), Vector: vec}
	}

	return NewSliceSource(name, dims, points)
}
