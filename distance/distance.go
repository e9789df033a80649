// Package distance provides the distance metrics the benchmark sweeps over
// and the exact scalar kernels used by the ground-truth oracle.
//
// The kernels are deliberately plain Go: the oracle must be portable and
// bit-exact across platforms, since recall scores are compared between runs
// on different machines.
package distance

import (
	"fmt"
	"math"
	"strings"
)

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricManhattan
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricManhattan:
		return "manhattan"
	case MetricDot:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMetric parses a metric name as used on the command line.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "angular":
		return MetricCosine, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "manhattan", "l1":
		return MetricManhattan, nil
	case "dot":
		return MetricDot, nil
	default:
		return 0, fmt.Errorf("distance: unknown metric %q", s)
	}
}

// Func is a function type for distance calculation.
// Smaller values mean closer vectors for every metric, including dot
// product (which is negated).
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return Cosine, nil
	case MetricEuclidean:
		return SquaredL2, nil
	case MetricManhattan:
		return Manhattan, nil
	case MetricDot:
		return NegDot, nil
	default:
		return nil, fmt.Errorf("distance: unsupported metric: %v", m)
	}
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// NegDot returns the negated dot product so that ascending order means
// most similar first.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two
// vectors. The square root is omitted; it does not change the ordering.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Manhattan calculates the L1 distance between two vectors.
func Manhattan(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// Cosine calculates the cosine distance (1 - cosine similarity) between
// two vectors. A zero-norm operand yields the maximum distance of 1.
func Cosine(a, b []float32) float32 {
	dot := Dot(a, b)
	na := Dot(a, a)
	nb := Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}

// TotalCompare compares two float32 values under the IEEE 754 totalOrder
// predicate: -NaN < -Inf < ... < -0 < +0 < ... < +Inf < +NaN.
// Unlike the < operator it never treats NaN as unordered, which keeps the
// oracle's selection buffer totally sorted even on degenerate inputs.
func TotalCompare(a, b float32) int {
	left := int32(math.Float32bits(a))
	right := int32(math.Float32bits(b))

	// Flip the payload bits of negative values so the integer order
	// matches the float order.
	left ^= int32(uint32(left>>31) >> 1)
	right ^= int32(uint32(right>>31) >> 1)

	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
