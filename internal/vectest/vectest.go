// Package vectest provides seeded vector fixtures for tests.
package vectest

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"testing"
)

// Vectors returns n seeded random vectors of the given dimensionality.
// The same seed always yields the same vectors.
func Vectors(n, dims int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec

	vectors := make([][]float32, n)
	for i := range vectors {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = rng.Float32()
		}
		vectors[i] = vec
	}
	return vectors
}

// WriteMatrix writes vectors as a headerless little-endian float32 matrix
// file, one row per vector.
func WriteMatrix(t *testing.T, path string, vectors [][]float32) {
	t.Helper()

	var buf []byte
	for _, vec := range vectors {
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write matrix file: %v", err)
	}
}
