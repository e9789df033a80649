package dataset

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"path/filepath"
	"strings"

	"github.com/hupe1980/annbench/internal/mmap"
)

// MatrixView is a Source over a memory-mapped matrix file of little-endian
// float32 values, one row per vector. The row index is the point id.
//
// The file carries no header; the dimensionality is supplied by the caller
// and the file size must be an exact multiple of one row.
type MatrixView struct {
	name string
	dims int
	rows int
	file *mmap.File
}

// OpenMatrix maps the matrix file at path with the given dimensionality.
func OpenMatrix(path string, dims int) (*MatrixView, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dataset: dimensions must be positive, got %d", dims)
	}

	f, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open matrix %s: %w", path, err)
	}

	rowBytes := dims * 4
	if len(f.Data)%rowBytes != 0 {
		f.Close()
		return nil, fmt.Errorf("dataset: matrix %s has %d bytes, not a multiple of %d-dimension rows",
			path, len(f.Data), dims)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &MatrixView{
		name: name,
		dims: dims,
		rows: len(f.Data) / rowBytes,
		file: f,
	}, nil
}

func (v *MatrixView) Name() string    { return v.name }
func (v *MatrixView) Dimensions() int { return v.dims }
func (v *MatrixView) Len() int        { return v.rows }
func (v *MatrixView) Close() error    { return v.file.Close() }

// Row decodes the vector at row i into a freshly allocated slice.
func (v *MatrixView) Row(i int) []float32 {
	rowBytes := v.dims * 4
	raw := v.file.Data[i*rowBytes : (i+1)*rowBytes]

	vec := make([]float32, v.dims)
	for j := range vec {
		bits := binary.LittleEndian.Uint32(raw[j*4:])
		vec[j] = math.Float32frombits(bits)
	}
	return vec
}

func (v *MatrixView) Points() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		for i := 0; i < v.rows; i++ {
			if !yield(Point{ID: uint32(i), Vector: v.Row(i)}) {
				return
			}
		}
	}
}
