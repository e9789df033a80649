package forest

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/annbench/dataset"
)

const (
	vectorSegment      = "vectors.seg"
	treeSegmentPattern = "tree-%04d.seg"
)

// persist writes the vector table and one segment per tree, all
// lz4-compressed gob. The segments are what Stats sizes, so everything
// a reopened index would need must land on disk here.
func (b *builder) persist() error {
	if err := writeSegment(filepath.Join(b.dir, vectorSegment), b.points); err != nil {
		return err
	}

	for i, t := range b.trees {
		name := filepath.Join(b.dir, fmt.Sprintf(treeSegmentPattern, i))
		if err := writeSegment(name, t); err != nil {
			return err
		}
	}

	return nil
}

func writeSegment(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("forest: create segment: %w", err)
	}

	zw := lz4.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("forest: encode segment %s: %w", filepath.Base(path), err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("forest: flush segment %s: %w", filepath.Base(path), err)
	}

	return f.Close()
}

func readSegment(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("forest: open segment: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(lz4.NewReader(f)).Decode(v); err != nil {
		return fmt.Errorf("forest: decode segment %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadSegments reads a persisted index back from dir. Only used to
// verify round-trips; live sessions serve from memory.
func loadSegments(dir string) ([]dataset.Point, []*tree, error) {
	var points []dataset.Point
	if err := readSegment(filepath.Join(dir, vectorSegment), &points); err != nil {
		return nil, nil, err
	}

	var trees []*tree
	for i := 0; ; i++ {
		name := filepath.Join(dir, fmt.Sprintf(treeSegmentPattern, i))
		if _, err := os.Stat(name); err != nil {
			break
		}
		t := new(tree)
		if err := readSegment(name, t); err != nil {
			return nil, nil, err
		}
		trees = append(trees, t)
	}

	return points, trees, nil
}
