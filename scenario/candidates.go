package scenario

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/annbench/dataset"
)

// CandidateSet is an immutable set of item ids eligible for a query under
// an active filtering mode. It is shared read-only across query workers.
type CandidateSet struct {
	bm *roaring.Bitmap
}

// DeriveCandidates selects the candidate set for the given filtering mode.
//
// NoFilter returns nil: the absence of a restriction, which downstream
// logic must treat differently from an empty set (nil = everything is
// eligible, empty = nothing is).
//
// Any other mode takes the first floor(len(points) * ratio) ids in the
// points' natural enumeration order. The selection is deterministic and
// query-independent; it deliberately correlates with dataset layout rather
// than sampling uniformly.
func DeriveCandidates(points []dataset.Point, f Filtering) *CandidateSet {
	if f == NoFilter {
		return nil
	}

	// float32(len(points)) is inexact beyond 2^24 points and may round up,
	// pushing the product past the slice bounds.
	take := min(int(float32(len(points))*f.Ratio()), len(points))

	bm := roaring.New()
	for _, p := range points[:take] {
		bm.Add(p.ID)
	}

	return &CandidateSet{bm: bm}
}

// NewCandidateSet builds a restriction over an explicit id list.
func NewCandidateSet(ids ...uint32) *CandidateSet {
	bm := roaring.New()
	bm.AddMany(ids)
	return &CandidateSet{bm: bm}
}

// Contains reports whether id is eligible.
func (c *CandidateSet) Contains(id uint32) bool {
	return c.bm.Contains(id)
}

// Len returns the number of eligible ids.
func (c *CandidateSet) Len() uint64 {
	return c.bm.GetCardinality()
}

// IsEmpty reports whether no ids are eligible. An empty set is a valid
// restriction: every query against it has zero achievable recall.
func (c *CandidateSet) IsEmpty() bool {
	return c.bm.IsEmpty()
}

// Bounds returns the smallest and largest eligible id. It must not be
// called on an empty set.
func (c *CandidateSet) Bounds() (min, max uint32) {
	return c.bm.Minimum(), c.bm.Maximum()
}

// Restrict narrows a point sequence to the eligible points. A nil
// CandidateSet passes everything through.
func (c *CandidateSet) Restrict(points iter.Seq[dataset.Point]) iter.Seq[dataset.Point] {
	if c == nil {
		return points
	}
	return func(yield func(dataset.Point) bool) {
		for p := range points {
			if !c.bm.Contains(p.ID) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}
