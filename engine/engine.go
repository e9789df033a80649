// Package engine defines the boundary between the benchmark core and the
// approximate search engines under test.
//
// Both contenders (the local embedded forest and the remote Weaviate
// service) satisfy the same interfaces; the evaluator never sees anything
// engine-specific. Selection happens through a tagged configuration value
// on the command line, not through inheritance.
package engine

import (
	"context"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/scenario"
)

// Match is one approximate search result.
type Match struct {
	ID       uint32
	Distance float32
}

// Stats reports engine-level figures after a build phase.
type Stats struct {
	// Trees is the number of index trees (0 for engines without a tree
	// structure).
	Trees int

	// DatabaseBytes is the cumulative on-disk footprint of the index.
	DatabaseBytes uint64
}

// ProgressEvent is a build-progress checkpoint, delivered synchronously to
// an optional sink. Consumers must return quickly; they run on the build
// path.
type ProgressEvent struct {
	Stage   string
	Current uint64
	Max     uint64
}

// BuildSpec configures one index build group.
type BuildSpec struct {
	// Dimensions is the fixed vector dimensionality.
	Dimensions int

	// Metric selects the distance the index optimizes for.
	Metric distance.Metric

	// Memory is the byte budget available for indexing. Zero means
	// unbounded.
	Memory uint64

	// Trees pins the tree count. Zero lets the engine decide.
	Trees int

	// Progress, if non-nil, receives build-progress checkpoints.
	Progress func(ProgressEvent)
}

// Query is one k-NN request against a built index.
type Query struct {
	// Item queries by a stored item's id. Exactly one of Item and Vector
	// must be set.
	Item *uint32

	// Vector queries by an explicit vector.
	Vector []float32

	// K is the number of neighbors requested.
	K int

	// Oversampling is the internal fetch multiplier hint. Zero or one
	// means no oversampling.
	Oversampling int

	// Candidates restricts results to the given id set. Nil means no
	// restriction.
	Candidates *scenario.CandidateSet
}

// Session is a read-only view over a built index.
//
// Sessions are not safe for concurrent use; every parallel query worker
// must open its own through Builder.OpenSession.
type Session interface {
	// Search answers a k-NN query. Results are ordered ascending by
	// distance.
	Search(ctx context.Context, q Query) ([]Match, error)

	Close() error
}

// Builder drives the chunked construction of one index. All methods are
// called from a single driving goroutine, in chunk order: InsertChunk then
// Build, repeated per chunk. Sessions may only be opened between Build
// calls.
type Builder interface {
	// InsertChunk adds one chunk of points to the index.
	InsertChunk(ctx context.Context, points []dataset.Point) error

	// Build (re)builds the index over everything inserted so far.
	Build(ctx context.Context) error

	// Stats reports the figures after the most recent Build.
	Stats(ctx context.Context) (Stats, error)

	// OpenSession opens an independent read session over the built index.
	OpenSession(ctx context.Context) (Session, error)

	// Close releases the builder and any on-disk state it owns.
	Close() error
}

// Contender is one approximate search engine competing in the benchmark.
type Contender interface {
	// Name is the stable identifier used on the scenario axis.
	Name() string

	// NewBuilder starts a fresh index build. Any previous state under the
	// same name is discarded.
	NewBuilder(ctx context.Context, spec BuildSpec) (Builder, error)
}
