// Package forest implements the local embedded contender: a forest of
// random-projection trees, rebuilt over all inserted points on every
// build call and persisted to disk as lz4-compressed segments.
//
// The structure follows the classic annoy recipe: each tree splits the
// point set with random hyperplanes until leaves are small; a query
// descends all trees best-first, pools the leaf items, and ranks the pool
// exactly. Recall grows with the tree count and the oversampling factor.
package forest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
)

// ErrUnknownItem is returned for by-item queries naming an id that was
// never inserted.
var ErrUnknownItem = errors.New("forest: unknown item id")

const (
	// buildSeed fixes the hyperplane choices so index builds are
	// reproducible across runs.
	buildSeed = 13

	defaultTrees    = 16
	defaultLeafSize = 32

	// bytesPerItemPerTree is the rough on-disk cost of one point in one
	// tree, used to honor the memory budget when sizing the forest.
	bytesPerItemPerTree = 24
)

// Options configures the forest contender.
type Options struct {
	// Dir is the parent directory for index segment files. Defaults to
	// the system temp directory.
	Dir string

	// Seed overrides the deterministic build seed.
	Seed int64

	// LeafSize is the maximum number of items per tree leaf.
	LeafSize int

	// Trees is the default tree count when the build spec does not pin
	// one.
	Trees int

	Logger *slog.Logger
}

// Contender is the local embedded engine.
type Contender struct {
	opts Options
}

var _ engine.Contender = (*Contender)(nil)

// New creates the forest contender.
func New(optFns ...func(o *Options)) *Contender {
	opts := Options{
		Seed:     buildSeed,
		LeafSize: defaultLeafSize,
		Trees:    defaultTrees,
		Logger:   slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Contender{opts: opts}
}

// Name implements engine.Contender.
func (c *Contender) Name() string { return "forest" }

// NewBuilder implements engine.Contender.
func (c *Contender) NewBuilder(_ context.Context, spec engine.BuildSpec) (engine.Builder, error) {
	if spec.Dimensions <= 0 {
		return nil, fmt.Errorf("forest: dimensions must be positive, got %d", spec.Dimensions)
	}

	dist, err := distance.Provider(spec.Metric)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(c.opts.Dir, "forest-*")
	if err != nil {
		return nil, fmt.Errorf("forest: create index dir: %w", err)
	}

	return &builder{
		opts: c.opts,
		spec: spec,
		dir:  dir,
		dist: dist,
		rng:  rand.New(rand.NewSource(c.opts.Seed)), //nolint:gosec
		byID: make(map[uint32]int),
	}, nil
}

type builder struct {
	opts Options
	spec engine.BuildSpec
	dir  string
	dist distance.Func
	rng  *rand.Rand

	points []dataset.Point
	byID   map[uint32]int

	trees []*tree
}

var _ engine.Builder = (*builder)(nil)

// InsertChunk implements engine.Builder.
func (b *builder) InsertChunk(_ context.Context, points []dataset.Point) error {
	for _, p := range points {
		if len(p.Vector) != b.spec.Dimensions {
			return fmt.Errorf("forest: item %d has %d dimensions, want %d",
				p.ID, len(p.Vector), b.spec.Dimensions)
		}
		if _, dup := b.byID[p.ID]; dup {
			return fmt.Errorf("forest: duplicate item id %d", p.ID)
		}
		b.byID[p.ID] = len(b.points)
		b.points = append(b.points, p)
	}
	return nil
}

// Build implements engine.Builder. The whole forest is rebuilt over every
// point inserted so far; later chunks therefore extend earlier ones.
func (b *builder) Build(ctx context.Context) error {
	nTrees := b.treeCount()

	b.opts.Logger.Debug("building forest",
		"items", len(b.points),
		"trees", nTrees,
	)

	// Draw per-tree seeds up front so the build is deterministic no
	// matter how the goroutines interleave.
	seeds := make([]int64, nTrees)
	for i := range seeds {
		seeds[i] = b.rng.Int63()
	}

	trees := make([]*tree, nTrees)
	var done uint64

	g, _ := errgroup.WithContext(ctx)
	for i := range trees {
		g.Go(func() error {
			trees[i] = buildTree(b.points, b.opts.LeafSize, rand.New(rand.NewSource(seeds[i]))) //nolint:gosec
			b.progress("building trees", &done, uint64(nTrees))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.trees = trees
	return b.persist()
}

// treeCount resolves the forest size: a pinned count wins, otherwise the
// default, capped so the persisted segments fit the memory budget.
func (b *builder) treeCount() int {
	if b.spec.Trees > 0 {
		return b.spec.Trees
	}

	n := b.opts.Trees
	if b.spec.Memory > 0 && len(b.points) > 0 {
		perTree := uint64(len(b.points)) * bytesPerItemPerTree
		if budget := int(b.spec.Memory / perTree); budget < n {
			n = budget
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Stats implements engine.Builder. The database size is the summed size
// of all persisted segment files.
func (b *builder) Stats(context.Context) (engine.Stats, error) {
	var size uint64
	err := filepath.WalkDir(b.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += uint64(info.Size())
		return nil
	})
	if err != nil {
		return engine.Stats{}, fmt.Errorf("forest: walk index dir: %w", err)
	}

	return engine.Stats{Trees: len(b.trees), DatabaseBytes: size}, nil
}

// OpenSession implements engine.Builder. Sessions snapshot the current
// forest; builds never run concurrently with queries, so the snapshot is
// a cheap slice-header copy.
func (b *builder) OpenSession(context.Context) (engine.Session, error) {
	if b.trees == nil {
		return nil, errors.New("forest: index has not been built")
	}

	return &session{
		dims:   b.spec.Dimensions,
		dist:   b.dist,
		points: b.points,
		byID:   b.byID,
		trees:  b.trees,
	}, nil
}

// Close implements engine.Builder, removing all on-disk state.
func (b *builder) Close() error {
	return os.RemoveAll(b.dir)
}

func (b *builder) progress(stage string, done *uint64, total uint64) {
	if b.spec.Progress == nil {
		return
	}
	// done is only ever incremented through here, under the caller's
	// goroutine; the sink must tolerate concurrent invocations.
	b.spec.Progress(engine.ProgressEvent{
		Stage:   stage,
		Current: atomicInc(done),
		Max:     total,
	})
}

type session struct {
	dims   int
	dist   distance.Func
	points []dataset.Point
	byID   map[uint32]int
	trees  []*tree
}

var _ engine.Session = (*session)(nil)

// Search implements engine.Session.
func (s *session) Search(_ context.Context, q engine.Query) ([]engine.Match, error) {
	if q.K <= 0 {
		return nil, nil
	}

	var query []float32
	switch {
	case q.Item != nil:
		slot, ok := s.byID[*q.Item]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownItem, *q.Item)
		}
		query = s.points[slot].Vector
	case q.Vector != nil:
		query = q.Vector
	default:
		return nil, errors.New("forest: query needs an item id or a vector")
	}

	if len(query) != s.dims {
		return nil, fmt.Errorf("forest: query has %d dimensions, want %d", len(query), s.dims)
	}

	oversampling := q.Oversampling
	if oversampling < 1 {
		oversampling = 1
	}

	return searchForest(s, query, q.K, oversampling, q.Candidates), nil
}

func (s *session) Close() error { return nil }
