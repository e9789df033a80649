package forest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/exact"
	"github.com/hupe1980/annbench/scenario"
)

func builtIndex(t *testing.T, points []dataset.Point, dims int, optFns ...func(o *Options)) engine.Builder {
	t.Helper()

	c := New(append(optFns, func(o *Options) { o.Dir = t.TempDir() })...)

	b, err := c.NewBuilder(context.Background(), engine.BuildSpec{
		Dimensions: dims,
		Metric:     distance.MetricEuclidean,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.InsertChunk(context.Background(), points))
	require.NoError(t, b.Build(context.Background()))

	return b
}

func TestSearchMatchesExactOnTinyDataset(t *testing.T) {
	// With a leaf size larger than the dataset every tree is a single
	// leaf, so the forest degenerates to exact search.
	src := dataset.NewRandomSource("tiny", 64, 4, 7)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	b := builtIndex(t, points, 4, func(o *Options) { o.LeafSize = 128 })

	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	query := points[5].Vector
	want := exact.TopK(query, dataset.NewSliceSource("tiny", 4, points).Points(), 10, distance.SquaredL2)

	got, err := sess.Search(context.Background(), engine.Query{Vector: query, K: 10})
	require.NoError(t, err)
	require.Len(t, got, 10)

	for i, m := range got {
		assert.Equal(t, want[i].ID, m.ID)
	}
}

func TestSearchByItem(t *testing.T) {
	src := dataset.NewRandomSource("items", 128, 6, 3)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	b := builtIndex(t, points, 6)

	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	id := uint32(17)
	byItem, err := sess.Search(context.Background(), engine.Query{Item: &id, K: 5, Oversampling: 3})
	require.NoError(t, err)

	byVector, err := sess.Search(context.Background(), engine.Query{Vector: points[17].Vector, K: 5, Oversampling: 3})
	require.NoError(t, err)

	assert.Equal(t, byVector, byItem)

	// A point is its own nearest neighbor.
	require.NotEmpty(t, byItem)
	assert.Equal(t, id, byItem[0].ID)
}

func TestSearchUnknownItem(t *testing.T) {
	src := dataset.NewRandomSource("unknown", 16, 4, 1)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	b := builtIndex(t, points, 4)

	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	id := uint32(9999)
	_, err = sess.Search(context.Background(), engine.Query{Item: &id, K: 1})
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestSearchHonorsCandidateRestriction(t *testing.T) {
	src := dataset.NewRandomSource("restricted", 256, 4, 11)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	b := builtIndex(t, points, 4, func(o *Options) { o.LeafSize = 512 })

	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	candidates := scenario.NewCandidateSet(2, 3, 5, 8, 13, 21)

	got, err := sess.Search(context.Background(), engine.Query{
		Vector:     points[0].Vector,
		K:          4,
		Candidates: candidates,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	for _, m := range got {
		assert.True(t, candidates.Contains(m.ID), "id %d is outside the restriction", m.ID)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	src := dataset.NewRandomSource("det", 200, 8, 5)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	query := points[42].Vector
	run := func() []engine.Match {
		b := builtIndex(t, points, 8)
		sess, err := b.OpenSession(context.Background())
		require.NoError(t, err)
		defer sess.Close()

		got, err := sess.Search(context.Background(), engine.Query{Vector: query, K: 10, Oversampling: 3})
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, run(), run())
}

func TestStatsAndPersistence(t *testing.T) {
	src := dataset.NewRandomSource("persist", 100, 4, 9)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	b := builtIndex(t, points, 4, func(o *Options) { o.Trees = 4 })

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Trees)
	assert.Positive(t, stats.DatabaseBytes)

	loadedPoints, loadedTrees, err := loadSegments(b.(*builder).dir)
	require.NoError(t, err)
	assert.Equal(t, points, loadedPoints)
	require.Len(t, loadedTrees, 4)
	for _, tr := range loadedTrees {
		require.NotNil(t, tr.Root)
	}
}

func TestTreeCountCappedByMemory(t *testing.T) {
	src := dataset.NewRandomSource("budget", 1000, 4, 2)
	points, err := dataset.Collect(src, 0)
	require.NoError(t, err)

	c := New(func(o *Options) { o.Dir = t.TempDir() })

	b, err := c.NewBuilder(context.Background(), engine.BuildSpec{
		Dimensions: 4,
		Metric:     distance.MetricEuclidean,
		Memory:     2 * 1000 * bytesPerItemPerTree, // room for two trees
	})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.InsertChunk(context.Background(), points))
	require.NoError(t, b.Build(context.Background()))

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Trees)
}

func TestInsertChunkRejectsDuplicatesAndBadDims(t *testing.T) {
	c := New(func(o *Options) { o.Dir = t.TempDir() })

	b, err := c.NewBuilder(context.Background(), engine.BuildSpec{
		Dimensions: 3,
		Metric:     distance.MetricCosine,
	})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.InsertChunk(context.Background(), []dataset.Point{{ID: 1, Vector: []float32{1, 2, 3}}}))

	err = b.InsertChunk(context.Background(), []dataset.Point{{ID: 1, Vector: []float32{4, 5, 6}}})
	assert.ErrorContains(t, err, "duplicate")

	err = b.InsertChunk(context.Background(), []dataset.Point{{ID: 2, Vector: []float32{1, 2}}})
	assert.ErrorContains(t, err, "dimensions")
}
