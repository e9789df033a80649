package bench

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/scenario"
)

func samplePoints(n int) []dataset.Point {
	src := dataset.NewRandomSource("sample", n, 8, 1)
	points, _ := dataset.Collect(src, 0)
	return points
}

func TestSampleQueriesReproducible(t *testing.T) {
	points := samplePoints(500)
	filterings := []scenario.Filtering{scenario.NoFilter}

	a, err := SampleQueries(context.Background(), points, distance.MetricCosine, filterings, 10, 4)
	require.NoError(t, err)
	b, err := SampleQueries(context.Background(), points, distance.MetricCosine, filterings, 10, 1)
	require.NoError(t, err)

	require.Len(t, a, QuerySampleSize)
	require.Len(t, b, QuerySampleSize)

	// Same seed, same sample, regardless of parallelism.
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Truth[scenario.NoFilter].Answer, b[i].Truth[scenario.NoFilter].Answer)
	}
}

func TestSampleQueriesGroundTruth(t *testing.T) {
	points := samplePoints(200)
	filterings := []scenario.Filtering{scenario.NoFilter, scenario.Filtered10}

	cases, err := SampleQueries(context.Background(), points, distance.MetricEuclidean, filterings, 20, 2)
	require.NoError(t, err)

	for _, qc := range cases {
		require.Len(t, qc.Truth, 2)

		unrestricted := qc.Truth[scenario.NoFilter]
		assert.Nil(t, unrestricted.Candidates)
		assert.Len(t, unrestricted.Answer, 20)

		// The query point itself is its own nearest neighbor under L2.
		assert.Equal(t, qc.ID, unrestricted.Answer[0])

		restricted := qc.Truth[scenario.Filtered10]
		require.NotNil(t, restricted.Candidates)
		assert.Equal(t, uint64(20), restricted.Candidates.Len())
		for _, id := range restricted.Answer {
			assert.True(t, restricted.Candidates.Contains(id))
		}
	}
}

func TestSampleQueriesNoRecallRequested(t *testing.T) {
	cases, err := SampleQueries(context.Background(), samplePoints(10), distance.MetricCosine, nil, 0, 1)
	require.NoError(t, err)
	assert.Nil(t, cases)
}
