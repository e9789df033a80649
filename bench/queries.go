package bench

import (
	"context"
	"math/rand"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/exact"
	"github.com/hupe1980/annbench/scenario"
)

const (
	// QuerySampleSize is the number of queries sampled per build group.
	QuerySampleSize = 100

	// querySeed fixes the query sample across runs, independent of K and
	// oversampling, so results stay comparable between runs and engines.
	querySeed = 38
)

// GroundTruth is the exact answer for one query under one filtering mode:
// the candidate restriction (nil for no restriction) and the true top-K
// ids, ascending by distance, computed at the maximum requested K.
type GroundTruth struct {
	Candidates *scenario.CandidateSet
	Answer     []uint32
}

// QueryCase is one sampled query: a dataset point used as the query target
// plus its precomputed ground truth per filtering mode.
type QueryCase struct {
	ID     uint32
	Vector []float32
	Truth  map[scenario.Filtering]GroundTruth
}

// SampleQueries draws QuerySampleSize query points with a fixed seed and
// computes their exact ground truth for every filtering mode, at maxK.
// Per-K answers are later produced by re-slicing, never by recomputing.
//
// Candidate sets are derived once per filtering mode and shared across all
// cases; ground-truth computation runs in parallel up to the given degree.
//
// maxK <= 0 means no recall will be measured; no queries are sampled.
func SampleQueries(ctx context.Context, points []dataset.Point, metric distance.Metric, filterings []scenario.Filtering, maxK, parallelism int) ([]QueryCase, error) {
	if maxK <= 0 || len(points) == 0 {
		return nil, nil
	}

	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	candidates := make(map[scenario.Filtering]*scenario.CandidateSet, len(filterings))
	for _, f := range filterings {
		candidates[f] = scenario.DeriveCandidates(points, f)
	}

	// Draw the sample sequentially so the rng stream is deterministic,
	// then fill in ground truth in parallel.
	rng := rand.New(rand.NewSource(querySeed)) //nolint:gosec
	cases := make([]QueryCase, QuerySampleSize)
	for i := range cases {
		p := points[rng.Intn(len(points))]
		cases[i] = QueryCase{ID: p.ID, Vector: p.Vector}
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range cases {
		qc := &cases[i]
		g.Go(func() error {
			truth := make(map[scenario.Filtering]GroundTruth, len(filterings))
			for _, f := range filterings {
				cand := candidates[f]
				answer := exact.TopK(qc.Vector, cand.Restrict(slices.Values(points)), maxK, dist)
				truth[f] = GroundTruth{Candidates: cand, Answer: exact.IDs(answer)}
			}
			qc.Truth = truth
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return cases, nil
}
