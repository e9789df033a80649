package bench

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/scenario"
)

// stubEngine scripts the answers of an approximate engine.
type stubEngine struct {
	answer func(q engine.Query) []engine.Match
}

var _ engine.Builder = (*stubEngine)(nil)

func (s *stubEngine) InsertChunk(context.Context, []dataset.Point) error { return nil }

func (s *stubEngine) Build(context.Context) error { return nil }

func (s *stubEngine) Stats(context.Context) (engine.Stats, error) {
	return engine.Stats{}, nil
}

func (s *stubEngine) OpenSession(context.Context) (engine.Session, error) {
	return &stubSession{engine: s}, nil
}

func (s *stubEngine) Close() error { return nil }

type stubSession struct {
	engine *stubEngine
}

func (s *stubSession) Search(_ context.Context, q engine.Query) ([]engine.Match, error) {
	return s.engine.answer(q), nil
}

func (s *stubSession) Close() error { return nil }

func singleCaseGroup(filtering scenario.Filtering) (*scenario.Group, []QueryCase) {
	group := &scenario.Group{
		Dataset:   "tiny",
		Metric:    distance.MetricEuclidean,
		Contender: "stub",
		Search:    []scenario.Search{{Oversampling: scenario.OversamplingX1, Filtering: filtering}},
	}
	return group, nil
}

// The worked example: 4 points with 2D vectors {0:(0,0), 1:(1,0),
// 2:(0,1), 3:(10,10)}, query (0,0), K=2.
func exampleCase(candidates *scenario.CandidateSet, answer []uint32, filtering scenario.Filtering) []QueryCase {
	id := uint32(0)
	return []QueryCase{{
		ID:     id,
		Vector: []float32{0, 0},
		Truth: map[scenario.Filtering]GroundTruth{
			filtering: {Candidates: candidates, Answer: answer},
		},
	}}
}

func TestEvaluateGroupPerfectRecall(t *testing.T) {
	group, _ := singleCaseGroup(scenario.NoFilter)
	cases := exampleCase(nil, []uint32{0, 1}, scenario.NoFilter)

	builder := &stubEngine{answer: func(q engine.Query) []engine.Match {
		return []engine.Match{{ID: 0, Distance: 0}, {ID: 1, Distance: 1}}
	}}

	e := NewEvaluator(func(o *EvaluatorOptions) { o.Parallelism = 1 })
	report, err := e.EvaluateGroup(context.Background(), builder, group, cases, []int{2})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, []Recall{1.0}, report.Results[0].Recalls)
	assert.InDelta(t, 1.0, report.Score, 1e-6)
}

func TestEvaluateGroupOutOfCandidateIsInvalid(t *testing.T) {
	// Restriction {0, 3}: exact answer is [0, 3]. An engine returning
	// [0, 2] must be scored invalid because 2 is outside the set, even
	// though 0 matched.
	candidates := scenario.NewCandidateSet(0, 3)
	group, _ := singleCaseGroup(scenario.Filtered50)
	cases := exampleCase(candidates, []uint32{0, 3}, scenario.Filtered50)

	builder := &stubEngine{answer: func(q engine.Query) []engine.Match {
		return []engine.Match{{ID: 0, Distance: 0}, {ID: 2, Distance: 1}}
	}}

	e := NewEvaluator(func(o *EvaluatorOptions) { o.Parallelism = 1 })
	report, err := e.EvaluateGroup(context.Background(), builder, group, cases, []int{2})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, []Recall{InvalidRecall}, report.Results[0].Recalls)
	assert.InDelta(t, -1.0, report.Score, 1e-6)
}

func TestEvaluateGroupSentinelPoisonsBatch(t *testing.T) {
	// 50 perfect queries and a single violating one: the configuration's
	// recall must be exactly -1.0.
	candidates := scenario.NewCandidateSet(0, 1, 2, 3, 4)

	cases := make([]QueryCase, 50)
	for i := range cases {
		cases[i] = QueryCase{
			ID:     uint32(i % 5),
			Vector: []float32{float32(i)},
			Truth: map[scenario.Filtering]GroundTruth{
				scenario.Filtered50: {Candidates: candidates, Answer: []uint32{0}},
			},
		}
	}

	calls := 0
	builder := &stubEngine{answer: func(q engine.Query) []engine.Match {
		calls++
		if calls == 7 {
			return []engine.Match{{ID: 999, Distance: 0}} // outside the restriction
		}
		return []engine.Match{{ID: 0, Distance: 0}}
	}}

	group := &scenario.Group{
		Contender: "stub",
		Search:    []scenario.Search{{Oversampling: scenario.OversamplingX1, Filtering: scenario.Filtered50}},
	}

	e := NewEvaluator(func(o *EvaluatorOptions) { o.Parallelism = 1 })
	report, err := e.EvaluateGroup(context.Background(), builder, group, cases, []int{1})
	require.NoError(t, err)

	assert.Equal(t, []Recall{InvalidRecall}, report.Results[0].Recalls)
	assert.InDelta(t, -1.0, report.Score, 1e-6)
}

func TestEvaluateGroupTruncatesGroundTruthPerK(t *testing.T) {
	// Ground truth computed at maxK=3; at K=1 only the first entry
	// counts as relevant.
	cases := []QueryCase{{
		ID:     0,
		Vector: []float32{0},
		Truth: map[scenario.Filtering]GroundTruth{
			scenario.NoFilter: {Answer: []uint32{5, 6, 7}},
		},
	}}

	builder := &stubEngine{answer: func(q engine.Query) []engine.Match {
		// Returns the *second* true neighbor only.
		return []engine.Match{{ID: 6, Distance: 0.5}}[:min(q.K, 1)]
	}}

	group := &scenario.Group{
		Contender: "stub",
		Search:    []scenario.Search{{Oversampling: scenario.OversamplingX1, Filtering: scenario.NoFilter}},
	}

	e := NewEvaluator(func(o *EvaluatorOptions) { o.Parallelism = 1 })
	report, err := e.EvaluateGroup(context.Background(), builder, group, cases, []int{1, 3})
	require.NoError(t, err)

	recalls := report.Results[0].Recalls
	require.Len(t, recalls, 2)
	assert.Equal(t, Recall(0), recalls[0])              // id 6 not in truth[:1]
	assert.InDelta(t, 1.0/3.0, float32(recalls[1]), 1e-6) // one of three at K=3
}

func TestEvaluateGroupEmpty(t *testing.T) {
	e := NewEvaluator(func(o *EvaluatorOptions) { o.Parallelism = 1 })
	report, err := e.EvaluateGroup(context.Background(), &stubEngine{}, &scenario.Group{}, nil, []int{10})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Zero(t, report.Score)
}
