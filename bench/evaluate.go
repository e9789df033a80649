package bench

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/scenario"
)

// EvaluatorOptions configures the recall evaluator.
type EvaluatorOptions struct {
	// Parallelism is the number of concurrent query workers. Use 1 for
	// deterministic single-threaded evaluation in tests.
	Parallelism int

	// Logger receives per-configuration debug output. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Evaluator scores an approximate engine against precomputed ground truth.
type Evaluator struct {
	parallelism int
	logger      *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(optFns ...func(o *EvaluatorOptions)) *Evaluator {
	opts := EvaluatorOptions{
		Parallelism: runtime.GOMAXPROCS(0),
		Logger:      slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	return &Evaluator{
		parallelism: opts.Parallelism,
		logger:      opts.Logger,
	}
}

// SearchResult holds the scores of one (oversampling, filtering)
// configuration: one recall per requested K, plus the summed wall-clock
// query time.
type SearchResult struct {
	Search   scenario.Search
	Recalls  []Recall
	Duration time.Duration
}

// GroupReport aggregates one build group's evaluation.
type GroupReport struct {
	Results []SearchResult

	// Score is the arithmetic mean over every recall collected in the
	// group, sentinel values included: a single invalid configuration
	// visibly drags the whole group negative.
	Score float32

	// SearchDuration sums the query wall time across all configurations.
	SearchDuration time.Duration
}

// EvaluateGroup runs every sampled query against the built index for each
// (oversampling, filtering) configuration and each K in recallAt.
//
// Queries of one configuration run in parallel; each worker opens its own
// read session. Per query, the correctness counter counts returned ids
// that appear in the K-truncated ground truth — unless the engine returns
// an id outside an active candidate restriction, which poisons the whole
// configuration with the InvalidRecall sentinel.
func (e *Evaluator) EvaluateGroup(ctx context.Context, builder engine.Builder, group *scenario.Group, cases []QueryCase, recallAt []int) (*GroupReport, error) {
	report := &GroupReport{}

	if len(cases) == 0 || len(recallAt) == 0 {
		return report, nil
	}

	var all []Recall
	for _, search := range group.Search {
		result := SearchResult{Search: search}

		for _, k := range recallAt {
			recall, took, err := e.evaluateConfig(ctx, builder, search, cases, k)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s %s k=%d: %w", group.Contender, search.Filtering, k, err)
			}
			result.Recalls = append(result.Recalls, recall)
			result.Duration += took
		}

		all = append(all, result.Recalls...)
		report.SearchDuration += result.Duration
		report.Results = append(report.Results, result)

		e.logger.Debug("configuration evaluated",
			"contender", group.Contender,
			"oversampling", int(search.Oversampling),
			"filtering", search.Filtering.String(),
			"duration", result.Duration,
		)
	}

	var sum float32
	for _, r := range all {
		sum += float32(r)
	}
	if len(all) > 0 {
		report.Score = sum / float32(len(all))
	}

	return report, nil
}

func (e *Evaluator) evaluateConfig(ctx context.Context, builder engine.Builder, search scenario.Search, cases []QueryCase, k int) (Recall, time.Duration, error) {
	var (
		mu      sync.Mutex
		correct int
		invalid bool
		took    time.Duration
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i := range cases {
		qc := &cases[i]
		g.Go(func() error {
			session, err := builder.OpenSession(gctx)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer session.Close()

			truth, ok := qc.Truth[search.Filtering]
			if !ok {
				return fmt.Errorf("no ground truth for filtering %s", search.Filtering)
			}

			// Ground truth was computed at the maximum K; re-slice for
			// this checkpoint.
			answer := truth.Answer
			if len(answer) > k {
				answer = answer[:k]
			}

			start := time.Now()
			matches, err := session.Search(gctx, engine.Query{
				Item:         &qc.ID,
				K:            k,
				Oversampling: int(search.Oversampling),
				Candidates:   truth.Candidates,
			})
			elapsed := time.Since(start)
			if err != nil {
				return fmt.Errorf("query item %d: %w", qc.ID, err)
			}

			caseCorrect := 0
			caseInvalid := false
			for _, m := range matches {
				switch {
				case slices.Contains(answer, m.ID):
					caseCorrect++
				case truth.Candidates != nil && !truth.Candidates.Contains(m.ID):
					// The engine escaped the candidate restriction; the
					// whole query is invalid no matter what else matched.
					caseInvalid = true
				}
			}

			mu.Lock()
			took += elapsed
			if caseInvalid {
				invalid = true
			} else {
				correct += caseCorrect
			}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	if invalid {
		return InvalidRecall, took, nil
	}

	return Recall(float32(correct) / (float32(k) * float32(len(cases)))), took, nil
}
