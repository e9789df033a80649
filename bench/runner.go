package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/scenario"
)

// RunnerOptions configures a benchmark run.
type RunnerOptions struct {
	// Count caps how many vectors of each dataset are used. Zero means
	// all of them.
	Count int

	// Memory is the byte budget handed to engines for indexing. Zero
	// means unbounded.
	Memory uint64

	// Chunks splits each dataset into this many insert+build phases.
	Chunks int

	// SleepBetweenChunks pauses the driving loop before each chunk,
	// which makes build phases easy to separate in a profiler.
	SleepBetweenChunks time.Duration

	// Trees pins the engine tree count. Zero lets engines decide.
	Trees int

	// RecallAt lists the recall checkpoints (K values) to score.
	RecallAt []int

	// Parallelism is the query-worker count handed to the evaluator.
	Parallelism int

	// Verbose enables the metrics table and build-progress logging.
	Verbose bool

	Logger *slog.Logger

	// Out receives the human-readable report. Defaults to os.Stdout.
	Out io.Writer

	// CSV, if non-nil, receives the machine-readable record stream.
	CSV io.Writer
}

// Runner executes planned scenario groups against registered contenders.
type Runner struct {
	contenders map[string]engine.Contender
	sources    map[string]dataset.Source
	opts       RunnerOptions

	evaluator *Evaluator

	csvHeader bool
	lastDS    string
}

// NewRunner creates a Runner over the given contenders and dataset
// sources, both keyed by the names used on the scenario axes.
func NewRunner(contenders map[string]engine.Contender, sources map[string]dataset.Source, optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Chunks:      1,
		Parallelism: runtime.GOMAXPROCS(0),
		Logger:      slog.Default(),
		Out:         os.Stdout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Chunks < 1 {
		opts.Chunks = 1
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}

	return &Runner{
		contenders: contenders,
		sources:    sources,
		opts:       opts,
		evaluator: NewEvaluator(func(o *EvaluatorOptions) {
			o.Parallelism = opts.Parallelism
			o.Logger = opts.Logger
		}),
	}
}

// Run executes all groups in order. The first engine failure aborts the
// run; a partial report would be misleading for a recall benchmark.
func (r *Runner) Run(ctx context.Context, groups []scenario.Group) error {
	for i := range groups {
		if err := r.runGroup(ctx, &groups[i]); err != nil {
			return fmt.Errorf("group %s/%s/%s: %w",
				groups[i].Dataset, groups[i].Metric, groups[i].Contender, err)
		}
		fmt.Fprintln(r.opts.Out)
	}
	return nil
}

func (r *Runner) runGroup(ctx context.Context, group *scenario.Group) error {
	src, ok := r.sources[group.Dataset]
	if !ok {
		return fmt.Errorf("unknown dataset %q", group.Dataset)
	}

	contender, ok := r.contenders[group.Contender]
	if !ok {
		return fmt.Errorf("unknown contender %q", group.Contender)
	}

	points, err := dataset.Collect(src, r.opts.Count)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("dataset %q is empty", group.Dataset)
	}

	if r.lastDS != group.Dataset {
		r.lastDS = group.Dataset
		fmt.Fprintf(r.opts.Out, "\x1b[1m%s\x1b[0m: \x1b[1m%d\x1b[0m vectors are used for this measure\n",
			group.Dataset, len(points))
		fmt.Fprintf(r.opts.Out, "Recall tested is: %s\n", formatRecallAt(r.opts.RecallAt))
	}

	maxK := 0
	if len(r.opts.RecallAt) > 0 {
		maxK = slices.Max(r.opts.RecallAt)
	}

	cases, err := SampleQueries(ctx, points, group.Metric, group.Filterings(), maxK, r.opts.Parallelism)
	if err != nil {
		return err
	}

	var progress *ProgressLogger
	spec := engine.BuildSpec{
		Dimensions: src.Dimensions(),
		Metric:     group.Metric,
		Memory:     r.opts.Memory,
		Trees:      r.opts.Trees,
	}
	if r.opts.Verbose {
		progress = NewProgressLogger(r.opts.Logger)
		defer progress.Stop()
		spec.Progress = progress.Sink
	}

	builder, err := contender.NewBuilder(ctx, spec)
	if err != nil {
		return fmt.Errorf("new builder: %w", err)
	}
	defer builder.Close()

	r.opts.Logger.Info("starting indexing process",
		"contender", group.Contender,
		"vectors", len(points),
		"chunks", r.opts.Chunks,
	)

	metrics, err := r.buildChunked(ctx, builder, points)
	if err != nil {
		return err
	}

	if r.opts.Verbose {
		fmt.Fprint(r.opts.Out, metrics.Render())
	}

	report, err := r.evaluator.EvaluateGroup(ctx, builder, group, cases, r.opts.RecallAt)
	if err != nil {
		return err
	}

	r.printBanner(group, metrics, report)

	if r.opts.CSV != nil {
		r.writeCSV(metrics, report)
	}

	return nil
}

// buildChunked drives the sequential insert+build loop; chunks must run in
// program order because later builds extend earlier chunks' on-disk state.
func (r *Runner) buildChunked(ctx context.Context, builder engine.Builder, points []dataset.Point) (*IndexingMetrics, error) {
	chunkSize := len(points) / r.opts.Chunks
	if chunkSize < 1 {
		chunkSize = 1
	}

	metrics := NewIndexingMetrics()
	inserted := 0

	for chunk := range slices.Chunk(points, chunkSize) {
		if r.opts.SleepBetweenChunks > 0 {
			time.Sleep(r.opts.SleepBetweenChunks)
		}

		r.opts.Logger.Info("inserting chunk", "size", len(chunk))

		metrics.StartInsertion()
		if err := builder.InsertChunk(ctx, chunk); err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
		metrics.EndInsertion()

		r.opts.Logger.Info("building index")

		metrics.StartBuilding()
		if err := builder.Build(ctx); err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
		metrics.EndBuilding()

		stats, err := builder.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}

		inserted += len(chunk)
		metrics.NewNbVectors(inserted)
		metrics.NewNbTrees(stats.Trees)
		metrics.NewDatabaseSize(stats.DatabaseBytes)
	}

	metrics.End()
	return metrics, nil
}

func (r *Runner) printBanner(group *scenario.Group, metrics *IndexingMetrics, report *GroupReport) {
	var dbSize uint64
	if sizes := metrics.DatabaseSizes(); len(sizes) > 0 {
		dbSize = sizes[len(sizes)-1]
	}

	for _, result := range report.Results {
		// A group without restriction searches the whole dataset, which
		// reads as 100%.
		pct := result.Search.Filtering.Ratio() * 100
		if result.Search.Filtering == scenario.NoFilter {
			pct = 100
		}

		fmt.Fprintf(r.opts.Out,
			"[%s] %-10s %s: %s, indexed for: %s, searched for: %s, size on disk: %s, searched in %.2f%%\n",
			group.Contender,
			group.Metric,
			result.Search.Oversampling,
			formatRecalls(result.Recalls),
			metrics.TotalDuration().Round(time.Millisecond),
			result.Duration.Round(time.Millisecond),
			humanize.IBytes(dbSize),
			pct,
		)
	}
}

func (r *Runner) writeCSV(metrics *IndexingMetrics, report *GroupReport) {
	if !r.csvHeader {
		r.csvHeader = true
		cols := []string{"nb_vectors", "nb_trees", "db_size_bytes", "recall_score"}
		for _, k := range r.opts.RecallAt {
			cols = append(cols, fmt.Sprintf("recall@%d", k))
		}
		fmt.Fprintln(r.opts.CSV, strings.Join(cols, ","))
	}

	// Mean recall per checkpoint across the group's configurations,
	// sentinels included so violations stay visible in the stream.
	perK := make([]float32, len(r.opts.RecallAt))
	if len(report.Results) > 0 {
		for _, result := range report.Results {
			for i, rec := range result.Recalls {
				perK[i] += float32(rec)
			}
		}
		for i := range perK {
			perK[i] /= float32(len(report.Results))
		}
	}

	vectors := metrics.NbVectors()
	trees := metrics.NbTrees()
	sizes := metrics.DatabaseSizes()

	for i := 0; i < metrics.Chunks(); i++ {
		fields := []string{
			strconv.Itoa(vectors[i]),
			strconv.Itoa(trees[i]),
			strconv.FormatUint(sizes[i], 10),
			fmt.Sprintf("%.2f", report.Score),
		}
		for _, v := range perK {
			fields = append(fields, fmt.Sprintf("%.2f", v))
		}
		fmt.Fprintln(r.opts.CSV, strings.Join(fields, ","))
	}
}

func formatRecallAt(recallAt []int) string {
	parts := make([]string, len(recallAt))
	for i, k := range recallAt {
		parts[i] = fmt.Sprintf("%4d", k)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
