// Command annbench benchmarks approximate nearest-neighbor engines:
// recall against an exact oracle, indexing time, query time, and on-disk
// index size, over the cross product of dataset, distance, contender,
// oversampling, and candidate-filtering axes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/hupe1980/annbench/bench"
	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/engine/forest"
	"github.com/hupe1980/annbench/engine/weaviate"
	"github.com/hupe1980/annbench/scenario"
)

const randomDatasetSeed = 42

type flags struct {
	datasets      []string
	contenders    []string
	distances     []string
	oversamplings []string
	filterings    []string
	recallTested  string

	count  int
	memory string
	chunks int
	sleep  time.Duration
	trees  int

	parallelism int
	verbose     bool
	csvPath     string

	weaviateOrigin      string
	weaviateScheme      string
	weaviateStoragePath string

	bucketEndpoint  string
	bucketName      string
	bucketAccessKey string
	bucketSecretKey string
	cacheDir        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "annbench",
		Short:         "Benchmark approximate nearest-neighbor engines against an exact oracle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, &f)
		},
	}

	cmd.Flags().StringSliceVar(&f.datasets, "datasets", []string{"random:768"},
		"datasets to measure: <path>:<dims> for a matrix file, s3:<object>:<dims> for a bucket object, random:<dims>[:<n>] for synthetic data")
	cmd.Flags().StringSliceVar(&f.contenders, "contenders", []string{"forest"},
		"engines to measure (forest, weaviate)")
	cmd.Flags().StringSliceVar(&f.distances, "distances", []string{"cosine"},
		"distance metrics (cosine, euclidean, manhattan, dot)")
	cmd.Flags().StringSliceVar(&f.oversamplings, "oversamplings", []string{"x1", "x3"},
		"oversampling factors")
	cmd.Flags().StringSliceVar(&f.filterings, "filterings", []string{"none"},
		"candidate filtering modes (none, 10, 25, 50, 75, 90, 100)")
	cmd.Flags().StringVar(&f.recallTested, "recall-tested", "1,10,20,50,100,500",
		"comma-separated recall checkpoints (K values)")

	cmd.Flags().IntVar(&f.count, "count", 10000, "number of vectors used per dataset (0 = all)")
	cmd.Flags().StringVar(&f.memory, "memory", "", "indexing memory budget, e.g. 2GiB (empty = unbounded)")
	cmd.Flags().IntVar(&f.chunks, "chunks", 1, "number of insert+build phases per dataset")
	cmd.Flags().DurationVar(&f.sleep, "sleep-between-chunks", 0, "pause before each chunk")
	cmd.Flags().IntVar(&f.trees, "trees", 0, "pin the engine tree count (0 = engine decides)")

	cmd.Flags().IntVar(&f.parallelism, "parallelism", 0, "query worker count (0 = GOMAXPROCS)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable the metrics table and progress logging")
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "write the machine-readable record stream to this file")

	cmd.Flags().StringVar(&f.weaviateOrigin, "weaviate-origin", "localhost:8080", "weaviate host:port")
	cmd.Flags().StringVar(&f.weaviateScheme, "weaviate-scheme", "http", "weaviate URL scheme")
	cmd.Flags().StringVar(&f.weaviateStoragePath, "weaviate-storage-path", "",
		"local weaviate data directory, used to measure the index size on disk")

	cmd.Flags().StringVar(&f.bucketEndpoint, "bucket-endpoint", "", "S3-compatible endpoint for s3: datasets")
	cmd.Flags().StringVar(&f.bucketName, "bucket-name", "annbench-datasets", "bucket holding dataset matrix files")
	cmd.Flags().StringVar(&f.bucketAccessKey, "bucket-access-key", "", "bucket access key")
	cmd.Flags().StringVar(&f.bucketSecretKey, "bucket-secret-key", "", "bucket secret key")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", defaultCacheDir(), "local cache for downloaded datasets")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	recallAt, err := parseRecallAt(f.recallTested)
	if err != nil {
		return err
	}

	var memory uint64
	if f.memory != "" {
		memory, err = humanize.ParseBytes(f.memory)
		if err != nil {
			return fmt.Errorf("invalid memory budget %q: %w", f.memory, err)
		}
	}

	metrics, err := parseMetrics(f.distances)
	if err != nil {
		return err
	}

	oversamplings, err := parseOversamplings(f.oversamplings)
	if err != nil {
		return err
	}

	filterings, err := parseFilterings(f.filterings)
	if err != nil {
		return err
	}

	sources, err := openSources(ctx, f)
	if err != nil {
		return err
	}
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()

	contenders, err := buildContenders(f, logger)
	if err != nil {
		return err
	}

	datasetNames := make([]string, 0, len(sources))
	for name := range sources {
		datasetNames = append(datasetNames, name)
	}

	groups := scenario.Plan(datasetNames, metrics, f.contenders, oversamplings, filterings)

	var csvOut *os.File
	if f.csvPath != "" {
		csvOut, err = os.Create(f.csvPath)
		if err != nil {
			return fmt.Errorf("create csv output: %w", err)
		}
		defer csvOut.Close()
	}

	runner := bench.NewRunner(contenders, sources, func(o *bench.RunnerOptions) {
		o.Count = f.count
		o.Memory = memory
		o.Chunks = f.chunks
		o.SleepBetweenChunks = f.sleep
		o.Trees = f.trees
		o.RecallAt = recallAt
		o.Parallelism = f.parallelism
		o.Verbose = f.verbose
		o.Logger = logger
		if csvOut != nil {
			o.CSV = csvOut
		}
	})

	return runner.Run(ctx, groups)
}

// openSources resolves every dataset flag entry into a named source.
func openSources(ctx context.Context, f *flags) (map[string]dataset.Source, error) {
	var fetcher *dataset.Fetcher
	if f.bucketEndpoint != "" {
		client, err := minio.New(f.bucketEndpoint, &minio.Options{
			Creds: credentials.NewStaticV4(f.bucketAccessKey, f.bucketSecretKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("bucket client: %w", err)
		}
		fetcher = dataset.NewFetcher(client, f.bucketName, f.cacheDir)
	}

	sources := make(map[string]dataset.Source, len(f.datasets))
	for _, spec := range f.datasets {
		src, err := openSource(ctx, spec, f.count, fetcher)
		if err != nil {
			return nil, err
		}
		if _, dup := sources[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate dataset name %q", src.Name())
		}
		sources[src.Name()] = src
	}

	return sources, nil
}

func openSource(ctx context.Context, spec string, count int, fetcher *dataset.Fetcher) (dataset.Source, error) {
	switch {
	case strings.HasPrefix(spec, "random:"):
		dims, n, err := parseRandomSpec(spec, count)
		if err != nil {
			return nil, err
		}
		return dataset.NewRandomSource("random", n, dims, randomDatasetSeed), nil

	case strings.HasPrefix(spec, "s3:"):
		object, dims, err := splitDims(strings.TrimPrefix(spec, "s3:"))
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", spec, err)
		}
		if fetcher == nil {
			return nil, fmt.Errorf("dataset %q needs --bucket-endpoint", spec)
		}
		local, err := fetcher.Fetch(ctx, object)
		if err != nil {
			return nil, err
		}
		return dataset.OpenMatrix(local, dims)

	default:
		path, dims, err := splitDims(spec)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", spec, err)
		}
		return dataset.OpenMatrix(path, dims)
	}
}

// parseRandomSpec parses "random:<dims>[:<n>]". The point count falls
// back to the run's --count so a synthetic dataset is exactly as large as
// the measured slice.
func parseRandomSpec(spec string, count int) (dims, n int, err error) {
	parts := strings.Split(strings.TrimPrefix(spec, "random:"), ":")
	if len(parts) < 1 || len(parts) > 2 {
		return 0, 0, fmt.Errorf("dataset %q: want random:<dims>[:<n>]", spec)
	}

	dims, err = strconv.Atoi(parts[0])
	if err != nil || dims <= 0 {
		return 0, 0, fmt.Errorf("dataset %q: invalid dimensions %q", spec, parts[0])
	}

	n = count
	if len(parts) == 2 {
		n, err = strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("dataset %q: invalid count %q", spec, parts[1])
		}
	}
	if n <= 0 {
		n = 10000
	}

	return dims, n, nil
}

// splitDims splits "<prefix>:<dims>" on the last colon.
func splitDims(s string) (prefix string, dims int, err error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("missing :<dims> suffix")
	}
	dims, err = strconv.Atoi(s[i+1:])
	if err != nil || dims <= 0 {
		return "", 0, fmt.Errorf("invalid dimensions %q", s[i+1:])
	}
	return s[:i], dims, nil
}

func buildContenders(f *flags, logger *slog.Logger) (map[string]engine.Contender, error) {
	contenders := make(map[string]engine.Contender, len(f.contenders))
	for _, name := range f.contenders {
		switch name {
		case "forest":
			contenders[name] = forest.New(func(o *forest.Options) {
				o.Logger = logger
			})
		case "weaviate":
			c, err := weaviate.New(f.weaviateOrigin, func(o *weaviate.Options) {
				o.Scheme = f.weaviateScheme
				o.StoragePath = f.weaviateStoragePath
				o.Logger = logger
			})
			if err != nil {
				return nil, err
			}
			contenders[name] = c
		default:
			return nil, fmt.Errorf("unknown contender %q", name)
		}
	}
	return contenders, nil
}

func parseRecallAt(s string) ([]int, error) {
	var recallAt []int
	for _, part := range strings.Split(s, ",") {
		k, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || k < 1 {
			return nil, fmt.Errorf("invalid recall checkpoint %q", part)
		}
		recallAt = append(recallAt, k)
	}
	return recallAt, nil
}

func parseMetrics(names []string) ([]distance.Metric, error) {
	metrics := make([]distance.Metric, len(names))
	for i, name := range names {
		m, err := distance.ParseMetric(name)
		if err != nil {
			return nil, err
		}
		metrics[i] = m
	}
	return metrics, nil
}

func parseOversamplings(values []string) ([]scenario.Oversampling, error) {
	oversamplings := make([]scenario.Oversampling, len(values))
	for i, v := range values {
		o, err := scenario.ParseOversampling(v)
		if err != nil {
			return nil, err
		}
		oversamplings[i] = o
	}
	return oversamplings, nil
}

func parseFilterings(values []string) ([]scenario.Filtering, error) {
	filterings := make([]scenario.Filtering, len(values))
	for i, v := range values {
		f, err := scenario.ParseFiltering(v)
		if err != nil {
			return nil, err
		}
		filterings[i] = f
	}
	return filterings, nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return dir + "/annbench"
}
