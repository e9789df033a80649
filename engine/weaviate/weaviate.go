// Package weaviate implements the remote contender: an index served by a
// Weaviate instance reached over HTTP.
//
// Points are mirrored into a dedicated class whose objects carry their
// numeric id both as a deterministic UUID and as an `ident` integer
// property. Candidate restrictions translate to a server-side range
// filter over `ident`, which is exact because candidate sets are always
// a prefix of the natural id order.
package weaviate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
)

const (
	defaultClassName   = "Benchmark"
	defaultBatchSize   = 1000
	defaultWaitTimeout = 30 * time.Minute

	identProperty = "ident"
)

// Options configures the remote contender.
type Options struct {
	// Origin is the host:port of the Weaviate HTTP endpoint.
	Origin string

	// Scheme is the URL scheme, http or https.
	Scheme string

	// ClassName is the class holding the benchmark objects. The class is
	// dropped and recreated on every build group.
	ClassName string

	// StoragePath, if set, is the local filesystem path of the instance's
	// data directory; the database size stat sums the class shards found
	// under it. Empty leaves the stat at zero.
	StoragePath string

	// BatchSize is the number of objects per import batch.
	BatchSize int

	// WaitTimeout bounds how long a build waits for the instance to
	// finish indexing.
	WaitTimeout time.Duration

	Logger *slog.Logger
}

// Contender is the remote Weaviate engine.
type Contender struct {
	opts   Options
	client *weaviate.Client
}

var _ engine.Contender = (*Contender)(nil)

// New creates the remote contender. The connection is lazy; the instance
// is first contacted when a build starts.
func New(origin string, optFns ...func(o *Options)) (*Contender, error) {
	opts := Options{
		Origin:      origin,
		Scheme:      "http",
		ClassName:   defaultClassName,
		BatchSize:   defaultBatchSize,
		WaitTimeout: defaultWaitTimeout,
		Logger:      slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 10
	retryClient.Logger = nil

	client, err := weaviate.NewClient(weaviate.Config{
		Host:             opts.Origin,
		Scheme:           opts.Scheme,
		ConnectionClient: retryClient.StandardClient(),
		StartupTimeout:   60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate: create client: %w", err)
	}

	return &Contender{opts: opts, client: client}, nil
}

// Name implements engine.Contender.
func (c *Contender) Name() string { return "weaviate" }

// NewBuilder implements engine.Contender, dropping any previous class of
// the same name and creating a fresh one tuned for the requested metric.
func (c *Contender) NewBuilder(ctx context.Context, spec engine.BuildSpec) (engine.Builder, error) {
	if spec.Dimensions <= 0 {
		return nil, fmt.Errorf("weaviate: dimensions must be positive, got %d", spec.Dimensions)
	}

	metric, err := indexDistance(spec.Metric)
	if err != nil {
		return nil, err
	}

	// Ignore the delete error: the class may simply not exist yet.
	_ = c.client.Schema().ClassDeleter().WithClassName(c.opts.ClassName).Do(ctx)

	class := &models.Class{
		Class:      c.opts.ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{{
			Name:     identProperty,
			DataType: []string{"int"},
		}},
		VectorIndexConfig: map[string]interface{}{
			"distance": metric,
		},
	}

	if err := c.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return nil, fmt.Errorf("weaviate: create class %s: %w", c.opts.ClassName, err)
	}

	return &builder{opts: c.opts, spec: spec, client: c.client}, nil
}

// indexDistance maps a benchmark metric to the Weaviate vector index
// distance name.
func indexDistance(m distance.Metric) (string, error) {
	switch m {
	case distance.MetricCosine:
		return "cosine", nil
	case distance.MetricEuclidean:
		return "l2-squared", nil
	case distance.MetricManhattan:
		return "manhattan", nil
	case distance.MetricDot:
		return "dot", nil
	default:
		return "", fmt.Errorf("weaviate: unsupported metric %s", m)
	}
}

type builder struct {
	opts   Options
	spec   engine.BuildSpec
	client *weaviate.Client

	inserted uint64
}

var _ engine.Builder = (*builder)(nil)

// InsertChunk implements engine.Builder, importing the chunk in batches.
func (b *builder) InsertChunk(ctx context.Context, points []dataset.Point) error {
	for start := 0; start < len(points); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(points))

		batch := b.client.Batch().ObjectsBatcher()
		for _, p := range points[start:end] {
			if len(p.Vector) != b.spec.Dimensions {
				return fmt.Errorf("weaviate: item %d has %d dimensions, want %d",
					p.ID, len(p.Vector), b.spec.Dimensions)
			}
			batch = batch.WithObjects(&models.Object{
				Class: b.opts.ClassName,
				ID:    strfmt.UUID(uuidFromID(p.ID)),
				Properties: map[string]interface{}{
					identProperty: int64(p.ID),
				},
				Vector: models.C11yVector(p.Vector),
			})
		}

		resp, err := batch.Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate: import batch: %w", err)
		}
		for _, obj := range resp {
			if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
				return fmt.Errorf("weaviate: import object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
			}
		}

		b.inserted += uint64(end - start)
		if b.spec.Progress != nil {
			b.spec.Progress(engine.ProgressEvent{
				Stage:   "importing objects",
				Current: b.inserted,
			})
		}
	}

	return nil
}

// Build implements engine.Builder. Weaviate indexes asynchronously, so
// building means waiting for every shard of the class to report ready.
func (b *builder) Build(ctx context.Context) error {
	deadline := time.Now().Add(b.opts.WaitTimeout)

	for {
		shards, err := b.client.Schema().ShardsGetter().WithClassName(b.opts.ClassName).Do(ctx)
		if err == nil {
			ready := true
			for _, shard := range shards {
				if shard.Status != "READY" {
					ready = false
					break
				}
			}
			if ready {
				return nil
			}
		} else {
			b.opts.Logger.Warn("shard status poll failed", "error", err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("weaviate: class %s not ready after %s", b.opts.ClassName, b.opts.WaitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Stats implements engine.Builder. The database size is measured from the
// instance's storage directory when one was configured; a remote-only
// setup reports zero.
func (b *builder) Stats(context.Context) (engine.Stats, error) {
	if b.opts.StoragePath == "" {
		return engine.Stats{}, nil
	}

	var size uint64
	err := filepath.WalkDir(b.opts.StoragePath, func(_ string, d fs.DirEntry, err error) error {
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
		return engine.Stats{}, fmt.Errorf("weaviate: walk storage path: %w", err)
	}

	return engine.Stats{DatabaseBytes: size}, nil
}

// OpenSession implements engine.Builder. The underlying HTTP client is
// safe for concurrent use, so sessions are cheap views.
func (b *builder) OpenSession(context.Context) (engine.Session, error) {
	return &session{opts: b.opts, client: b.client}, nil
}

// Close implements engine.Builder, dropping the benchmark class.
func (b *builder) Close() error {
	return b.client.Schema().ClassDeleter().WithClassName(b.opts.ClassName).Do(context.Background())
}

type session struct {
	opts   Options
	client *weaviate.Client
}

var _ engine.Session = (*session)(nil)

// Search implements engine.Session through a GraphQL Get query: nearObject
// for by-item queries, nearVector for explicit vectors, with the candidate
// restriction expressed as an ident range filter.
func (s *session) Search(ctx context.Context, q engine.Query) ([]engine.Match, error) {
	if q.K <= 0 {
		return nil, nil
	}

	if q.Candidates != nil && q.Candidates.IsEmpty() {
		return nil, nil
	}

	oversampling := q.Oversampling
	if oversampling < 1 {
		oversampling = 1
	}

	get := s.client.GraphQL().Get().
		WithClassName(s.opts.ClassName).
		WithFields(
			graphql.Field{Name: identProperty},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithLimit(q.K * oversampling)

	switch {
	case q.Item != nil:
		get = get.WithNearObject(s.client.GraphQL().NearObjectArgBuilder().WithID(uuidFromID(*q.Item)))
	case q.Vector != nil:
		get = get.WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(q.Vector))
	default:
		return nil, errors.New("weaviate: query needs an item id or a vector")
	}

	if q.Candidates != nil {
		lo, hi := q.Candidates.Bounds()
		get = get.WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().WithPath([]string{identProperty}).WithOperator(filters.GreaterThanEqual).WithValueInt(int64(lo)),
				filters.Where().WithPath([]string{identProperty}).WithOperator(filters.LessThanEqual).WithValueInt(int64(hi)),
			}))
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: search: %s", resp.Errors[0].Message)
	}

	matches, err := parseMatches(resp.Data, s.opts.ClassName)
	if err != nil {
		return nil, err
	}
	if len(matches) > q.K {
		matches = matches[:q.K]
	}
	return matches, nil
}

func (s *session) Close() error { return nil }

// parseMatches unpacks the GraphQL Get payload into ordered matches.
func parseMatches(data map[string]models.JSONObject, className string) ([]engine.Match, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, errors.New("weaviate: malformed response: missing Get")
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return nil, fmt.Errorf("weaviate: malformed response: missing class %s", className)
	}

	matches := make([]engine.Match, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.New("weaviate: malformed response: object is not a map")
		}

		ident, ok := obj[identProperty].(float64)
		if !ok {
			return nil, errors.New("weaviate: malformed response: missing ident")
		}

		var dist float32
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				dist = float32(d)
			}
		}

		matches = append(matches, engine.Match{ID: uint32(ident), Distance: dist})
	}

	return matches, nil
}

// uuidFromID maps a numeric item id to a stable UUID by writing it into
// the low 8 bytes.
func uuidFromID(id uint32) string {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[8:], uint64(id))
	u, err := uuid.FromBytes(b)
	if err != nil {
		panic(err) // 16 bytes by construction
	}
	return u.String()
}

// idFromUUID is the inverse of uuidFromID.
func idFromUUID(s string) (uint32, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("weaviate: parse uuid: %w", err)
	}
	return uint32(binary.BigEndian.Uint64(u[8:])), nil
}
