package qdrant

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

// DefaultPort is Qdrant's gRPC port
const DefaultPort = 6334

// Payload keys
const (
	payloadContent  = "content"
	payloadMetadata = "metadata"
)

// Config holds Qdrant connection configuration
type Config struct {
	// URL is the Qdrant gRPC endpoint (e.g., http://localhost:6334).
	// https enables TLS; a missing port means DefaultPort.
	URL string

	// APIKey is sent as the api-key header when set
	APIKey string

	// Collection is the logical collection name
	Collection string

	// Dimensions is the vector size the collection accepts
	Dimensions int

	// Timeout bounds each call
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url, collection string, dimensions int) Config {
	return Config{
		URL:        url,
		Collection: collection,
		Dimensions: dimensions,
		Timeout:    15 * time.Second,
	}
}

// Index implements driven.VectorIndex with the Qdrant gRPC client
type Index struct {
	client     *qdrant.Client
	collection string
	dimensions int
	timeout    time.Duration
	ready      atomic.Bool
}

// NewIndex validates the endpoint and returns an index. The connection is
// established lazily; call EnsureCollection before use.
func NewIndex(cfg Config) (*Index, error) {
	ep, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", domain.ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", domain.ErrInvalidConfig, cfg.Dimensions)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   ep.host,
		Port:                   ep.port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 ep.tls,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant client: %v", domain.ErrIndexUnavailable, err)
	}

	return &Index{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
	}, nil
}

type endpoint struct {
	host string
	port int
	tls  bool
}

// parseEndpoint accepts only http(s) URLs
func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, fmt.Errorf("%w: qdrant url is required", domain.ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("%w: qdrant url: %v", domain.ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return endpoint{}, fmt.Errorf("%w: qdrant url must use http or https, got %q", domain.ErrInvalidConfig, raw)
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("%w: qdrant url has no host", domain.ErrInvalidConfig)
	}

	ep := endpoint{host: u.Hostname(), port: DefaultPort, tls: u.Scheme == "https"}
	if p := u.Port(); p != "" {
		ep.port, err = strconv.Atoi(p)
		if err != nil || ep.port <= 0 || ep.port > 65535 {
			return endpoint{}, fmt.Errorf("%w: qdrant url has invalid port %q", domain.ErrInvalidConfig, p)
		}
	}
	return ep, nil
}

func (e endpoint) String() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (x *Index) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, x.timeout)
}

// EnsureCollection creates the collection with cosine distance if it is missing,
// and rejects an existing collection whose vector size differs.
func (x *Index) EnsureCollection(ctx context.Context) error {
	ctx, cancel := x.call(ctx)
	defer cancel()

	info, err := x.client.GetCollectionInfo(ctx, x.collection)
	switch {
	case err == nil:
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != x.dimensions {
			return fmt.Errorf("%w: collection %s has %d dimensions, configured %d",
				domain.ErrDimensionMismatch, x.collection, size, x.dimensions)
		}
		x.ready.Store(true)
		return nil
	case !notFound(err):
		return unavailable("get collection", err)
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return unavailable("create collection", err)
	}
	x.ready.Store(true)
	return nil
}

// Upsert writes entries and waits until they are searchable.
// Qdrant point ids must be UUIDs; entries without an id get a random one.
func (x *Index) Upsert(ctx context.Context, entries []*domain.IndexEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	for i, e := range entries {
		if len(e.Vector) != x.dimensions {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, collection expects %d",
				domain.ErrDimensionMismatch, i, len(e.Vector), x.dimensions)
		}
		if e.ID != "" {
			if _, err := uuid.Parse(e.ID); err != nil {
				return nil, fmt.Errorf("%w: entry %d id %q is not a UUID", domain.ErrInvalidInput, i, e.ID)
			}
		}
	}

	ids := make([]string, len(entries))
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		ids[i] = e.ID
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: payload(e),
		}
	}

	ctx, cancel := x.call(ctx)
	defer cancel()
	if _, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return nil, unavailable("upsert", err)
	}
	return ids, nil
}

func payload(e *domain.IndexEntry) map[string]*qdrant.Value {
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return qdrant.NewValueMap(map[string]any{
		payloadContent:  e.Content,
		payloadMetadata: meta,
	})
}

// Query returns the k nearest entries. A missing collection counts as empty.
func (x *Index) Query(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}
	if len(vector) != x.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			domain.ErrDimensionMismatch, len(vector), x.dimensions)
	}

	ctx, cancel := x.call(ctx)
	defer cancel()
	hits, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if notFound(err) {
		return domain.RetrievalResult{}, nil
	}
	if err != nil {
		return nil, unavailable("query", err)
	}

	result := make(domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		fields := h.GetPayload()
		meta := make(map[string]string)
		for k, v := range fields[payloadMetadata].GetStructValue().GetFields() {
			meta[k] = v.GetStringValue()
		}
		result = append(result, domain.RetrievedDocument{
			ID:        pointID(h.GetId()),
			Content:   fields[payloadContent].GetStringValue(),
			SourceRef: meta[domain.MetaSourceRef],
			Metadata:  meta,
			Score:     float64(h.GetScore()),
		})
	}
	result.SortBySimilarity()
	return result, nil
}

// pointID renders a UUID or numeric point id
func pointID(id *qdrant.PointId) string {
	if s := id.GetUuid(); s != "" {
		return s
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Count returns the exact number of points in the collection
func (x *Index) Count(ctx context.Context) (int, error) {
	ctx, cancel := x.call(ctx)
	defer cancel()
	n, err := x.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: x.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if notFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("count", err)
	}
	return int(n), nil
}

// Dimensions returns the vector size the collection accepts
func (x *Index) Dimensions() int { return x.dimensions }

// Metric returns the collection's distance metric
func (x *Index) Metric() domain.DistanceMetric { return domain.MetricCosine }

// HealthCheck verifies Qdrant is reachable
func (x *Index) HealthCheck(ctx context.Context) error {
	ctx, cancel := x.call(ctx)
	defer cancel()
	if _, err := x.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", unavailable("health", err))
	}
	if !x.ready.Load() {
		return fmt.Errorf("%w: collection %s not initialised", domain.ErrIndexUnavailable, x.collection)
	}
	return nil
}

// Close releases the gRPC connection
func (x *Index) Close() error {
	return x.client.Close()
}

func notFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: qdrant %s: %v", domain.ErrIndexUnavailable, op, err)
}
