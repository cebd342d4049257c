package chromem

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

// Config holds the embedded index configuration
type Config struct {
	// Collection is the logical collection name
	Collection string

	// Dimensions is the vector size the collection accepts
	Dimensions int

	// Path persists the collection to disk when set; empty keeps it in memory
	Path string

	// Compress gzips persisted files
	Compress bool
}

// Index implements driven.VectorIndex on an embedded chromem-go database.
// Vectors are supplied by the caller, the collection never embeds on its own.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	cfg        Config
}

// NewIndex opens the database. Call EnsureCollection before use.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", domain.ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", domain.ErrInvalidConfig, cfg.Dimensions)
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrIndexUnavailable, cfg.Path, err)
		}
	}
	return &Index{db: db, cfg: cfg}, nil
}

// callerEmbeddings is handed to chromem so a missing vector is an error
// instead of a silent call to a remote provider.
func callerEmbeddings(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("%w: entry has no vector", domain.ErrInvalidInput)
}

// EnsureCollection creates the collection if missing. A collection reopened
// from disk must hold vectors of the configured size.
func (x *Index) EnsureCollection(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.collection != nil {
		return nil
	}

	if c := x.db.GetCollection(x.cfg.Collection, callerEmbeddings); c != nil {
		if err := x.checkDimensions(ctx, c); err != nil {
			return err
		}
		x.collection = c
		return nil
	}

	meta := map[string]string{
		"metric":     string(domain.MetricCosine),
		"dimensions": fmt.Sprint(x.cfg.Dimensions),
	}
	c, err := x.db.CreateCollection(x.cfg.Collection, meta, callerEmbeddings)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	x.collection = c
	return nil
}

// checkDimensions scores the stored entries against a vector of the
// configured size. chromem keeps collection metadata private, so a length
// error from the scan is the only signal of a size change.
func (x *Index) checkDimensions(ctx context.Context, c *chromem.Collection) error {
	if c.Count() == 0 {
		return nil
	}
	sample := make([]float32, x.cfg.Dimensions)
	for i := range sample {
		sample[i] = 1
	}
	_, err := c.QueryEmbedding(ctx, sample, 1, nil, nil)
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "same length"):
		return fmt.Errorf("%w: collection %q holds vectors of another size, configured %d",
			domain.ErrDimensionMismatch, x.cfg.Collection, x.cfg.Dimensions)
	default:
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
}

func (x *Index) coll() (*chromem.Collection, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.collection == nil {
		return nil, fmt.Errorf("%w: collection %q not initialised", domain.ErrIndexUnavailable, x.cfg.Collection)
	}
	return x.collection, nil
}

// Upsert writes entries. chromem replaces documents that share an ID.
func (x *Index) Upsert(ctx context.Context, entries []*domain.IndexEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	c, err := x.coll()
	if err != nil {
		return nil, err
	}

	for i, e := range entries {
		if len(e.Vector) != x.cfg.Dimensions {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, collection expects %d",
				domain.ErrDimensionMismatch, i, len(e.Vector), x.cfg.Dimensions)
		}
	}

	ids := make([]string, len(entries))
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		ids[i] = e.ID
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Content,
			Metadata:  e.Metadata,
			Embedding: e.Vector,
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	return ids, nil
}

// Query runs an exhaustive cosine search
func (x *Index) Query(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}
	if len(vector) != x.cfg.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			domain.ErrDimensionMismatch, len(vector), x.cfg.Dimensions)
	}
	c, err := x.coll()
	if err != nil {
		return nil, err
	}

	// Score every entry so ties at the k boundary resolve on ID rather than
	// on chromem's concurrent scan order.
	n := c.Count()
	if n == 0 {
		return domain.RetrievalResult{}, nil
	}

	hits, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	result := make(domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		result = append(result, domain.RetrievedDocument{
			ID:        h.ID,
			Content:   h.Content,
			SourceRef: h.Metadata[domain.MetaSourceRef],
			Metadata:  h.Metadata,
			Score:     float64(h.Similarity),
		})
	}
	result.SortBySimilarity()
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

// Count returns the number of stored entries
func (x *Index) Count(ctx context.Context) (int, error) {
	c, err := x.coll()
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Dimensions returns the vector size the collection accepts
func (x *Index) Dimensions() int { return x.cfg.Dimensions }

// Metric returns the collection's distance metric
func (x *Index) Metric() domain.DistanceMetric { return domain.MetricCosine }

// HealthCheck reports whether the collection is open
func (x *Index) HealthCheck(ctx context.Context) error {
	_, err := x.coll()
	return err
}

// Reset drops the collection and recreates it empty
func (x *Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	if err := x.db.DeleteCollection(x.cfg.Collection); err != nil {
		x.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	x.collection = nil
	x.mu.Unlock()
	return x.EnsureCollection(ctx)
}

// Close is a no-op; persistent databases write through on every add
func (x *Index) Close() error {
	return nil
}
