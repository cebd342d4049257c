package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// VectorIndex stores embedded chunks in one logical collection and answers
// nearest-neighbour queries. The distance metric is fixed when the collection
// is created.
type VectorIndex interface {
	// EnsureCollection creates the collection if missing. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Upsert writes entries and returns their ids in input order.
	// Entries without an ID get one assigned. Entries are queryable once this returns.
	// Entries whose vector length differs from Dimensions are rejected before anything is written.
	Upsert(ctx context.Context, entries []*domain.IndexEntry) ([]string, error)

	// Query returns at most k entries ordered by descending similarity.
	// An empty collection yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error)

	// Count returns the number of stored entries
	Count(ctx context.Context) (int, error)

	// Dimensions returns the vector size the collection accepts
	Dimensions() int

	// Metric returns the collection's distance metric
	Metric() domain.DistanceMetric

	// HealthCheck verifies the index is reachable
	HealthCheck(ctx context.Context) error

	// Close releases resources
	Close() error
}
