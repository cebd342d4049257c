package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// Ensure retriever implements Retriever
var _ driving.Retriever = (*retriever)(nil)

type retriever struct {
	index    driven.VectorIndex
	services *runtime.Services
}

// NewRetriever creates a Retriever over index.
// The query embedder is taken from services at call time.
func NewRetriever(index driven.VectorIndex, services *runtime.Services) driving.Retriever {
	return &retriever{
		index:    index,
		services: services,
	}
}

// Retrieve embeds query and returns the k nearest chunks
func (r *retriever) Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidConfig, k)
	}

	embedder := r.services.Embedder()
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrEmbeddingUnavailable)
	}

	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}

	result, err := r.index.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = domain.RetrievalResult{}
	}
	result.SortBySimilarity()
	return result, nil
}
