package driving

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Retriever finds the indexed chunks most similar to a query
type Retriever interface {
	// Retrieve returns at most k documents ordered by descending similarity.
	// An empty index yields an empty result, not an error.
	Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error)
}

// ChatService answers questions grounded in retrieved documents
type ChatService interface {
	// Answer retrieves context for query and asks the generator to answer it
	Answer(ctx context.Context, query string, opts domain.AnswerOptions) (*domain.Answer, error)
}
