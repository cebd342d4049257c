package driven

import "github.com/custodia-labs/sercha-rag/internal/core/domain"

// AIServiceFactory creates AI services from settings
type AIServiceFactory interface {
	// CreateEmbedder creates an embedder. Returns nil, nil when settings are not configured.
	CreateEmbedder(settings *domain.EmbeddingSettings) (Embedder, error)

	// CreateGenerator creates a generator. Returns nil, nil when settings are not configured.
	CreateGenerator(settings *domain.GeneratorSettings) (Generator, error)
}
