package ai

import (
	"fmt"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates AI services based on configuration
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateEmbedder creates an embedder from settings
func (f *Factory) CreateEmbedder(settings *domain.EmbeddingSettings) (driven.Embedder, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI:
		emb, err := NewOpenAIEmbedding(*settings)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case domain.AIProviderOllama:
		emb, err := NewOllamaEmbedding(*settings)
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, settings.Provider)
	}
}

// CreateGenerator creates an answer generator from settings
func (f *Factory) CreateGenerator(settings *domain.GeneratorSettings) (driven.Generator, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI:
		gen, err := NewOpenAIGenerator(*settings)
		if err != nil {
			return nil, err
		}
		return gen, nil
	case domain.AIProviderOllama:
		gen, err := NewOllamaGenerator(*settings)
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("%w: unknown generator provider %q", domain.ErrInvalidConfig, settings.Provider)
	}
}

// ModelDimensions reports the vector size an embedder built from settings
// produces, without contacting the provider. Zero means unknown.
func ModelDimensions(settings domain.EmbeddingSettings) int {
	if settings.Dimensions > 0 {
		return settings.Dimensions
	}
	switch settings.Provider {
	case domain.AIProviderOpenAI:
		model := settings.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		if d, ok := openAIModelDimensions[model]; ok {
			return d
		}
		return 1536
	case domain.AIProviderOllama:
		model := settings.Model
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		return ollamaModelDimensions[model]
	}
	return 0
}
