package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.Embedder = (*OllamaEmbedding)(nil)

const (
	defaultOllamaURL            = "http://localhost:11434"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

var ollamaModelDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
	"bge-m3":            1024,
}

// OllamaEmbedding implements Embedder against a self-hosted Ollama server
type OllamaEmbedding struct {
	model      string
	dimensions int
	batchSize  int
	limiter    *rate.Limiter
	httpClient *http.Client
	embedder   *embeddings.EmbedderImpl
}

// NewOllamaEmbedding creates a new Ollama embedder. Models missing from the
// built-in table need settings.Dimensions.
func NewOllamaEmbedding(settings domain.EmbeddingSettings) (*OllamaEmbedding, error) {
	model := settings.Model
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	// ollama.WithServerURL exits the process on a malformed URL
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: ollama url: %v", domain.ErrInvalidConfig, err)
	}

	dimensions := settings.Dimensions
	if dimensions <= 0 {
		var ok bool
		if dimensions, ok = ollamaModelDimensions[model]; !ok {
			return nil, fmt.Errorf("%w: unknown dimensions for ollama model %q, set embedding.dimensions", domain.ErrInvalidConfig, model)
		}
	}

	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultEmbedTimeoutSec * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama client: %v", domain.ErrInvalidConfig, err)
	}

	batchSize := batchSizeOrDefault(settings.BatchSize)
	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embedder: %v", domain.ErrInvalidConfig, err)
	}

	return &OllamaEmbedding{
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
		limiter:    newLimiter(settings.RequestsPerSecond),
		httpClient: httpClient,
		embedder:   embedder,
	}, nil
}

// Embed generates one vector per text
func (e *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedInBatches(ctx, texts, e.batchSize, e.limiter, e.embedBatch)
}

func (e *OllamaEmbedding) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", domain.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a search query
func (e *OllamaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions returns the embedding dimension size
func (e *OllamaEmbedding) Dimensions() int { return e.dimensions }

// Model returns the model name being used
func (e *OllamaEmbedding) Model() string { return e.model }

// HealthCheck embeds a short sample and checks its size
func (e *OllamaEmbedding) HealthCheck(ctx context.Context) error {
	v, err := e.EmbedQuery(ctx, "health check")
	if err != nil {
		return err
	}
	if len(v) != e.dimensions {
		return fmt.Errorf("%w: ollama model %s returned %d dimensions, configured %d",
			domain.ErrDimensionMismatch, e.model, len(v), e.dimensions)
	}
	return nil
}

// Close releases idle connections
func (e *OllamaEmbedding) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
