package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var _ driven.Generator = (*LLMGenerator)(nil)

const (
	defaultOpenAIChatModel = "gpt-3.5-turbo"
	defaultOllamaChatModel = "llama3.2"
	generatorTimeout       = 120 * time.Second
)

// LLMGenerator answers questions through any langchaingo chat model.
// The retrieved context goes in as the system message and the question as
// the human message.
type LLMGenerator struct {
	llm        llms.Model
	model      string
	httpClient *http.Client
}

// NewOpenAIGenerator creates a generator for OpenAI or an OpenAI-compatible endpoint
func NewOpenAIGenerator(settings domain.GeneratorSettings) (*LLMGenerator, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", domain.ErrInvalidConfig)
	}
	model := settings.Model
	if model == "" {
		model = defaultOpenAIChatModel
	}

	httpClient := &http.Client{Timeout: generatorTimeout}
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(settings.APIKey, "Bearer ")),
		openai.WithModel(model),
		openai.WithHTTPClient(httpClient),
	}
	if settings.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: openai client: %v", domain.ErrInvalidConfig, err)
	}
	return &LLMGenerator{llm: llm, model: model, httpClient: httpClient}, nil
}

// NewOllamaGenerator creates a generator backed by a self-hosted Ollama model
func NewOllamaGenerator(settings domain.GeneratorSettings) (*LLMGenerator, error) {
	model := settings.Model
	if model == "" {
		model = defaultOllamaChatModel
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: ollama url: %v", domain.ErrInvalidConfig, err)
	}

	httpClient := &http.Client{Timeout: generatorTimeout}
	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama client: %v", domain.ErrInvalidConfig, err)
	}
	return &LLMGenerator{llm: llm, model: model, httpClient: httpClient}, nil
}

// NewLLMGenerator wraps an existing langchaingo model
func NewLLMGenerator(llm llms.Model, model string) *LLMGenerator {
	return &LLMGenerator{llm: llm, model: model}
}

// Generate answers userQuery given a system context
func (g *LLMGenerator) Generate(ctx context.Context, systemContext, userQuery string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemContext),
		llms.TextParts(llms.ChatMessageTypeHuman, userQuery),
	}

	resp, err := g.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", domain.ErrGenerationUnavailable, g.model)
	}
	return resp.Choices[0].Content, nil
}

// Model returns the model name being used
func (g *LLMGenerator) Model() string { return g.model }

// Close releases idle connections
func (g *LLMGenerator) Close() error {
	if g.httpClient != nil {
		g.httpClient.CloseIdleConnections()
	}
	return nil
}
