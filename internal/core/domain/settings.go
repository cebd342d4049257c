package domain

import "fmt"

// AIProvider identifies the AI/embedding provider
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderOllama AIProvider = "ollama"
)

// RequiresAPIKey returns true if this provider requires an API key
func (p AIProvider) RequiresAPIKey() bool {
	switch p {
	case AIProviderOllama:
		return false // Self-hosted, no API key needed
	default:
		return true
	}
}

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderOllama:
		return true
	default:
		return false
	}
}

// EmbeddingSettings configures the embedding service
type EmbeddingSettings struct {
	Provider AIProvider `json:"provider" yaml:"provider"`
	Model    string     `json:"model" yaml:"model"`
	APIKey   string     `json:"-" yaml:"-"` // Never serialize
	BaseURL  string     `json:"base_url,omitempty" yaml:"base_url"`

	// Dimensions overrides the model's known output size (required for unknown Ollama models)
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions"`

	// BatchSize is the largest provider request; a call larger than this is split
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// RequestsPerSecond paces provider requests (0 disables pacing)
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// IsConfigured returns true if embedding settings are properly configured
func (e *EmbeddingSettings) IsConfigured() bool {
	if e.Provider == "" {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// GeneratorSettings configures the answer generation capability
type GeneratorSettings struct {
	Provider AIProvider `json:"provider" yaml:"provider"`
	Model    string     `json:"model" yaml:"model"`
	APIKey   string     `json:"-" yaml:"-"` // Never serialize
	BaseURL  string     `json:"base_url,omitempty" yaml:"base_url"`
}

// IsConfigured returns true if generator settings are properly configured
func (g *GeneratorSettings) IsConfigured() bool {
	if g.Provider == "" {
		return false
	}
	if g.Provider.RequiresAPIKey() && g.APIKey == "" {
		return false
	}
	return true
}

// ChunkUnit is the boundary unit the chunker counts in
type ChunkUnit string

const (
	// ChunkUnitRune counts Unicode characters
	ChunkUnitRune ChunkUnit = "rune"
	// ChunkUnitWord counts words, each carrying its trailing whitespace
	ChunkUnitWord ChunkUnit = "word"
)

// ChunkConfig configures how documents are split
type ChunkConfig struct {
	MaxSize int       `json:"max_size" yaml:"max_size"`
	Overlap int       `json:"overlap" yaml:"overlap"`
	Unit    ChunkUnit `json:"unit" yaml:"unit"`
}

// DefaultChunkConfig mirrors the splitter the service has always used
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxSize: 100,
		Overlap: 0,
		Unit:    ChunkUnitRune,
	}
}

// Validate checks the window parameters
func (c ChunkConfig) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: chunk max size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.MaxSize {
		return fmt.Errorf("%w: chunk overlap %d must be less than max size %d", ErrInvalidConfig, c.Overlap, c.MaxSize)
	}
	switch c.Unit {
	case "", ChunkUnitRune, ChunkUnitWord:
	default:
		return fmt.Errorf("%w: unknown chunk unit %q", ErrInvalidConfig, c.Unit)
	}
	return nil
}

// IDStrategy decides how index entry ids are assigned
type IDStrategy string

const (
	// IDStrategyRandom assigns a fresh id per write; redelivery duplicates entries
	IDStrategyRandom IDStrategy = "random"
	// IDStrategyContent keys entries by source, position and content; redelivery overwrites
	IDStrategyContent IDStrategy = "content"
)

// RetrievalConfig configures the query path
type RetrievalConfig struct {
	// TopK is the default number of passages retrieved per question
	TopK int `json:"top_k" yaml:"top_k"`

	// MaxTopK caps per-request overrides
	MaxTopK int `json:"max_top_k" yaml:"max_top_k"`

	// MaxContextChars bounds the serialized context handed to the generator
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`
}

// DefaultRetrievalConfig returns sensible defaults
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:            2,
		MaxTopK:         50,
		MaxContextChars: 4000,
	}
}

// Validate checks the retrieval limits
func (c RetrievalConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, c.TopK)
	}
	if c.MaxTopK < c.TopK {
		return fmt.Errorf("%w: max_top_k %d is below top_k %d", ErrInvalidConfig, c.MaxTopK, c.TopK)
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max_context_chars must be positive, got %d", ErrInvalidConfig, c.MaxContextChars)
	}
	return nil
}
