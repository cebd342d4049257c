package domain

import "sync"

// RuntimeConfig tracks which capabilities are available at runtime.
// Backends are fixed at startup; capability flags follow health checks.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend string // "redis", "postgres" or "memory"
	IndexBackend string // "qdrant", "chromem" or "pgvector"

	// Dynamic capability flags
	embeddingAvailable bool
	generatorAvailable bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend, indexBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend: queueBackend,
		IndexBackend: indexBackend,
	}
}

// EmbeddingAvailable returns whether the embedder is configured and reachable
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// GeneratorAvailable returns whether the answer generator is configured
func (c *RuntimeConfig) GeneratorAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generatorAvailable
}

// SetEmbeddingAvailable updates the embedding availability flag
func (c *RuntimeConfig) SetEmbeddingAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingAvailable = available
}

// SetGeneratorAvailable updates the generator availability flag
func (c *RuntimeConfig) SetGeneratorAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generatorAvailable = available
}

// CanIngest returns true if uploaded documents can be embedded
func (c *RuntimeConfig) CanIngest() bool {
	return c.EmbeddingAvailable()
}

// CanAnswer returns true if chat questions can be answered
func (c *RuntimeConfig) CanAnswer() bool {
	return c.EmbeddingAvailable() && c.GeneratorAvailable()
}
