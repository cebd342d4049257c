package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Services holds the process-wide resources shared by the upload boundary,
// the worker pool and the chat path. The queue and index are fixed once
// opened; the AI services can be swapped while running.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	// Config tracks capability flags
	config *domain.RuntimeConfig

	queue driven.JobQueue
	index driven.VectorIndex

	// Dynamic services (can be nil, updated at runtime)
	embedder  driven.Embedder
	generator driven.Generator
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig) *Services {
	return &Services{
		config: config,
	}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// Queue returns the ingestion queue (may be nil before Open)
func (s *Services) Queue() driven.JobQueue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue
}

// Index returns the vector index (may be nil before Open)
func (s *Services) Index() driven.VectorIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// SetQueue sets the ingestion queue
func (s *Services) SetQueue(q driven.JobQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
}

// SetIndex sets the vector index
func (s *Services) SetIndex(idx driven.VectorIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = idx
}

// Embedder returns the current embedder (may be nil)
func (s *Services) Embedder() driven.Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

// Generator returns the current generator (may be nil)
func (s *Services) Generator() driven.Generator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generator
}

// SetEmbedder updates the embedder.
// Closes the old one if present. Updates config flags.
func (s *Services) SetEmbedder(e driven.Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedder != nil && s.embedder != e {
		_ = s.embedder.Close()
	}

	s.embedder = e
	s.config.SetEmbeddingAvailable(e != nil)
}

// SetGenerator updates the generator.
// Closes the old one if present. Updates config flags.
func (s *Services) SetGenerator(g driven.Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator != nil && s.generator != g {
		_ = s.generator.Close()
	}

	s.generator = g
	s.config.SetGeneratorAvailable(g != nil)
}

// ValidateAndSetEmbedder checks connectivity and that the embedder's
// dimensions match the open index before installing it.
func (s *Services) ValidateAndSetEmbedder(ctx context.Context, e driven.Embedder) error {
	if e == nil {
		s.SetEmbedder(nil)
		return nil
	}

	if idx := s.Index(); idx != nil && idx.Dimensions() != e.Dimensions() {
		_ = e.Close()
		return domain.ErrDimensionMismatch
	}

	if err := e.HealthCheck(ctx); err != nil {
		_ = e.Close()
		return err
	}

	s.SetEmbedder(e)
	return nil
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
		s.embedder = nil
	}
	if s.generator != nil {
		errs = append(errs, s.generator.Close())
		s.generator = nil
	}
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
		s.queue = nil
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
		s.index = nil
	}

	s.config.SetEmbeddingAvailable(false)
	s.config.SetGeneratorAvailable(false)

	return errors.Join(errs...)
}
