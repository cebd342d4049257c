package mocks

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MockEmbedder is a deterministic in-process Embedder for testing
type MockEmbedder struct {
	mu         sync.Mutex
	dimensions int
	model      string
	failures   int
	failAlways bool
	calls      int
	batches    [][]string
}

// NewMockEmbedder creates a new MockEmbedder
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		dimensions: 8,
		model:      "mock-embedding-model",
	}
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.batches = append(m.batches, append([]string(nil), texts...))
	if err := m.nextError(); err != nil {
		return nil, err
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.generateEmbedding(text)
	}
	return result, nil
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if err := m.nextError(); err != nil {
		return nil, err
	}
	return m.generateEmbedding(query), nil
}

func (m *MockEmbedder) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dimensions
}

func (m *MockEmbedder) Model() string {
	return m.model
}

func (m *MockEmbedder) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAlways {
		return domain.ErrEmbeddingUnavailable
	}
	return nil
}

func (m *MockEmbedder) Close() error {
	return nil
}

func (m *MockEmbedder) nextError() error {
	if m.failAlways {
		return fmt.Errorf("%w: mock provider down", domain.ErrEmbeddingUnavailable)
	}
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("%w: mock provider timeout", domain.ErrEmbeddingUnavailable)
	}
	return nil
}

// generateEmbedding generates a deterministic embedding based on text hash
func (m *MockEmbedder) generateEmbedding(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Generate deterministic pseudo-random values
		seed = seed*1103515245 + 12345
		embedding[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return embedding
}

// Helper methods for testing

// FailNext makes the next n calls fail with ErrEmbeddingUnavailable
func (m *MockEmbedder) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// SetFailAlways makes every call fail until cleared
func (m *MockEmbedder) SetFailAlways(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways = fail
}

func (m *MockEmbedder) SetDimensions(dim int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = dim
}

// Calls returns how many Embed/EmbedQuery calls were made
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Batches returns the inputs of every Embed call
func (m *MockEmbedder) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	copy(out, m.batches)
	return out
}
