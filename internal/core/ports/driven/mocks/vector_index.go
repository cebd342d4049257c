package mocks

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MockVectorIndex is a brute-force cosine index held in memory
type MockVectorIndex struct {
	mu          sync.RWMutex
	dimensions  int
	entries     []*domain.IndexEntry
	failUpserts int
	upsertCalls int
}

// NewMockVectorIndex creates a new MockVectorIndex accepting vectors of size dimensions
func NewMockVectorIndex(dimensions int) *MockVectorIndex {
	return &MockVectorIndex{dimensions: dimensions}
}

func (m *MockVectorIndex) EnsureCollection(ctx context.Context) error {
	return nil
}

func (m *MockVectorIndex) Upsert(ctx context.Context, entries []*domain.IndexEntry) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertCalls++
	if m.failUpserts > 0 {
		m.failUpserts--
		return nil, fmt.Errorf("%w: mock index write timeout", domain.ErrIndexUnavailable)
	}
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(e.Vector), m.dimensions)
		}
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		stored := *e
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		ids[i] = stored.ID
		m.replaceOrAppend(&stored)
	}
	return ids, nil
}

func (m *MockVectorIndex) replaceOrAppend(e *domain.IndexEntry) {
	for i, existing := range m.entries {
		if existing.ID == e.ID {
			m.entries[i] = e
			return
		}
	}
	m.entries = append(m.entries, e)
}

func (m *MockVectorIndex) Query(ctx context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidConfig)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vector), m.dimensions)
	}

	result := make(domain.RetrievalResult, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, domain.RetrievedDocument{
			ID:        e.ID,
			Content:   e.Content,
			SourceRef: e.Metadata[domain.MetaSourceRef],
			Metadata:  e.Metadata,
			Score:     cosine(vector, e.Vector),
		})
	}
	result.SortBySimilarity()
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

func (m *MockVectorIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MockVectorIndex) Dimensions() int {
	return m.dimensions
}

func (m *MockVectorIndex) Metric() domain.DistanceMetric {
	return domain.MetricCosine
}

func (m *MockVectorIndex) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockVectorIndex) Close() error {
	return nil
}

// Helper methods for testing

// FailNextUpserts makes the next n Upsert calls fail with ErrIndexUnavailable
func (m *MockVectorIndex) FailNextUpserts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpserts = n
}

// UpsertCalls returns how many times Upsert was called
func (m *MockVectorIndex) UpsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upsertCalls
}

// Entries returns a snapshot of stored entries
func (m *MockVectorIndex) Entries() []*domain.IndexEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.IndexEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
