package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MockLoader returns preset text per path
type MockLoader struct {
	mu    sync.Mutex
	texts map[string]string
	calls int
}

// NewMockLoader creates a new MockLoader
func NewMockLoader() *MockLoader {
	return &MockLoader{texts: make(map[string]string)}
}

// SetText registers the text returned for path
func (m *MockLoader) SetText(path, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[path] = text
}

func (m *MockLoader) Load(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	text, ok := m.texts[path]
	if !ok {
		return "", fmt.Errorf("%w: %s: no such file", domain.ErrLoad, path)
	}
	return text, nil
}

func (m *MockLoader) SupportedExtensions() []string {
	return []string{".txt", ".pdf"}
}

func (m *MockLoader) Priority() int {
	return 1
}

// Calls returns how many times Load was called
func (m *MockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
