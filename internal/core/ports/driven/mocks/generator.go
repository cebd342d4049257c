package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MockGenerator records prompts and returns a canned answer
type MockGenerator struct {
	mu      sync.Mutex
	answer  string
	fail    bool
	systems []string
	queries []string
}

// NewMockGenerator creates a new MockGenerator
func NewMockGenerator(answer string) *MockGenerator {
	return &MockGenerator{answer: answer}
}

func (m *MockGenerator) Generate(ctx context.Context, systemContext, userQuery string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.systems = append(m.systems, systemContext)
	m.queries = append(m.queries, userQuery)
	if m.fail {
		return "", fmt.Errorf("%w: mock model overloaded", domain.ErrGenerationUnavailable)
	}
	return m.answer, nil
}

func (m *MockGenerator) Model() string {
	return "mock-chat-model"
}

func (m *MockGenerator) Close() error {
	return nil
}

// SetFail makes every Generate call fail
func (m *MockGenerator) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// LastSystemContext returns the most recent system context, or ""
func (m *MockGenerator) LastSystemContext() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.systems) == 0 {
		return ""
	}
	return m.systems[len(m.systems)-1]
}

// Calls returns the number of Generate calls
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}
