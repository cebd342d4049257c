package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

const testDims = 4

// fakeProviders serves Ollama embeddings and OpenAI chat completions
func fakeProviders(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req struct {
				Prompt string `json:"prompt"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			vec := make([]float32, testDims)
			vec[0] = 1
			vec[1] = float32(len(req.Prompt))
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
		case "/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-3.5-turbo",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "It is about turtles."}, "finish_reason": "stop"}]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := newTestConfig(fakeProviders(t).URL)
	require.NoError(t, cfg.Validate())
	return cfg
}

// newTestConfig runs everything in process against fake providers at url
func newTestConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Queue.Backend = config.BackendMemory
	cfg.Index.Backend = config.BackendChromem
	cfg.Index.Collection = "app-test"
	cfg.Embedding = domain.EmbeddingSettings{
		Provider:   domain.AIProviderOllama,
		Model:      "custom",
		BaseURL:    url,
		Dimensions: testDims,
	}
	cfg.Generator = domain.GeneratorSettings{
		Provider: domain.AIProviderOpenAI,
		APIKey:   "sk-test",
		BaseURL:  url,
	}
	cfg.Worker.Concurrency = 2
	cfg.Worker.DequeueTimeout = 20 * time.Millisecond
	cfg.Worker.PurgeInterval = 0
	return cfg
}

func TestOpen_IngestAndAnswer(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), Options{CheckProviders: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Lock, "in-process queue runs without a lock")
	assert.Equal(t, testDims, a.Index.Dimensions())
	assert.True(t, a.Services.Config().CanAnswer())

	path := filepath.Join(t.TempDir(), "turtles.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("turtles all the way down. ", 10)), 0o600))

	job, err := a.Ingestion.Submit(ctx, path, "turtles.txt")
	require.NoError(t, err)

	w := a.NewWorker()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)

	require.Eventually(t, func() bool {
		got, err := a.Ingestion.GetJob(ctx, job.ID)
		return err == nil && got.Status == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	count, err := a.Index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	answer, err := a.Chat.Answer(ctx, "what is it about?", domain.AnswerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "It is about turtles.", answer.Text)
	require.Len(t, answer.Documents, 2)
	assert.Equal(t, "turtles.txt", answer.Documents[0].Source())
}

func TestOpen_RedisBackendProvidesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Queue.RedisURL = "redis://" + mr.Addr()

	a, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Lock)
	require.NoError(t, a.Lock.Ping(context.Background()))
	require.NoError(t, a.Queue.Ping(context.Background()))
}

func TestOpen_Errors(t *testing.T) {
	t.Run("unknown index dimensions", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Embedding = domain.EmbeddingSettings{Provider: domain.AIProviderOllama, Model: "mystery"}
		_, err := Open(context.Background(), cfg, Options{})
		assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "got %v", err)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t)
		cfg.Queue.Backend = config.BackendRedis
		cfg.Queue.RedisURL = "redis://" + addr
		_, err := Open(context.Background(), cfg, Options{})
		assert.True(t, errors.Is(err, domain.ErrQueueUnavailable), "got %v", err)
	})

	t.Run("unknown queue backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Queue.Backend = "kafka"
		_, err := Open(context.Background(), cfg, Options{})
		assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "got %v", err)
	})
}

func TestOpen_WithoutProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding = domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI}
	cfg.Generator = domain.GeneratorSettings{Provider: domain.AIProviderOpenAI}

	a, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1536, a.Index.Dimensions(), "sized from the model table")
	assert.False(t, a.Services.Config().CanIngest())

	_, err = a.Chat.Answer(context.Background(), "anyone there?", domain.AnswerOptions{})
	assert.Error(t, err)
}

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"pdf-docs":      "pdf_docs",
		"Manuals":       "manuals",
		"2024 reports":  "c_2024_reports",
		"":              "c_",
		"already_valid": "already_valid",
	}
	for in, want := range tests {
		assert.Equal(t, want, TableName(in), in)
	}
	assert.Len(t, TableName(strings.Repeat("x", 100)), 63)
}
