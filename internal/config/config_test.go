package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// chdir runs the test from dir so DefaultPath and .env resolve there
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.resolveBackends()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Queue.Backend)
	assert.Equal(t, BackendChromem, cfg.Index.Backend)
	assert.Equal(t, "pdf-docs", cfg.Index.Collection)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Retrieval.TopK)
	assert.Equal(t, 100, cfg.Chunking.MaxSize)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":                     "9000",
		"REDIS_URL":                "redis://localhost:6379/0",
		"INDEX_BACKEND":            "qdrant",
		"QDRANT_API_KEY":           "secret",
		"OPENAI_API_KEY":           "sk-test",
		"LLM_API_KEY":              "sk-llm",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_RPS":            "2.5",
		"QUEUE_VISIBILITY_TIMEOUT": "90",
		"JOB_TTL":                  "2h",
		"CHUNK_UNIT":               "word",
		"ID_STRATEGY":              "content",
		"TOP_K":                    "  4 ",
		"WORKER_CONCURRENCY":       "",
	}))
	require.NoError(t, err)
	cfg.resolveBackends()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, BackendQdrant, cfg.Index.Backend)
	assert.Equal(t, "secret", cfg.Index.QdrantAPIKey)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-llm", cfg.Generator.APIKey)
	assert.Equal(t, domain.AIProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, 90*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Worker.JobTTL)
	assert.Equal(t, domain.ChunkUnitWord, cfg.Chunking.Unit)
	assert.Equal(t, domain.IDStrategyContent, cfg.Index.IDStrategy)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, 4, cfg.Worker.Concurrency, "blank variables are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Malformed(t *testing.T) {
	tests := map[string]string{
		"PORT":             "eighty",
		"JOB_TTL":          "soon",
		"EMBEDDING_RPS":    "fast",
		"MAX_UPLOAD_BYTES": "1e",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{key: value}))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestResolveBackends(t *testing.T) {
	cfg := Default()
	cfg.Queue.DatabaseURL = "postgres://localhost/sercha"
	cfg.Index.Backend = BackendPGVector
	cfg.resolveBackends()

	assert.Equal(t, BackendPostgres, cfg.Queue.Backend)
	assert.Equal(t, cfg.Queue.DatabaseURL, cfg.Index.PGVectorURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"queue backend", func(c *Config) { c.Queue.Backend = "kafka" }, "queue backend"},
		{"redis without url", func(c *Config) { c.Queue.Backend = BackendRedis }, "REDIS_URL"},
		{"postgres without url", func(c *Config) { c.Queue.Backend = BackendPostgres }, "DATABASE_URL"},
		{"index backend", func(c *Config) { c.Index.Backend = "faiss" }, "index backend"},
		{"pgvector without url", func(c *Config) { c.Index.Backend = BackendPGVector }, "pgvector"},
		{"collection", func(c *Config) { c.Index.Collection = "" }, "collection"},
		{"id strategy", func(c *Config) { c.Index.IDStrategy = "hash" }, "id strategy"},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding provider"},
		{"chunk overlap", func(c *Config) { c.Chunking.Overlap = 100 }, "overlap"},
		{"top k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Queue.Backend = BackendMemory
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8100
queue:
  visibility_timeout: 2m
index:
  backend: chromem
  collection: manuals
chunking:
  max_size: 200
  overlap: 20
worker:
  concurrency: 8
`), 0o600))
	chdir(t, dir)
	t.Setenv("WORKER_CONCURRENCY", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, "manuals", cfg.Index.Collection)
	assert.Equal(t, 200, cfg.Chunking.MaxSize)
	assert.Equal(t, 20, cfg.Chunking.Overlap)
	assert.Equal(t, 3, cfg.Worker.Concurrency, "environment wins over the file")
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultTOMLPath), []byte(`
[server]
port = 8200

[queue]
visibility_timeout = "90s"

[index]
backend = "chromem"
collection = "handbooks"

[chunking]
max_size = 300
`), 0o600))
	chdir(t, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8200, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, "handbooks", cfg.Index.Collection)
	assert.Equal(t, 300, cfg.Chunking.MaxSize)
	assert.Equal(t, domain.DefaultChunkConfig().Overlap, cfg.Chunking.Overlap)
}

func TestLoad_YAMLPreferredOverTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte("index:\n  collection: from-yaml\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultTOMLPath), []byte("[index]\ncollection = \"from-toml\"\n"), 0o600))
	chdir(t, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.Index.Collection)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COLLECTION_NAME=from-dotenv\n"), 0o600))
	chdir(t, dir)
	t.Setenv("COLLECTION_NAME", "")
	os.Unsetenv("COLLECTION_NAME")
	t.Cleanup(func() { os.Unsetenv("COLLECTION_NAME") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Index.Collection)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "named file must exist: %v", err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

	badTOML := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badTOML, []byte("[server\nport = 1"), 0o600))
	_, err = Load(badTOML)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))

	ini := filepath.Join(dir, "config.ini")
	require.NoError(t, os.WriteFile(ini, []byte("port=1"), 0o600))
	_, err = Load(ini)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "unknown extension: %v", err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("index:\n  backend: faiss\n"), 0o600))
	_, err = Load(invalid)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"job_id":"j1"`)

	_, err = LogConfig{Level: "chatty"}.NewLogger(&buf)
	assert.Error(t, err)
}
