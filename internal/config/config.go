// Package config loads service configuration from a YAML or TOML file, a .env
// file and the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// DefaultPath is read when no config file is named and it exists.
// DefaultTOMLPath is tried next.
const (
	DefaultPath     = "sercha-rag.yaml"
	DefaultTOMLPath = "sercha-rag.toml"
)

// Queue and index backend names
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"
)

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig configures the HTTP driving adapter
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	UploadDir       string        `yaml:"upload_dir"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig selects and tunes the job queue
type QueueConfig struct {
	// Backend is redis, postgres or memory. Empty picks redis when RedisURL
	// is set, then postgres when DatabaseURL is set, then memory.
	Backend           string        `yaml:"backend"`
	RedisURL          string        `yaml:"redis_url"`
	DatabaseURL       string        `yaml:"database_url"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	Retention         time.Duration `yaml:"retention"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// IndexConfig selects and configures the vector index
type IndexConfig struct {
	Backend       string            `yaml:"backend"` // qdrant, chromem or pgvector
	Collection    string            `yaml:"collection"`
	QdrantURL     string            `yaml:"qdrant_url"`
	QdrantAPIKey  string            `yaml:"-"`
	QdrantTimeout time.Duration     `yaml:"qdrant_timeout"`
	ChromemPath   string            `yaml:"chromem_path"`
	PGVectorURL   string            `yaml:"pgvector_url"`
	IDStrategy    domain.IDStrategy `yaml:"id_strategy"`
}

// WorkerConfig tunes the ingestion worker pool
type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
	JobTTL         time.Duration `yaml:"job_ttl"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
}

// Config is the root configuration
type Config struct {
	Log       LogConfig                `yaml:"log"`
	Server    ServerConfig             `yaml:"server"`
	Queue     QueueConfig              `yaml:"queue"`
	Index     IndexConfig              `yaml:"index"`
	Embedding domain.EmbeddingSettings `yaml:"embedding"`
	Generator domain.GeneratorSettings `yaml:"generator"`
	Chunking  domain.ChunkConfig       `yaml:"chunking"`
	Retrieval domain.RetrievalConfig   `yaml:"retrieval"`
	Worker    WorkerConfig             `yaml:"worker"`
}

// Default returns the configuration used when nothing is set: everything
// in process, OpenAI for embeddings and answers.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			UploadDir:       "uploads",
			MaxUploadBytes:  32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			VisibilityTimeout: 5 * time.Minute,
			Retention:         24 * time.Hour,
			MaxAttempts:       domain.DefaultMaxAttempts,
		},
		Index: IndexConfig{
			Backend:       BackendChromem,
			Collection:    "pdf-docs",
			QdrantURL:     "http://localhost:6334",
			QdrantTimeout: 30 * time.Second,
			IDStrategy:    domain.IDStrategyRandom,
		},
		Embedding: domain.EmbeddingSettings{
			Provider:  domain.AIProviderOpenAI,
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		},
		Generator: domain.GeneratorSettings{
			Provider: domain.AIProviderOpenAI,
			Model:    "gpt-3.5-turbo",
		},
		Chunking:  domain.DefaultChunkConfig(),
		Retrieval: domain.DefaultRetrievalConfig(),
		Worker: WorkerConfig{
			Concurrency:    4,
			DequeueTimeout: 5 * time.Second,
			PurgeInterval:  time.Hour,
		},
	}
}

// Load builds the configuration. path names a YAML or TOML file (chosen by
// extension); when empty, DefaultPath then DefaultTOMLPath are used if
// present. A .env file in the working directory is loaded into the
// environment without overriding variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := []string{path}
	explicit := path != ""
	if !explicit {
		candidates = []string{DefaultPath, DefaultTOMLPath}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidConfig, p, err)
		}
		if err := decodeFile(p, data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, p, err)
		}
		break
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: .env: %v", domain.ErrInvalidConfig, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolveBackends()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile overlays the file onto cfg. TOML is converted to the YAML
// document model first so both formats share the yaml field tags and
// duration strings such as "30s".
func decodeFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return err
		}
		converted, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		data = converted
	case ".yaml", ".yml", "":
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv overrides fields from environment variables read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	e.str("HOST", &c.Server.Host)
	e.int("PORT", &c.Server.Port)
	e.str("UPLOAD_DIR", &c.Server.UploadDir)
	e.int64("MAX_UPLOAD_BYTES", &c.Server.MaxUploadBytes)

	e.str("QUEUE_BACKEND", &c.Queue.Backend)
	e.str("REDIS_URL", &c.Queue.RedisURL)
	e.str("DATABASE_URL", &c.Queue.DatabaseURL)
	e.duration("QUEUE_VISIBILITY_TIMEOUT", &c.Queue.VisibilityTimeout)
	e.duration("JOB_RETENTION", &c.Queue.Retention)
	e.int("JOB_MAX_ATTEMPTS", &c.Queue.MaxAttempts)

	e.str("INDEX_BACKEND", &c.Index.Backend)
	e.str("COLLECTION_NAME", &c.Index.Collection)
	e.str("QDRANT_URL", &c.Index.QdrantURL)
	e.str("QDRANT_API_KEY", &c.Index.QdrantAPIKey)
	e.str("CHROMEM_PATH", &c.Index.ChromemPath)
	e.str("PGVECTOR_URL", &c.Index.PGVectorURL)
	var strategy string
	if e.str("ID_STRATEGY", &strategy) {
		c.Index.IDStrategy = domain.IDStrategy(strategy)
	}

	var provider string
	if e.str("EMBEDDING_PROVIDER", &provider) {
		c.Embedding.Provider = domain.AIProvider(provider)
	}
	e.str("EMBEDDING_MODEL", &c.Embedding.Model)
	e.str("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	e.int("EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	e.int("EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)
	e.float("EMBEDDING_RPS", &c.Embedding.RequestsPerSecond)

	if e.str("LLM_PROVIDER", &provider) {
		c.Generator.Provider = domain.AIProvider(provider)
	}
	e.str("LLM_MODEL", &c.Generator.Model)
	e.str("LLM_BASE_URL", &c.Generator.BaseURL)

	// one key serves both OpenAI capabilities, as it always has
	var key string
	if e.str("OPENAI_API_KEY", &key) {
		c.Embedding.APIKey = key
		c.Generator.APIKey = key
	}
	e.str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	e.str("LLM_API_KEY", &c.Generator.APIKey)

	e.int("CHUNK_SIZE", &c.Chunking.MaxSize)
	e.int("CHUNK_OVERLAP", &c.Chunking.Overlap)
	var unit string
	if e.str("CHUNK_UNIT", &unit) {
		c.Chunking.Unit = domain.ChunkUnit(unit)
	}

	e.int("TOP_K", &c.Retrieval.TopK)
	e.int("MAX_TOP_K", &c.Retrieval.MaxTopK)
	e.int("MAX_CONTEXT_CHARS", &c.Retrieval.MaxContextChars)

	e.int("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	e.duration("WORKER_DEQUEUE_TIMEOUT", &c.Worker.DequeueTimeout)
	e.duration("JOB_TTL", &c.Worker.JobTTL)
	e.duration("PURGE_INTERVAL", &c.Worker.PurgeInterval)

	return e.err
}

// resolveBackends fills the queue backend from the connection settings and
// lets pgvector share the queue database when no URL of its own is set.
func (c *Config) resolveBackends() {
	if c.Queue.Backend == "" {
		switch {
		case c.Queue.RedisURL != "":
			c.Queue.Backend = BackendRedis
		case c.Queue.DatabaseURL != "":
			c.Queue.Backend = BackendPostgres
		default:
			c.Queue.Backend = BackendMemory
		}
	}
	if c.Index.Backend == BackendPGVector && c.Index.PGVectorURL == "" {
		c.Index.PGVectorURL = c.Queue.DatabaseURL
	}
}

// Validate checks that the configuration can be opened
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log format must be text or json, got %q", c.Log.Format)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("port %d out of range", c.Server.Port)
	}

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.RedisURL == "" {
			add("redis queue needs REDIS_URL")
		}
	case BackendPostgres:
		if c.Queue.DatabaseURL == "" {
			add("postgres queue needs DATABASE_URL")
		}
	default:
		add("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts <= 0 {
		add("max attempts must be positive, got %d", c.Queue.MaxAttempts)
	}

	switch c.Index.Backend {
	case BackendChromem:
	case BackendQdrant:
		if c.Index.QdrantURL == "" {
			add("qdrant index needs QDRANT_URL")
		}
	case BackendPGVector:
		if c.Index.PGVectorURL == "" {
			add("pgvector index needs PGVECTOR_URL or DATABASE_URL")
		}
	default:
		add("unknown index backend %q", c.Index.Backend)
	}
	if c.Index.Collection == "" {
		add("collection name is required")
	}
	switch c.Index.IDStrategy {
	case domain.IDStrategyRandom, domain.IDStrategyContent:
	default:
		add("unknown id strategy %q", c.Index.IDStrategy)
	}

	if c.Embedding.Provider != "" && !c.Embedding.Provider.IsValid() {
		add("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Generator.Provider != "" && !c.Generator.Provider.IsValid() {
		add("unknown generator provider %q", c.Generator.Provider)
	}

	if err := c.Chunking.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Worker.Concurrency <= 0 {
		add("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, level)
}

// envReader applies variables and remembers the first malformed one
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidConfig, key, value, err)
	}
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// duration accepts Go durations ("90s") or a bare number of seconds
func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// NewLogger builds the slog logger described by c, writing to w
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
