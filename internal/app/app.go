// Package app assembles the driven adapters and core services described by
// a config.Config into one running stack shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	memoryqueue "github.com/custodia-labs/sercha-rag/internal/adapters/driven/queue/memory"
	postgresqueue "github.com/custodia-labs/sercha-rag/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/sercha-rag/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-rag/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/vectorindex/chromem"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/vectorindex/pgvector"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/vectorindex/qdrant"
	"github.com/custodia-labs/sercha-rag/internal/chunker"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/loaders"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
	"github.com/custodia-labs/sercha-rag/internal/worker"
)

const healthCheckTimeout = 5 * time.Second

// Options tunes Open
type Options struct {
	Logger *slog.Logger

	// CheckProviders pings the embedding provider at startup and logs a
	// warning when it is unreachable. Commands that only touch the queue
	// leave it off.
	CheckProviders bool
}

// App is an opened stack. Close releases everything Open acquired.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Services *runtime.Services
	Queue    driven.JobQueue
	Lock     driven.DistributedLock // nil for the in-process queue
	Index    driven.VectorIndex
	Loaders  *loaders.Registry

	Pipeline  *services.IngestionPipeline
	Ingestion driving.IngestionService
	Retriever driving.Retriever
	Chat      driving.ChatService

	// owned holds what the services registry will take over once built
	owned []func() error
	// closers holds shared connections, released last
	closers []func() error
}

// Open connects the queue, lock and vector index selected by cfg, builds the
// AI providers and wires the core services on top of them.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var factory driven.AIServiceFactory = ai.NewFactory()
	embedder, err := factory.CreateEmbedder(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if embedder != nil {
		a.owned = append(a.owned, embedder.Close)
	}
	generator, err := factory.CreateGenerator(&cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	if generator != nil {
		a.owned = append(a.owned, generator.Close)
	}

	dimensions := ai.ModelDimensions(cfg.Embedding)
	if embedder != nil {
		dimensions = embedder.Dimensions()
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: cannot size the index, set embedding.dimensions", domain.ErrInvalidConfig)
	}

	if err := a.openQueue(ctx); err != nil {
		return nil, err
	}
	if err := a.openIndex(ctx, dimensions); err != nil {
		return nil, err
	}

	a.Services = runtime.NewServices(domain.NewRuntimeConfig(cfg.Queue.Backend, cfg.Index.Backend))
	a.Services.SetQueue(a.Queue)
	a.Services.SetIndex(a.Index)

	// From here the services registry owns the providers, the queue and the index.
	a.owned = nil

	if embedder != nil {
		if opts.CheckProviders {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			if err := embedder.HealthCheck(checkCtx); err != nil {
				logger.Warn("embedding provider unreachable, jobs will retry until it is back",
					"provider", cfg.Embedding.Provider, "error", err)
			}
			cancel()
		}
		a.Services.SetEmbedder(embedder)
	} else {
		logger.Warn("embedding provider not configured, uploads will queue but not index",
			"provider", cfg.Embedding.Provider)
	}
	if generator != nil {
		a.Services.SetGenerator(generator)
	} else {
		logger.Warn("answer generator not configured, chat is unavailable",
			"provider", cfg.Generator.Provider)
	}

	a.Loaders = loaders.DefaultRegistry()
	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	a.Pipeline = services.NewIngestionPipeline(a.Loaders, ch, a.Index, a.Services, services.PipelineOptions{
		IDStrategy: cfg.Index.IDStrategy,
		Logger:     logger,
	})
	a.Ingestion = services.NewIngestionService(a.Queue, a.Loaders, services.IngestionOptions{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Retention:   cfg.Queue.Retention,
		Logger:      logger,
	})
	a.Retriever = services.NewRetriever(a.Index, a.Services)
	a.Chat = services.NewAnswerOrchestrator(a.Retriever, a.Services, cfg.Retrieval, logger)

	logger.Info("stack opened",
		"queue", cfg.Queue.Backend,
		"index", cfg.Index.Backend,
		"collection", cfg.Index.Collection,
		"dimensions", dimensions,
		"embedding", a.Services.Config().EmbeddingAvailable(),
		"generator", a.Services.Config().GeneratorAvailable(),
	)
	return a, nil
}

func (a *App) queueOptions() driven.QueueOptions {
	return driven.QueueOptions{
		VisibilityTimeout: a.Config.Queue.VisibilityTimeout,
		Retention:         a.Config.Queue.Retention,
	}.WithDefaults()
}

func (a *App) openQueue(ctx context.Context) error {
	cfg := a.Config.Queue
	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("%w: redis url: %v", domain.ErrInvalidConfig, err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: redis ping: %v", domain.ErrQueueUnavailable, err)
		}
		q, err := redisqueue.NewQueue(ctx, client, consumerName(), a.queueOptions())
		if err != nil {
			return err
		}
		a.Queue = q
		a.Lock = redisadapter.NewLock(client)
		a.owned = append(a.owned, q.Close)

	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL, a.Config.Worker.Concurrency))
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("%w: init schema: %v", domain.ErrQueueUnavailable, err)
		}
		q := postgresqueue.NewQueue(db, a.queueOptions())
		a.Queue = q
		a.Lock = postgres.NewAdvisoryLock(db)
		a.owned = append(a.owned, q.Close)

	case config.BackendMemory:
		q := memoryqueue.NewQueue(a.queueOptions())
		a.Queue = q
		a.owned = append(a.owned, q.Close)

	default:
		return fmt.Errorf("%w: unknown queue backend %q", domain.ErrInvalidConfig, cfg.Backend)
	}
	return nil
}

func (a *App) openIndex(ctx context.Context, dimensions int) error {
	cfg := a.Config.Index
	var (
		index driven.VectorIndex
		err   error
	)
	switch cfg.Backend {
	case config.BackendChromem:
		index, err = chromem.NewIndex(chromem.Config{
			Collection: cfg.Collection,
			Dimensions: dimensions,
			Path:       cfg.ChromemPath,
		})
	case config.BackendQdrant:
		index, err = qdrant.NewIndex(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimensions: dimensions,
			Timeout:    cfg.QdrantTimeout,
		})
	case config.BackendPGVector:
		index, err = pgvector.NewIndex(ctx, pgvector.Config{
			URL:        cfg.PGVectorURL,
			Table:      TableName(cfg.Collection),
			Dimensions: dimensions,
		})
	default:
		return fmt.Errorf("%w: unknown index backend %q", domain.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return err
	}
	a.Index = index
	a.owned = append(a.owned, index.Close)

	if err := index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection %s: %w", cfg.Collection, err)
	}
	return nil
}

// NewWorker builds a worker pool over the opened queue and pipeline
func (a *App) NewWorker() *worker.Worker {
	cfg := a.Config.Worker
	return worker.NewWorker(worker.Config{
		Queue:          a.Queue,
		Pipeline:       a.Pipeline,
		Lock:           a.Lock,
		Logger:         a.Logger,
		Concurrency:    cfg.Concurrency,
		DequeueTimeout: cfg.DequeueTimeout,
		JobTTL:         cfg.JobTTL,
		PurgeInterval:  cfg.PurgeInterval,
		Retention:      a.Config.Queue.Retention,
	})
}

// Close releases every resource in reverse order of acquisition
func (a *App) Close() error {
	var errs []error
	if a.Services != nil {
		errs = append(errs, a.Services.Close())
		a.Services = nil
	}
	for i := len(a.owned) - 1; i >= 0; i-- {
		errs = append(errs, a.owned[i]())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.owned, a.closers = nil, nil
	return errors.Join(errs...)
}

// TableName maps a collection name onto a valid PostgreSQL identifier
func TableName(collection string) string {
	name := strings.ToLower(collection)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "c_" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
