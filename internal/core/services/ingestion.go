package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Ensure ingestionService implements IngestionService
var _ driving.IngestionService = (*ingestionService)(nil)

// IngestionOptions configures the producer side of the pipeline
type IngestionOptions struct {
	// MaxAttempts bounds deliveries per job (default domain.DefaultMaxAttempts)
	MaxAttempts int

	// Retention is how long finished jobs are kept before PurgeJobs removes them
	Retention time.Duration

	Logger *slog.Logger
}

// ingestionService records uploads as jobs. It never loads or embeds
// anything itself; the worker pool picks jobs up from the queue.
type ingestionService struct {
	queue       driven.JobQueue
	loaders     driven.LoaderRegistry
	maxAttempts int
	retention   time.Duration
	logger      *slog.Logger
}

// NewIngestionService creates a new IngestionService
func NewIngestionService(queue driven.JobQueue, loaders driven.LoaderRegistry, opts IngestionOptions) driving.IngestionService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxAttempts
	}
	if opts.Retention <= 0 {
		opts.Retention = driven.DefaultQueueOptions().Retention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ingestionService{
		queue:       queue,
		loaders:     loaders,
		maxAttempts: opts.MaxAttempts,
		retention:   opts.Retention,
		logger:      opts.Logger,
	}
}

// Submit validates the stored file and enqueues a job for it
func (s *ingestionService) Submit(ctx context.Context, path string, originalName string) (*domain.IngestionJob, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: source path is required", domain.ErrInvalidInput)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, path)
	}

	// Check the name the user gave us first, then the stored path
	name := originalName
	if name == "" {
		name = path
	}
	if !s.loaders.Supports(name) && !s.loaders.Supports(path) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, name)
	}

	job := domain.NewIngestionJob(path, originalName)
	job.MaxAttempts = s.maxAttempts

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("ingestion job queued",
		"job_id", job.ID,
		"source", job.SourceRef(),
		"size_bytes", info.Size(),
	)

	return job, nil
}

// GetJob retrieves a job by ID
func (s *ingestionService) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrInvalidInput)
	}
	return s.queue.GetJob(ctx, jobID)
}

// ListJobs lists jobs, newest first
func (s *ingestionService) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.IngestionJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.queue.ListJobs(ctx, filter)
}

// PurgeJobs removes finished jobs older than the retention period
func (s *ingestionService) PurgeJobs(ctx context.Context) (int, error) {
	n, err := s.queue.PurgeJobs(ctx, s.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged finished jobs", "count", n, "older_than", s.retention)
	}
	return n, nil
}

// Stats returns queue statistics
func (s *ingestionService) Stats(ctx context.Context) (*driven.QueueStats, error) {
	return s.queue.Stats(ctx)
}

// SupportedExtensions lists file extensions that can be ingested
func (s *ingestionService) SupportedExtensions() []string {
	return s.loaders.List()
}
