package driving

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// IngestionService accepts uploaded documents and reports on their jobs
type IngestionService interface {
	// Submit validates the stored file and enqueues an ingestion job for it.
	// It returns once the job is durably queued; processing happens later.
	Submit(ctx context.Context, path string, originalName string) (*domain.IngestionJob, error)

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error)

	// ListJobs lists jobs, newest first
	ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.IngestionJob, error)

	// PurgeJobs removes finished jobs older than the queue's retention
	PurgeJobs(ctx context.Context) (int, error)

	// Stats returns queue statistics
	Stats(ctx context.Context) (*driven.QueueStats, error)

	// SupportedExtensions lists file extensions that can be ingested
	SupportedExtensions() []string
}
