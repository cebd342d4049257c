package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// JobQueue carries ingestion jobs from the upload boundary to the worker pool.
// Delivery is at-least-once: a job handed out but not acknowledged within the
// visibility timeout is delivered again. FIFO order is best effort only.
// Implementations can use Redis (preferred), Postgres or process memory.
type JobQueue interface {
	// Enqueue records a job durably. It returns once the job is stored.
	Enqueue(ctx context.Context, job *domain.IngestionJob) error

	// DequeueWithTimeout hands the next due job to exactly one caller, waiting up to timeout.
	// Returns nil, nil if timeout is reached with no jobs available.
	DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.IngestionJob, error)

	// Ack acknowledges successful processing. The job is never delivered again.
	// result, when non-nil, is recorded on the job for status queries.
	//
	// Ack, Nack, Fail and SetStage settle the job through the delivery it was
	// handed out under (job.Delivery()). Once that delivery has been reclaimed
	// or superseded they leave the job alone and return ErrStaleDelivery.
	Ack(ctx context.Context, d domain.Delivery, result *domain.JobResult) error

	// Nack reports a transient failure. The job is redelivered after backoff,
	// or moved to failed once MaxAttempts deliveries have been used.
	Nack(ctx context.Context, d domain.Delivery, reason string) error

	// Fail moves a job straight to failed without retrying.
	Fail(ctx context.Context, d domain.Delivery, reason string) error

	// SetStage records pipeline progress for status reporting.
	SetStage(ctx context.Context, d domain.Delivery, stage domain.JobStage) error

	// GetJob retrieves a job by ID (for status checking).
	GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error)

	// ListJobs retrieves jobs matching the filter criteria, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.IngestionJob, error)

	// PurgeJobs removes completed/failed jobs last updated before olderThan ago.
	PurgeJobs(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// JobFilter specifies criteria for listing jobs
type JobFilter struct {
	// Status filters by job status (optional, empty means all)
	Status domain.JobStatus

	// Limit is the maximum number of jobs to return
	Limit int

	// Offset is the number of jobs to skip (for pagination)
	Offset int
}

// QueueStats contains queue statistics
type QueueStats struct {
	// PendingCount is the number of jobs waiting to be processed
	PendingCount int64 `json:"pending_count"`

	// ProcessingCount is the number of jobs currently delivered and unacknowledged
	ProcessingCount int64 `json:"processing_count"`

	// CompletedCount is the number of acknowledged jobs still retained
	CompletedCount int64 `json:"completed_count"`

	// FailedCount is the number of jobs that failed terminally
	FailedCount int64 `json:"failed_count"`
}

// QueueOptions tunes delivery behaviour shared by all queue backends
type QueueOptions struct {
	// VisibilityTimeout is how long a delivered job may stay unacknowledged
	// before it is handed to another worker
	VisibilityTimeout time.Duration

	// Backoff returns the redelivery delay after a Nack, given attempts used so far
	Backoff func(attempts int) time.Duration

	// Retention is how long finished jobs are kept for status queries
	Retention time.Duration
}

// DefaultQueueOptions returns sensible defaults
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		VisibilityTimeout: 5 * time.Minute,
		Backoff:           domain.RetryBackoff,
		Retention:         24 * time.Hour,
	}
}

// WithDefaults fills unset fields
func (o QueueOptions) WithDefaults() QueueOptions {
	d := DefaultQueueOptions()
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = d.VisibilityTimeout
	}
	if o.Backoff == nil {
		o.Backoff = d.Backoff
	}
	if o.Retention <= 0 {
		o.Retention = d.Retention
	}
	return o
}
