package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	pgdb "github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// pollInterval is how often a waiting consumer re-checks for due jobs
const pollInterval = 500 * time.Millisecond

// Ensure Queue implements JobQueue
var _ driven.JobQueue = (*Queue)(nil)

const jobColumns = `
	id, source_path, original_name, received_at, status, stage,
	attempts, max_attempts, error, chunk_count, entry_ids,
	updated_at, started_at, completed_at, scheduled_for`

// Queue implements JobQueue using PostgreSQL with SKIP LOCKED for reliable job processing.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db   *pgdb.DB
	opts driven.QueueOptions
}

// NewQueue creates a new PostgreSQL-backed job queue.
// Assumes the ingestion_jobs table has been created via InitSchema.
func NewQueue(db *pgdb.DB, opts driven.QueueOptions) *Queue {
	return &Queue{db: db, opts: opts.WithDefaults()}
}

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO ingestion_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := q.db.ExecContext(ctx, query,
		job.ID,
		job.SourcePath,
		job.OriginalName,
		job.ReceivedAt,
		job.Status,
		job.Stage,
		job.Attempts,
		job.MaxAttempts,
		job.Error,
		job.ChunkCount,
		pq.Array(nonNil(job.EntryIDs)),
		job.UpdatedAt,
		pgdb.NullTime(job.StartedAt),
		pgdb.NullTime(job.CompletedAt),
		job.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("%w: insert job: %v", domain.ErrQueueUnavailable, err)
	}

	return nil
}

// DequeueWithTimeout retrieves the next due job, polling until timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.IngestionJob, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := q.dequeue(ctx)
		if err != nil || job != nil {
			return job, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(wait):
		}
	}
}

// dequeue claims one job using SELECT FOR UPDATE SKIP LOCKED.
// This ensures only one worker gets each job even with multiple workers.
// A processing job whose lease expired counts as due.
func (q *Queue) dequeue(ctx context.Context) (*domain.IngestionJob, error) {
	var claimed *domain.IngestionJob

	for claimed == nil {
		var retry bool
		err := q.db.Transaction(ctx, func(tx *sql.Tx) error {
			selectQuery := `
				SELECT ` + jobColumns + `
				FROM ingestion_jobs
				WHERE (status = $1 AND scheduled_for <= NOW())
				   OR (status = $2 AND lease_expires_at < NOW())
				ORDER BY received_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			`
			job, err := scanJob(tx.QueryRowContext(ctx, selectQuery,
				domain.JobStatusPending,
				domain.JobStatusProcessing,
			))
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("select job: %w", err)
			}

			// The final allowed delivery was abandoned
			if job.Status == domain.JobStatusProcessing && !job.CanRetry() {
				job.MarkFailed("visibility timeout exceeded on final attempt")
				retry = true
				return q.updateState(ctx, tx, job, nil)
			}

			job.MarkProcessing()
			lease := time.Now().Add(q.opts.VisibilityTimeout)
			if err := q.updateState(ctx, tx, job, &lease); err != nil {
				return err
			}
			claimed = job
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
		}
		if !retry {
			break
		}
	}

	return claimed, nil
}

// Ack marks a job as completed
func (q *Queue) Ack(ctx context.Context, d domain.Delivery, result *domain.JobResult) error {
	return q.transition(ctx, d, func(job *domain.IngestionJob) {
		job.MarkCompleted(result)
	})
}

// Nack schedules a retry with backoff, or fails the job when attempts are used up
func (q *Queue) Nack(ctx context.Context, d domain.Delivery, reason string) error {
	return q.transition(ctx, d, func(job *domain.IngestionJob) {
		if job.CanRetry() {
			job.Retry(reason, q.opts.Backoff(job.Attempts))
			return
		}
		job.MarkFailed(reason)
	})
}

// Fail marks a job failed without retrying
func (q *Queue) Fail(ctx context.Context, d domain.Delivery, reason string) error {
	return q.transition(ctx, d, func(job *domain.IngestionJob) {
		job.MarkFailed(reason)
	})
}

// transition locks the job row, applies update and clears the lease.
func (q *Queue) transition(ctx context.Context, d domain.Delivery, update func(*domain.IngestionJob)) error {
	return q.db.Transaction(ctx, func(tx *sql.Tx) error {
		job, err := lockHeld(ctx, tx, d)
		if err != nil {
			return err
		}

		update(job)
		return q.updateState(ctx, tx, job, nil)
	})
}

// lockHeld selects the job row FOR UPDATE and checks that d is still its
// current delivery.
func lockHeld(ctx context.Context, tx *sql.Tx, d domain.Delivery) (*domain.IngestionJob, error) {
	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1 FOR UPDATE`, d.JobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", d.JobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select job: %v", domain.ErrQueueUnavailable, err)
	}
	if !job.HeldBy(d) {
		return nil, fmt.Errorf("job %s attempt %d: %w", d.JobID, d.Attempt, domain.ErrStaleDelivery)
	}
	return job, nil
}

func (q *Queue) updateState(ctx context.Context, tx *sql.Tx, job *domain.IngestionJob, lease *time.Time) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $1, stage = $2, attempts = $3, error = $4,
		    chunk_count = $5, entry_ids = $6, updated_at = $7,
		    started_at = $8, completed_at = $9, scheduled_for = $10,
		    lease_expires_at = $11
		WHERE id = $12
	`
	_, err := tx.ExecContext(ctx, query,
		job.Status,
		job.Stage,
		job.Attempts,
		job.Error,
		job.ChunkCount,
		pq.Array(nonNil(job.EntryIDs)),
		job.UpdatedAt,
		pgdb.NullTime(job.StartedAt),
		pgdb.NullTime(job.CompletedAt),
		job.ScheduledFor,
		pgdb.NullTime(lease),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SetStage records pipeline progress
func (q *Queue) SetStage(ctx context.Context, d domain.Delivery, stage domain.JobStage) error {
	result, err := q.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET stage = $1, updated_at = $2
		 WHERE id = $3 AND status = $4 AND attempts = $5`,
		stage, time.Now(), d.JobID, domain.JobStatusProcessing, d.Attempt,
	)
	if err != nil {
		return fmt.Errorf("%w: update stage: %v", domain.ErrQueueUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ingestion_jobs WHERE id = $1)`, d.JobID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: select job: %v", domain.ErrQueueUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("job %s: %w", d.JobID, domain.ErrNotFound)
	}
	return fmt.Errorf("job %s attempt %d: %w", d.JobID, d.Attempt, domain.ErrStaleDelivery)
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query job: %v", domain.ErrQueueUnavailable, err)
	}
	return job, nil
}

// ListJobs retrieves jobs matching the filter, newest first
func (q *Queue) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.IngestionJob, error) {
	query, args := buildListQuery(filter)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query jobs: %v", domain.ErrQueueUnavailable, err)
	}
	defer rows.Close()

	jobs := make([]*domain.IngestionJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

func buildListQuery(filter driven.JobFilter) (string, []any) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs`
	var args []any
	argIndex := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	query += " ORDER BY received_at DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	return query, args
}

// PurgeJobs removes completed/failed jobs older than the specified age
func (q *Queue) PurgeJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM ingestion_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
	`, domain.JobStatusCompleted, domain.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge jobs: %v", domain.ErrQueueUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingestion_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%w: query stats: %v", domain.ErrQueueUnavailable, err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var status domain.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case domain.JobStatusPending:
			stats.PendingCount = count
		case domain.JobStatusProcessing:
			stats.ProcessingCount = count
		case domain.JobStatusCompleted:
			stats.CompletedCount = count
		case domain.JobStatusFailed:
			stats.FailedCount = count
		}
	}

	return stats, rows.Err()
}

// Ping checks if the queue backend is healthy
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Close cleans up resources
func (q *Queue) Close() error {
	// Database connection is shared, don't close it here
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	var entryIDs pq.StringArray
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.SourcePath,
		&job.OriginalName,
		&job.ReceivedAt,
		&job.Status,
		&job.Stage,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Error,
		&job.ChunkCount,
		&entryIDs,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&job.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(entryIDs) > 0 {
		job.EntryIDs = []string(entryIDs)
	}
	job.StartedAt = pgdb.TimePtr(startedAt)
	job.CompletedAt = pgdb.TimePtr(completedAt)

	return &job, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
