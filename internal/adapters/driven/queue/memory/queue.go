// Package memory implements JobQueue inside the process. It gives the same
// delivery guarantees as the networked queues for a single process: a job
// handed out and not acknowledged within the visibility timeout is handed
// out again. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// pollInterval bounds how long a waiting consumer sleeps before re-checking
// backoff and lease deadlines.
const pollInterval = 25 * time.Millisecond

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue in memory.
type Queue struct {
	mu     sync.Mutex
	opts   driven.QueueOptions
	jobs   map[string]*domain.IngestionJob
	ready  []string             // pending job ids in arrival order
	leases map[string]time.Time // processing job id -> visibility deadline
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty in-memory queue.
func NewQueue(opts driven.QueueOptions) *Queue {
	return &Queue{
		opts:   opts.WithDefaults(),
		jobs:   make(map[string]*domain.IngestionJob),
		leases: make(map[string]time.Time),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the queue.
func (q *Queue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("%w: queue closed", domain.ErrQueueUnavailable)
	}
	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already queued", domain.ErrInvalidInput, job.ID)
	}

	q.jobs[job.ID] = job.Clone()
	q.ready = append(q.ready, job.ID)
	q.signal()
	return nil
}

// DequeueWithTimeout hands out the next due job, waiting up to timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.IngestionJob, error) {
	deadline := time.Now().Add(timeout)

	for {
		job, err := q.tryDequeue()
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

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) tryDequeue() (*domain.IngestionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("%w: queue closed", domain.ErrQueueUnavailable)
	}

	now := time.Now()
	q.reclaimExpired(now)

	for i, id := range q.ready {
		job, ok := q.jobs[id]
		if !ok || job.Status != domain.JobStatusPending {
			continue
		}
		if now.Before(job.ScheduledFor) {
			continue
		}

		q.ready = append(q.ready[:i:i], q.ready[i+1:]...)
		job.MarkProcessing()
		q.leases[id] = now.Add(q.opts.VisibilityTimeout)
		return job.Clone(), nil
	}
	return nil, nil
}

// reclaimExpired returns jobs whose lease ran out to the ready list, or fails
// them when they have no deliveries left.
func (q *Queue) reclaimExpired(now time.Time) {
	for id, until := range q.leases {
		if now.Before(until) {
			continue
		}
		delete(q.leases, id)

		job, ok := q.jobs[id]
		if !ok || job.Status != domain.JobStatusProcessing {
			continue
		}
		if !job.CanRetry() {
			job.MarkFailed("visibility timeout exceeded on final attempt")
			continue
		}
		job.Retry("visibility timeout exceeded", 0)
		q.ready = append(q.ready, id)
	}
}

// Ack marks a job completed.
func (q *Queue) Ack(ctx context.Context, d domain.Delivery, result *domain.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.held(d)
	if err != nil {
		return err
	}
	delete(q.leases, d.JobID)
	job.MarkCompleted(result)
	return nil
}

// Nack schedules a retry with backoff, or fails the job when attempts are used up.
func (q *Queue) Nack(ctx context.Context, d domain.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.held(d)
	if err != nil {
		return err
	}
	delete(q.leases, d.JobID)
	if !job.CanRetry() {
		job.MarkFailed(reason)
		return nil
	}

	job.Retry(reason, q.opts.Backoff(job.Attempts))
	q.ready = append(q.ready, d.JobID)
	q.signal()
	return nil
}

// Fail moves a job to failed without retrying.
func (q *Queue) Fail(ctx context.Context, d domain.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.held(d)
	if err != nil {
		return err
	}
	delete(q.leases, d.JobID)
	job.MarkFailed(reason)
	return nil
}

// SetStage records pipeline progress.
func (q *Queue) SetStage(ctx context.Context, d domain.Delivery, stage domain.JobStage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.held(d)
	if err != nil {
		return err
	}
	job.Stage = stage
	job.UpdatedAt = time.Now()
	return nil
}

// held returns the job d was handed out for. A lapsed lease still counts
// until the job is reclaimed by the next dequeue.
func (q *Queue) held(d domain.Delivery) (*domain.IngestionJob, error) {
	job, err := q.get(d.JobID)
	if err != nil {
		return nil, err
	}
	if !job.HeldBy(d) {
		return nil, fmt.Errorf("job %s attempt %d: %w", d.JobID, d.Attempt, domain.ErrStaleDelivery)
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.get(jobID)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// ListJobs lists jobs newest first.
func (q *Queue) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.IngestionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*domain.IngestionJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].ReceivedAt.Equal(jobs[j].ReceivedAt) {
			return jobs[i].ReceivedAt.After(jobs[j].ReceivedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return []*domain.IngestionJob{}, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// PurgeJobs removes finished jobs last updated before olderThan ago.
func (q *Queue) PurgeJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	purged := 0
	for id, job := range q.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
			purged++
		}
	}
	return purged, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &driven.QueueStats{}
	for _, job := range q.jobs {
		switch job.Status {
		case domain.JobStatusPending:
			stats.PendingCount++
		case domain.JobStatusProcessing:
			stats.ProcessingCount++
		case domain.JobStatusCompleted:
			stats.CompletedCount++
		case domain.JobStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// Ping reports whether the queue is open.
func (q *Queue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", domain.ErrQueueUnavailable)
	}
	return nil
}

// Close stops the queue. Waiting consumers return on their next poll.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) get(jobID string) (*domain.IngestionJob, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return job, nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
