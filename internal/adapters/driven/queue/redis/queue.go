package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

const (
	// Stream names
	jobStream     = "sercha:ingest"
	jobGroup      = "sercha:ingest-workers"
	scheduledJobs = "sercha:ingest:scheduled"

	// jobIndex orders every known job by arrival for listing
	jobIndex = "sercha:ingest:jobs"

	// Key prefixes
	jobKeyPrefix = "sercha:job:"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// maxTxAttempts bounds optimistic retries when a job record changes
	// between WATCH and EXEC.
	maxTxAttempts = 8
)

// promoteScript moves due retries from the scheduled set onto the stream in
// one step, so a retry is never removed without being re-added.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('XADD', KEYS[2], '*', 'job_id', id)
end
return #due
`)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using Redis Streams.
// Redis Streams provide reliable message queuing with consumer groups and
// acknowledgment tracking. Messages left unacknowledged longer than the
// visibility timeout are claimed by the next consumer that asks for work.
type Queue struct {
	client       *redis.Client
	consumerName string
	opts         driven.QueueOptions
}

// NewQueue creates a new Redis-backed job queue.
// The consumerName should be unique per worker instance (e.g., hostname + PID).
func NewQueue(ctx context.Context, client *redis.Client, consumerName string, opts driven.QueueOptions) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", domain.ErrInvalidConfig)
	}
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
		opts:         opts.WithDefaults(),
	}

	// Create consumer group if it doesn't exist
	err := q.client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("%w: failed to create consumer group: %v", domain.ErrQueueUnavailable, err)
	}

	return q, nil
}

// Enqueue stores the job and adds it to the stream.
func (q *Queue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrInvalidInput)
	}

	taskData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Use pipeline for atomic operations
	pipe := q.client.TxPipeline()

	pipe.Set(ctx, jobKeyPrefix+job.ID, taskData, 0)
	pipe.ZAdd(ctx, jobIndex, redis.Z{
		Score:  float64(job.ReceivedAt.UnixNano()),
		Member: job.ID,
	})

	if job.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.XAdd(ctx, streamArgs(job.ID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to enqueue job: %v", domain.ErrQueueUnavailable, err)
	}

	return nil
}

// DequeueWithTimeout retrieves the next available job, waiting up to timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.IngestionJob, error) {
	if err := q.promoteScheduledJobs(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to promote scheduled jobs: %v", domain.ErrQueueUnavailable, err)
	}

	// Try to claim abandoned jobs first
	job, err := q.claimAbandonedJob(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	if job != nil {
		return job, nil
	}

	block := timeout
	if block <= 0 {
		block = -1 // no BLOCK argument, return immediately
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumerName,
		Streams:  []string{jobStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No jobs available
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read from stream: %v", domain.ErrQueueUnavailable, err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.deliver(ctx, streams[0].Messages[0])
}

// deliver records a stream message as a delivery of its job. Messages that
// point at missing or finished jobs are dropped, as are reclaimed messages
// whose job has no attempts left.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.IngestionJob, error) {
	jobID, ok := msg.Values["job_id"].(string)
	if !ok {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}

	var delivered *domain.IngestionJob
	err := q.watchJob(ctx, jobID, func(tx *redis.Tx) error {
		delivered = nil
		job, err := readJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.Status.IsTerminal() {
			return nil
		}

		if job.Status == domain.JobStatusProcessing && !job.CanRetry() {
			// The last allowed delivery was abandoned
			job.MarkFailed("visibility timeout exceeded on final attempt")
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, msgKey(job.ID))
				return q.saveJob(ctx, pipe, job)
			})
			return txErr(err, "failed to fail abandoned job")
		}

		job.MarkProcessing()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, msgKey(job.ID), msg.ID, 0)
			return q.saveJob(ctx, pipe, job)
		})
		if err == nil {
			delivered = job
		}
		return txErr(err, "failed to record delivery")
	})
	if err != nil {
		return nil, err
	}
	if delivered == nil {
		q.dropMessage(ctx, msg.ID)
	}
	return delivered, nil
}

// Ack acknowledges successful completion of a job.
func (q *Queue) Ack(ctx context.Context, d domain.Delivery, result *domain.JobResult) error {
	return q.finish(ctx, d, func(job *domain.IngestionJob) bool {
		job.MarkCompleted(result)
		return false
	})
}

// Nack indicates processing failed and should be retried after backoff.
func (q *Queue) Nack(ctx context.Context, d domain.Delivery, reason string) error {
	return q.finish(ctx, d, func(job *domain.IngestionJob) bool {
		if !job.CanRetry() {
			job.MarkFailed(reason)
			return false
		}
		job.Retry(reason, q.opts.Backoff(job.Attempts))
		return true
	})
}

// Fail moves a job to failed without retrying.
func (q *Queue) Fail(ctx context.Context, d domain.Delivery, reason string) error {
	return q.finish(ctx, d, func(job *domain.IngestionJob) bool {
		job.MarkFailed(reason)
		return false
	})
}

// finish acknowledges the job's current stream message and applies update.
// When update returns true the job is scheduled for another delivery.
func (q *Queue) finish(ctx context.Context, d domain.Delivery, update func(*domain.IngestionJob) bool) error {
	return q.watchJob(ctx, d.JobID, func(tx *redis.Tx) error {
		job, err := heldJob(ctx, tx, d)
		if err != nil {
			return err
		}

		msgID, err := tx.Get(ctx, msgKey(d.JobID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: failed to get message ID: %v", domain.ErrQueueUnavailable, err)
		}

		retry := update(job)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if msgID != "" {
				pipe.XAck(ctx, jobStream, jobGroup, msgID)
				pipe.XDel(ctx, jobStream, msgID)
			}
			pipe.Del(ctx, msgKey(d.JobID))
			if retry {
				pipe.ZAdd(ctx, scheduledJobs, redis.Z{
					Score:  float64(job.ScheduledFor.UnixMilli()),
					Member: job.ID,
				})
			}
			return q.saveJob(ctx, pipe, job)
		})
		return txErr(err, "failed to update job")
	})
}

// SetStage records pipeline progress.
func (q *Queue) SetStage(ctx context.Context, d domain.Delivery, stage domain.JobStage) error {
	return q.watchJob(ctx, d.JobID, func(tx *redis.Tx) error {
		job, err := heldJob(ctx, tx, d)
		if err != nil {
			return err
		}
		job.Stage = stage
		job.UpdatedAt = time.Now()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return q.saveJob(ctx, pipe, job)
		})
		return txErr(err, "failed to record stage")
	})
}

// watchJob runs fn with the job record under WATCH, starting over when
// another client writes the record before fn's transaction commits.
func (q *Queue) watchJob(ctx context.Context, jobID string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := q.client.Watch(ctx, fn, jobKeyPrefix+jobID)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: job %s kept changing during update", domain.ErrQueueUnavailable, jobID)
}

// heldJob loads the job and checks that d is still its current delivery.
func heldJob(ctx context.Context, c getter, d domain.Delivery) (*domain.IngestionJob, error) {
	job, err := readJob(ctx, c, d.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", d.JobID, domain.ErrNotFound)
	}
	if !job.HeldBy(d) {
		return nil, fmt.Errorf("job %s attempt %d: %w", d.JobID, d.Attempt, domain.ErrStaleDelivery)
	}
	return job, nil
}

// txErr leaves TxFailedErr intact so watchJob can retry.
func txErr(err error, msg string) error {
	if err == nil || errors.Is(err, redis.TxFailedErr) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrQueueUnavailable, msg, err)
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return job, nil
}

func (q *Queue) getJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	return readJob(ctx, q.client, jobID)
}

// getter is satisfied by both the client and a WATCH transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readJob(ctx context.Context, c getter, jobID string) (*domain.IngestionJob, error) {
	data, err := c.Get(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get job: %v", domain.ErrQueueUnavailable, err)
	}

	var job domain.IngestionJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// saveJob queues a write of the job record. Finished jobs expire after the
// retention period; unfinished ones never expire.
func (q *Queue) saveJob(ctx context.Context, pipe redis.Pipeliner, job *domain.IngestionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	var ttl time.Duration
	if job.Status.IsTerminal() {
		ttl = q.opts.Retention
	}
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, ttl)
	return nil
}

// ListJobs retrieves jobs matching the filter criteria, newest first.
func (q *Queue) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.IngestionJob, error) {
	ids, err := q.client.ZRevRange(ctx, jobIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list jobs: %v", domain.ErrQueueUnavailable, err)
	}

	jobs := make([]*domain.IngestionJob, 0)
	skipped := 0
	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Expired record, drop it from the index
			q.client.ZRem(ctx, jobIndex, id)
			continue
		}

		// Apply filters
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}

		jobs = append(jobs, job)

		// Check limit
		if filter.Limit > 0 && len(jobs) >= filter.Limit {
			break
		}
	}

	return jobs, nil
}

// PurgeJobs removes completed/failed jobs older than the specified age.
func (q *Queue) PurgeJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var purged int

	ids, err := q.client.ZRange(ctx, jobIndex, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list jobs: %v", domain.ErrQueueUnavailable, err)
	}

	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil {
			return purged, err
		}
		if job == nil {
			q.client.ZRem(ctx, jobIndex, id)
			continue
		}

		// Only purge completed/failed jobs that are old enough
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			pipe := q.client.TxPipeline()
			pipe.Del(ctx, jobKeyPrefix+id)
			pipe.ZRem(ctx, jobIndex, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return purged, fmt.Errorf("%w: failed to purge job: %v", domain.ErrQueueUnavailable, err)
			}
			purged++
		}
	}

	return purged, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	jobs, err := q.ListJobs(ctx, driven.JobFilter{})
	if err != nil {
		return nil, err
	}

	stats := &driven.QueueStats{}
	for _, job := range jobs {
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

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

// promoteScheduledJobs moves due retries to the main stream.
func (q *Queue) promoteScheduledJobs(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{scheduledJobs, jobStream}, now).Err()
}

// claimAbandonedJob tries to claim a job whose delivery was never
// acknowledged within the visibility timeout.
func (q *Queue) claimAbandonedJob(ctx context.Context) (*domain.IngestionJob, error) {
	// Get pending messages that have been idle too long
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   q.opts.VisibilityTimeout,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pending deliveries: %v", domain.ErrQueueUnavailable, err)
	}

	for _, p := range pending {
		// Try to claim this message
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumerName,
			MinIdle:  q.opts.VisibilityTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		delivered, err := q.deliver(ctx, claimed[0])
		if err != nil {
			return nil, err
		}
		if delivered != nil {
			return delivered, nil
		}
	}

	return nil, nil
}

func (q *Queue) dropMessage(ctx context.Context, msgID string) {
	q.client.XAck(ctx, jobStream, jobGroup, msgID)
	q.client.XDel(ctx, jobStream, msgID)
}

func msgKey(jobID string) string {
	return jobKeyPrefix + jobID + ":msg"
}

func streamArgs(jobID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{
			"job_id": jobID,
		},
	}
}

// Helper functions

func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
