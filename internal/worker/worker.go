package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
)

// purgeLockName serializes the retention janitor across worker processes
const purgeLockName = "ingest-purge"

// Pipeline runs one job to the INDEXED stage
type Pipeline interface {
	Run(ctx context.Context, job *domain.IngestionJob, observe services.StageObserver) (*domain.JobResult, error)
}

// Worker processes ingestion jobs from the queue.
// Each goroutine takes one job at a time, runs the pipeline and then
// acknowledges, retries or fails the job depending on the outcome.
type Worker struct {
	queue    driven.JobQueue
	pipeline Pipeline
	lock     driven.DistributedLock
	logger   *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout time.Duration
	jobTTL         time.Duration
	purgeInterval  time.Duration
	retention      time.Duration

	// Counters since start
	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64

	// Internal state
	mu      sync.RWMutex
	running bool
	stop    context.CancelFunc
	doneCh  chan struct{}
}

// Config holds configuration for the worker.
type Config struct {
	Queue    driven.JobQueue
	Pipeline Pipeline

	// Lock guards the purge janitor; nil runs it unguarded
	Lock   driven.DistributedLock
	Logger *slog.Logger

	// Concurrency is the number of jobs processed at once
	Concurrency int

	// DequeueTimeout is how long one dequeue call waits for work
	DequeueTimeout time.Duration

	// JobTTL fails jobs received longer ago than this; zero disables expiry
	JobTTL time.Duration

	// PurgeInterval is how often finished jobs older than Retention are
	// removed; zero disables the janitor
	PurgeInterval time.Duration
	Retention     time.Duration
}

// NewWorker creates a new job worker.
func NewWorker(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = driven.DefaultQueueOptions().Retention
	}

	return &Worker{
		queue:          cfg.Queue,
		pipeline:       cfg.Pipeline,
		lock:           cfg.Lock,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		jobTTL:         cfg.JobTTL,
		purgeInterval:  cfg.PurgeInterval,
		retention:      retention,
	}
}

// Start launches the worker goroutines and returns immediately.
// They run until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if w.queue == nil || w.pipeline == nil {
		w.mu.Unlock()
		return fmt.Errorf("%w: worker needs a queue and a pipeline", domain.ErrInvalidConfig)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.stop = cancel
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
		"job_ttl", w.jobTTL,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(loopCtx, workerID)
		}(i)
	}

	if w.purgeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.purgeLoop(loopCtx)
		}()
	}

	go func() {
		wg.Wait()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	return nil
}

// Stop stops taking new jobs and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.RLock()
	if !w.running {
		w.mu.RUnlock()
		return
	}
	stop, done := w.stop, w.doneCh
	w.mu.RUnlock()

	stop()
	<-done

	w.logger.Info("worker stopped",
		"processed", w.processed.Load(),
		"retried", w.retried.Load(),
		"failed", w.failed.Load(),
	)
}

// Wait blocks until every worker goroutine has exited.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker goroutine exiting")
			return
		}

		job, err := w.queue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue job", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		// A started job runs to completion even when Stop is called.
		w.processJob(context.WithoutCancel(ctx), job, logger)
	}
}

// processJob runs a single delivered job and settles it on the queue.
func (w *Worker) processJob(ctx context.Context, job *domain.IngestionJob, logger *slog.Logger) {
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	logger = logger.With("job_id", job.ID, "source", job.SourceRef(), "attempt", job.Attempts)

	if job.Expired(w.jobTTL, time.Now()) {
		err := fmt.Errorf("%w: received at %s, ttl %s", domain.ErrJobExpired, job.ReceivedAt.Format(time.RFC3339), w.jobTTL)
		w.settleFailure(ctx, job, err, logger)
		return
	}

	logger.Info("processing job")
	start := time.Now()

	result, err := w.pipeline.Run(ctx, job, w.recordStage)
	if err != nil {
		w.settleFailure(ctx, job, err, logger)
		return
	}

	if err := w.queue.Ack(ctx, job.Delivery(), result); err != nil {
		// The lease will lapse and the job will be delivered again.
		logSettleError(logger, "failed to ack job", err)
		return
	}
	w.processed.Add(1)

	logger.Info("job acknowledged",
		"chunks", result.ChunkCount,
		"duration", time.Since(start),
	)
}

// settleFailure retries transient failures and fails permanent ones.
func (w *Worker) settleFailure(ctx context.Context, job *domain.IngestionJob, cause error, logger *slog.Logger) {
	if domain.IsRetryable(cause) {
		w.retried.Add(1)
		logger.Warn("job failed, will retry if attempts remain",
			"error", cause,
			"max_attempts", job.MaxAttempts,
		)
		if err := w.queue.Nack(ctx, job.Delivery(), cause.Error()); err != nil {
			logSettleError(logger, "failed to nack job", err)
		}
		if !job.CanRetry() {
			w.failed.Add(1)
		}
		return
	}

	w.failed.Add(1)
	logger.Error("job failed permanently", "error", cause)
	if err := w.queue.Fail(ctx, job.Delivery(), cause.Error()); err != nil {
		logSettleError(logger, "failed to mark job failed", err)
	}
}

// logSettleError reports a settlement the queue refused. A stale delivery
// means another worker owns the job now, which is expected after a lease
// lapses.
func logSettleError(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, domain.ErrStaleDelivery) {
		logger.Warn("delivery superseded, result discarded", "error", err)
		return
	}
	logger.Error(msg, "error", err)
}

// recordStage stores pipeline progress on the queue. Progress is advisory,
// so a failed write is logged and the job carries on.
func (w *Worker) recordStage(ctx context.Context, job *domain.IngestionJob, stage domain.JobStage) {
	if err := w.queue.SetStage(ctx, job.Delivery(), stage); err != nil {
		w.logger.Warn("failed to record job stage",
			"job_id", job.ID,
			"stage", stage,
			"error", err,
		)
	}
}

// purgeLoop removes finished jobs past retention on every tick.
func (w *Worker) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(w.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Purge(ctx); err != nil {
				w.logger.Error("job purge failed", "error", err)
			}
		}
	}
}

// Purge removes finished jobs older than the retention period. With a lock
// configured it does nothing while another process holds the purge lock.
func (w *Worker) Purge(ctx context.Context) (int, error) {
	if w.lock != nil {
		ttl := w.purgeInterval
		if ttl <= 0 {
			ttl = time.Minute
		}
		acquired, err := w.lock.Acquire(ctx, purgeLockName, ttl)
		if err != nil {
			return 0, err
		}
		if !acquired {
			w.logger.Debug("purge skipped, lock held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := w.lock.Release(context.WithoutCancel(ctx), purgeLockName); err != nil {
				w.logger.Warn("failed to release purge lock", "error", err)
			}
		}()
	}

	n, err := w.queue.PurgeJobs(ctx, w.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("purged finished jobs", "count", n, "older_than", w.retention)
	}
	return n, nil
}

// Health describes the worker pool and its queue.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	InFlight    int64  `json:"in_flight"`
	Processed   int64  `json:"processed"`
	Retried     int64  `json:"retried"`
	Failed      int64  `json:"failed"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running:   running,
		InFlight:  w.inFlight.Load(),
		Processed: w.processed.Load(),
		Retried:   w.retried.Load(),
		Failed:    w.failed.Load(),
	}

	if err := w.queue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
