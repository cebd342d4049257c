package domain

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// DefaultMaxAttempts is how many deliveries a job gets before it is failed
const DefaultMaxAttempts = 3

// maxBackoff caps the retry delay
const maxBackoff = 5 * time.Minute

// JobStatus represents the delivery state of a job in the queue
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true once the queue will never deliver the job again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStage is the pipeline position of a job.
// RECEIVED -> LOADED -> CHUNKED -> EMBEDDED -> INDEXED -> ACKNOWLEDGED,
// with FAILED reachable from any non-terminal stage.
type JobStage string

const (
	JobStageReceived     JobStage = "received"
	JobStageLoaded       JobStage = "loaded"
	JobStageChunked      JobStage = "chunked"
	JobStageEmbedded     JobStage = "embedded"
	JobStageIndexed      JobStage = "indexed"
	JobStageAcknowledged JobStage = "acknowledged"
	JobStageFailed       JobStage = "failed"
)

var stageOrder = map[JobStage]int{
	JobStageReceived:     0,
	JobStageLoaded:       1,
	JobStageChunked:      2,
	JobStageEmbedded:     3,
	JobStageIndexed:      4,
	JobStageAcknowledged: 5,
}

// IsTerminal returns true for ACKNOWLEDGED and FAILED
func (s JobStage) IsTerminal() bool {
	return s == JobStageAcknowledged || s == JobStageFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// Stages only advance one at a time; FAILED is reachable from any non-terminal stage.
// A redelivered job restarts at RECEIVED.
func (s JobStage) CanTransition(next JobStage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStageFailed || next == JobStageReceived {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

// IngestionJob is a request to ingest one uploaded document.
// SourcePath, OriginalName and ReceivedAt never change after creation;
// the remaining fields are delivery bookkeeping owned by the queue.
type IngestionJob struct {
	// ID is the unique identifier for this job
	ID string `json:"id"`

	// SourcePath is where the uploaded file lives on disk
	SourcePath string `json:"source_path"`

	// OriginalName is the file name the client uploaded
	OriginalName string `json:"original_name"`

	// ReceivedAt is when the upload boundary accepted the file
	ReceivedAt time.Time `json:"received_at"`

	Status JobStatus `json:"status"`
	Stage  JobStage  `json:"stage"`

	// Attempts is how many times this job has been delivered
	Attempts int `json:"attempts"`

	// MaxAttempts is the delivery limit before the job is failed
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message
	Error string `json:"error,omitempty"`

	// ChunkCount and EntryIDs record what the last successful run wrote
	ChunkCount int      `json:"chunk_count,omitempty"`
	EntryIDs   []string `json:"entry_ids,omitempty"`

	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewIngestionJob creates a job for an uploaded file
func NewIngestionJob(sourcePath, originalName string) *IngestionJob {
	now := time.Now()
	return &IngestionJob{
		ID:           GenerateID(),
		SourcePath:   sourcePath,
		OriginalName: originalName,
		ReceivedAt:   now,
		Status:       JobStatusPending,
		Stage:        JobStageReceived,
		MaxAttempts:  DefaultMaxAttempts,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// SourceRef identifies the document a job's chunks came from
func (j *IngestionJob) SourceRef() string {
	if j.OriginalName != "" {
		return j.OriginalName
	}
	return j.SourcePath
}

// CanRetry returns true if the job has deliveries left
func (j *IngestionJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Delivery identifies one hand-out of a job to a worker. Attempt is the
// job's delivery count at hand-out, so every redelivery gets a new one.
type Delivery struct {
	JobID   string
	Attempt int
}

// Delivery returns the delivery this copy of the job was handed out under
func (j *IngestionJob) Delivery() Delivery {
	return Delivery{JobID: j.ID, Attempt: j.Attempts}
}

// HeldBy reports whether d is the job's live delivery: the job is still
// processing and has not been handed out since.
func (j *IngestionJob) HeldBy(d Delivery) bool {
	return j.Status == JobStatusProcessing && j.Attempts == d.Attempt
}

// IsReady returns true if the job is waiting and due
func (j *IngestionJob) IsReady() bool {
	return j.Status == JobStatusPending && !time.Now().Before(j.ScheduledFor)
}

// Expired reports whether the job is older than ttl. A zero ttl never expires.
func (j *IngestionJob) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(j.ReceivedAt) > ttl
}

// MarkProcessing records a new delivery
func (j *IngestionJob) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.Stage = JobStageReceived
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted updates the job after acknowledgment.
// result may be nil when the caller did not keep one.
func (j *IngestionJob) MarkCompleted(result *JobResult) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Stage = JobStageAcknowledged
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Error = ""
	if result != nil {
		j.ChunkCount = result.ChunkCount
		j.EntryIDs = append([]string(nil), result.EntryIDs...)
	}
}

// Clone returns a deep copy safe to hand out of a queue
func (j *IngestionJob) Clone() *IngestionJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.EntryIDs != nil {
		c.EntryIDs = append([]string(nil), j.EntryIDs...)
	}
	return &c
}

// MarkFailed moves the job to its terminal failed state
func (j *IngestionJob) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Stage = JobStageFailed
	j.UpdatedAt = now
	j.Error = err
}

// Retry resets the job for another delivery after backoff
func (j *IngestionJob) Retry(err string, backoff time.Duration) {
	now := time.Now()
	j.Status = JobStatusPending
	j.UpdatedAt = now
	j.Error = err
	j.ScheduledFor = now.Add(backoff)
}

// RetryBackoff returns the delay before redelivery after the given number of
// attempts: 1s, 2s, 4s, ... capped at 5 minutes.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxBackoff
	}
	backoff := time.Duration(1<<attempts) * time.Second / 2
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// JobResult represents the outcome of running the pipeline for a job
type JobResult struct {
	JobID      string        `json:"job_id"`
	Stage      JobStage      `json:"stage"`
	ChunkCount int           `json:"chunk_count"`
	EntryIDs   []string      `json:"entry_ids,omitempty"`
	Duration   time.Duration `json:"duration"`
}
