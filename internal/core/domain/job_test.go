package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Error("expected non-empty ID")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	// Canonical UUID string form
	if len(id1) != 36 {
		t.Errorf("expected ID length 36, got %d", len(id1))
	}
}

func TestNewIngestionJob(t *testing.T) {
	job := NewIngestionJob("uploads/1700000000-42-report.pdf", "report.pdf")

	if job.ID == "" {
		t.Error("expected non-empty ID")
	}
	if job.SourcePath != "uploads/1700000000-42-report.pdf" {
		t.Errorf("unexpected source path %s", job.SourcePath)
	}
	if job.OriginalName != "report.pdf" {
		t.Errorf("unexpected original name %s", job.OriginalName)
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected status %s, got %s", JobStatusPending, job.Status)
	}
	if job.Stage != JobStageReceived {
		t.Errorf("expected stage %s, got %s", JobStageReceived, job.Stage)
	}
	if job.Attempts != 0 {
		t.Errorf("expected attempts 0, got %d", job.Attempts)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, job.MaxAttempts)
	}
	if job.ReceivedAt.IsZero() || job.ScheduledFor.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if !job.IsReady() {
		t.Error("expected new job to be ready")
	}
}

func TestIngestionJob_SourceRef(t *testing.T) {
	job := NewIngestionJob("/tmp/abc.pdf", "notes.pdf")
	if job.SourceRef() != "notes.pdf" {
		t.Errorf("expected original name, got %s", job.SourceRef())
	}

	job.OriginalName = ""
	if job.SourceRef() != "/tmp/abc.pdf" {
		t.Errorf("expected path fallback, got %s", job.SourceRef())
	}
}

func TestIngestionJob_Lifecycle(t *testing.T) {
	job := NewIngestionJob("a.txt", "a.txt")

	job.MarkProcessing()
	if job.Status != JobStatusProcessing {
		t.Errorf("expected processing, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	job.Retry("embedding unavailable", time.Minute)
	if job.Status != JobStatusPending {
		t.Errorf("expected pending after retry, got %s", job.Status)
	}
	if job.Error != "embedding unavailable" {
		t.Errorf("expected error to be recorded, got %q", job.Error)
	}
	if job.IsReady() {
		t.Error("expected retried job to wait for its backoff")
	}

	job.MarkProcessing()
	job.MarkCompleted(&JobResult{JobID: job.ID, ChunkCount: 3, EntryIDs: []string{"a", "b", "c"}})
	if job.ChunkCount != 3 || len(job.EntryIDs) != 3 {
		t.Errorf("expected result to be recorded, got %d chunks, %d ids", job.ChunkCount, len(job.EntryIDs))
	}
	if job.Status != JobStatusCompleted || job.Stage != JobStageAcknowledged {
		t.Errorf("expected completed/acknowledged, got %s/%s", job.Status, job.Stage)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if job.Error != "" {
		t.Error("expected error to be cleared")
	}
	if !job.Status.IsTerminal() {
		t.Error("expected completed to be terminal")
	}
}

func TestIngestionJob_MarkFailed(t *testing.T) {
	job := NewIngestionJob("a.pdf", "a.pdf")
	job.MarkProcessing()
	job.MarkFailed("corrupt file")

	if job.Status != JobStatusFailed || job.Stage != JobStageFailed {
		t.Errorf("expected failed/failed, got %s/%s", job.Status, job.Stage)
	}
	if job.Error != "corrupt file" {
		t.Errorf("unexpected error %q", job.Error)
	}
}

func TestIngestionJob_CanRetry(t *testing.T) {
	job := NewIngestionJob("a.pdf", "a.pdf")
	job.MaxAttempts = 2

	job.MarkProcessing()
	if !job.CanRetry() {
		t.Error("expected retry after first attempt")
	}
	job.MarkProcessing()
	if job.CanRetry() {
		t.Error("expected no retry once attempts reach the limit")
	}
}

func TestIngestionJob_Expired(t *testing.T) {
	job := NewIngestionJob("a.pdf", "a.pdf")
	job.ReceivedAt = time.Now().Add(-2 * time.Hour)

	if job.Expired(0, time.Now()) {
		t.Error("zero ttl never expires")
	}
	if !job.Expired(time.Hour, time.Now()) {
		t.Error("expected job older than ttl to be expired")
	}
	if job.Expired(3*time.Hour, time.Now()) {
		t.Error("expected job within ttl to be live")
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{9, 256 * time.Second},
		{10, 5 * time.Minute},
		{40, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := RetryBackoff(tt.attempts); got != tt.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestJobStage_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStage
		want     bool
	}{
		{JobStageReceived, JobStageLoaded, true},
		{JobStageLoaded, JobStageChunked, true},
		{JobStageChunked, JobStageEmbedded, true},
		{JobStageEmbedded, JobStageIndexed, true},
		{JobStageIndexed, JobStageAcknowledged, true},
		{JobStageReceived, JobStageEmbedded, false},
		{JobStageEmbedded, JobStageLoaded, false},
		{JobStageChunked, JobStageFailed, true},
		{JobStageEmbedded, JobStageReceived, true},
		{JobStageAcknowledged, JobStageFailed, false},
		{JobStageFailed, JobStageReceived, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIngestionJob_Clone(t *testing.T) {
	job := NewIngestionJob("a.pdf", "a.pdf")
	job.MarkProcessing()
	job.MarkCompleted(&JobResult{EntryIDs: []string{"x"}})

	c := job.Clone()
	c.EntryIDs[0] = "changed"
	*c.StartedAt = time.Time{}

	if job.EntryIDs[0] != "x" {
		t.Error("clone shares EntryIDs with original")
	}
	if job.StartedAt.IsZero() {
		t.Error("clone shares StartedAt with original")
	}
}

func TestIngestionJob_HeldBy(t *testing.T) {
	job := NewIngestionJob("a.pdf", "a.pdf")
	if job.HeldBy(job.Delivery()) {
		t.Error("a pending job has no live delivery")
	}

	job.MarkProcessing()
	first := job.Delivery()
	if first.JobID != job.ID || first.Attempt != 1 {
		t.Errorf("unexpected delivery %+v", first)
	}
	if !job.HeldBy(first) {
		t.Error("expected the current delivery to hold the job")
	}

	// Lease lapsed and the job went to another worker
	job.Retry("visibility timeout exceeded", 0)
	job.MarkProcessing()
	if job.HeldBy(first) {
		t.Error("superseded delivery still holds the job")
	}
	second := job.Delivery()
	if !job.HeldBy(second) {
		t.Error("expected the redelivery to hold the job")
	}

	job.MarkCompleted(nil)
	if job.HeldBy(second) {
		t.Error("a completed job has no live delivery")
	}
}
