package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates a caller or programmer error in configuration.
	// Fatal, never retried.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrLoad indicates a source document could not be read or parsed.
	// Terminal for the job that hit it.
	ErrLoad = errors.New("document load failed")

	// ErrUnsupportedFormat indicates no loader is registered for a file type
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmbeddingUnavailable indicates the embedding provider could not be reached
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexUnavailable indicates a vector index I/O failure
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrGenerationUnavailable indicates the answer generator could not be reached
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrDimensionMismatch indicates a vector does not match the collection dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrJobExpired indicates a job sat in the queue longer than the configured TTL
	ErrJobExpired = errors.New("job expired")

	// ErrQueueUnavailable indicates the job queue backend failed
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrStaleDelivery indicates a job was settled through a delivery that
	// has since been reclaimed or handed to another worker
	ErrStaleDelivery = errors.New("stale delivery")
)

// permanentErrors never succeed on retry.
var permanentErrors = []error{
	ErrInvalidConfig,
	ErrInvalidInput,
	ErrLoad,
	ErrUnsupportedFormat,
	ErrDimensionMismatch,
	ErrJobExpired,
	ErrStaleDelivery,
}

// IsRetryable reports whether a failed job should be requeued.
// Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
