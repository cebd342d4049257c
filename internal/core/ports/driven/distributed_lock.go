package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates housekeeping across worker processes, so that
// only one of them purges finished jobs at a time.
type DistributedLock interface {
	// Acquire tries to take a named lock for ttl without blocking.
	// It returns false when another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops a lock held by this instance. Releasing a lock that is
	// not held, or has expired, is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes out the expiry of a lock this instance holds.
	// Backends without expiry only verify that the lock is held.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
