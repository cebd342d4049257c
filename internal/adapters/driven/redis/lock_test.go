package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLock_OwnerIDsAreUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	assert.NotEqual(t, NewLock(client).OwnerID(), NewLock(client).OwnerID())
}

func TestLock_AcquireIsExclusive(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "ingest-purge", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "ingest-purge", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lock")

	// not reentrant either
	ok, err = a.Acquire(ctx, "ingest-purge", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// other names are independent
	ok, err = b.Acquire(ctx, "other", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	require.NoError(t, b.Release(ctx, "ingest-purge"), "releasing an unheld lock is fine")

	ok, err := a.Acquire(ctx, "ingest-purge", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx, "ingest-purge"))
	ok, _ = b.Acquire(ctx, "ingest-purge", 10*time.Second)
	assert.False(t, ok, "foreign release must not drop the lock")

	require.NoError(t, a.Release(ctx, "ingest-purge"))
	ok, _ = b.Acquire(ctx, "ingest-purge", 10*time.Second)
	assert.True(t, ok)
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "ingest-purge", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.Acquire(ctx, "ingest-purge", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be free")
}

func TestLock_Extend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	err := a.Extend(ctx, "ingest-purge", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "extending an unheld lock: %v", err)

	ok, err := a.Acquire(ctx, "ingest-purge", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, "ingest-purge", time.Minute))
	assert.Error(t, b.Extend(ctx, "ingest-purge", time.Minute))

	mr.FastForward(10 * time.Second)
	ok, _ = b.Acquire(ctx, "ingest-purge", time.Second)
	assert.False(t, ok, "extended lock should still be held")
}

func TestLock_InvalidTTL(t *testing.T) {
	_, client := setupTestRedis(t)
	_, err := NewLock(client).Acquire(context.Background(), "x", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLock_Ping(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewLock(client)
	require.NoError(t, lock.Ping(context.Background()))

	mr.Close()
	assert.ErrorIs(t, lock.Ping(context.Background()), domain.ErrQueueUnavailable)
}
