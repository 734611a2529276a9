package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return mr, client, cleanup
}

func TestLocker_AcquireRelease(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	locker := NewLocker(client, "analysis:start:", 5*time.Second)

	lk, err := locker.Acquire(ctx, "42")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "42")
	assert.ErrorIs(t, err, ErrNotAcquired)

	// 不同的键互不影响
	other, err := locker.Acquire(ctx, "43")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lk.Release(ctx))

	again, err := locker.Acquire(ctx, "42")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_Expiry(t *testing.T) {
	mr, client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	locker := NewLocker(client, "analysis:start:", time.Second)

	lk, err := locker.Acquire(ctx, "7")
	require.NoError(t, err)
	assert.True(t, mr.Exists("analysis:start:7"))

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("analysis:start:7"))

	next, err := locker.Acquire(ctx, "7")
	require.NoError(t, err)

	// 过期的旧锁不能释放新持有者的锁
	require.NoError(t, lk.Release(ctx))
	assert.True(t, mr.Exists("analysis:start:7"))

	require.NoError(t, next.Release(ctx))
	assert.False(t, mr.Exists("analysis:start:7"))
}

func TestLocker_AcquireWait(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	locker := NewLocker(client, "analysis:start:", 5*time.Second)

	lk, err := locker.Acquire(ctx, "1")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		lk.Release(ctx)
	}()

	got, err := locker.AcquireWait(ctx, "1", 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, got.Release(ctx))

	held, err := locker.Acquire(ctx, "1")
	require.NoError(t, err)
	_, err = locker.AcquireWait(ctx, "1", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)
	require.NoError(t, held.Release(ctx))
}
