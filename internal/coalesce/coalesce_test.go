package coalesce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
)

func testCoalescer(t *testing.T) (*Coalescer, kvstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kvstore.NewRedisStoreFromClient(client)
	c := New(store, kvstore.NewKeyspace("1"))
	c.Attempts = 3
	c.PollInterval = 5 * time.Millisecond
	return c, store, mr
}

func TestAcquireLock_FirstWins(t *testing.T) {
	c, _, _ := testCoalescer(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "user:q", "corr-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "user:q", "corr-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different key is independent.
	ok, err = c.AcquireLock(ctx, "other:q", "corr-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLock_OwnerOnly(t *testing.T) {
	c, _, _ := testCoalescer(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "user:q", "corr-1")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release is a no-op.
	require.NoError(t, c.ReleaseLock(ctx, "user:q", "corr-2"))
	ok, err = c.AcquireLock(ctx, "user:q", "corr-3")
	require.NoError(t, err)
	assert.False(t, ok, "lock must survive a non-owner release")

	require.NoError(t, c.ReleaseLock(ctx, "user:q", "corr-1"))
	ok, err = c.AcquireLock(ctx, "user:q", "corr-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseLock_MissingIsNoop(t *testing.T) {
	c, _, _ := testCoalescer(t)
	assert.NoError(t, c.ReleaseLock(context.Background(), "never-locked", "corr-1"))
}

func TestLockExpires(t *testing.T) {
	c, _, mr := testCoalescer(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "user:q", "corr-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(DefaultLockTTL + time.Second)

	ok, err = c.AcquireLock(ctx, "user:q", "corr-2")
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder must not block forever")
}

func TestWaitForResult_Appears(t *testing.T) {
	c, store, _ := testCoalescer(t)
	ctx := context.Background()

	go func() {
		time.Sleep(8 * time.Millisecond)
		_ = store.Set(ctx, "result", "done", 0)
	}()

	err := c.WaitForResult(ctx, "user:q", func(ctx context.Context) (bool, error) {
		_, err := store.Get(ctx, "result")
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	assert.NoError(t, err)
}

func TestWaitForResult_Timeout(t *testing.T) {
	c, _, _ := testCoalescer(t)

	err := c.WaitForResult(context.Background(), "user:q", func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForResult_ContextCancel(t *testing.T) {
	c, _, _ := testCoalescer(t)
	c.PollInterval = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.WaitForResult(ctx, "user:q", func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
