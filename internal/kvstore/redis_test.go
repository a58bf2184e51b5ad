package kvstore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestRedisStore_GetSetDel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetWithTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetNX(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while key exists")

	v, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", v)
}

func TestRedisStore_IncrBy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.IncrBy(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.IncrBy(ctx, "counter", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	got, err := GetInt(ctx, s, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)

	got, err = GetInt(ctx, s, "absent")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRedisStore_SortedSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "zs",
		Member{Value: "a", Score: 1},
		Member{Value: "b", Score: 2},
		Member{Value: "c", Score: 3},
	))

	vals, err := s.ZRangeByScore(ctx, "zs", 2, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, vals)

	require.NoError(t, s.ZRem(ctx, "zs", "b"))
	vals, err = s.ZRangeByScore(ctx, "zs", math.Inf(-1), math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, vals)
}
