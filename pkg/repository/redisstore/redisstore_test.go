package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return New(client), mr
}

func TestMarkUpdateDeduplicates(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	first, err := store.MarkUpdate(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkUpdate(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(DefaultDedupTTL + time.Second)

	afterTTL, err := store.MarkUpdate(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, afterTTL)
}

func TestForgetUpdate(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.MarkUpdate(ctx, 2001)
	require.NoError(t, err)
	require.NoError(t, store.ForgetUpdate(ctx, 2001))

	fresh, err := store.MarkUpdate(ctx, 2001)
	require.NoError(t, err)
	assert.True(t, fresh)

	assert.NoError(t, store.ForgetUpdate(ctx, 9999), "unknown ids are fine")
}

func TestUserLock(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := store.TryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must wait")

	_, ok, err = store.TryLock(ctx, 43)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per user")

	require.NoError(t, store.Unlock(ctx, 42, "someone-else"))
	_, ok, err = store.TryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token does not release")

	require.NoError(t, store.Unlock(ctx, 42, token))
	_, ok, err = store.TryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockWaitsForRelease(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := store.TryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = store.Unlock(context.Background(), 7, token)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = store.Lock(waitCtx, 7)
	assert.NoError(t, err)
}

func TestLockHonoursContext(t *testing.T) {
	store, _ := setupTestRedis(t)
	_, ok, err := store.TryLock(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
