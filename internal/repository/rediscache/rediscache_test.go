package rediscache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/repository/memory"
	"github.com/stemsi/exstem-engine/internal/repository/rediscache"
	"github.com/stemsi/exstem-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	def := testutil.NewTest(time.Hour)
	store := memory.NewTestStore(def)
	cache := rediscache.NewTestCache(store, rdb, 30*time.Minute, testutil.Logger())

	first, err := cache.GetTest(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Title, first.Title)
	assert.True(t, mr.Exists(config.CacheKey.TestDefinitionKey(def.ID)))

	second, err := cache.GetTest(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Reads(), "second read is served from redis")

	require.Len(t, second.Questions, 3)
	assert.True(t, def.Questions[1].CorrectAnswer.Equal(second.Questions[1].CorrectAnswer), "answer key survives the cache")

	mr.FastForward(31 * time.Minute)
	_, err = cache.GetTest(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Reads(), "expired entries are reloaded")
}

func TestTestCache_NotFoundAndInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	def := testutil.NewTest(time.Hour)
	cache := rediscache.NewTestCache(memory.NewTestStore(def), rdb, time.Minute, testutil.Logger())

	_, err := cache.GetTest(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = cache.GetTest(ctx, def.ID)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, def.ID))
	assert.False(t, mr.Exists(config.CacheKey.TestDefinitionKey(def.ID)))
}

func TestTestCache_RedisDownFallsBack(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	def := testutil.NewTest(time.Hour)
	cache := rediscache.NewTestCache(memory.NewTestStore(def), rdb, time.Minute, testutil.Logger())
	mr.Close()

	got, err := cache.GetTest(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
}

func TestInFlightGuard(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	guard := rediscache.NewInFlightGuard(rdb, 15*time.Second)
	attemptID := uuid.New()

	release, ok, err := guard.Acquire(ctx, attemptID)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(ctx, attemptID)
	require.NoError(t, err)
	assert.False(t, ok, "second writer is turned away")

	_, ok, err = guard.Acquire(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok, "other attempts are independent")

	release()
	assert.False(t, mr.Exists(config.CacheKey.AutosaveInFlightKey(attemptID)))

	again, ok, err := guard.Acquire(ctx, attemptID)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestInFlightGuard_ReleaseKeepsForeignLease(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testutil.NewRedis(t)
	guard := rediscache.NewInFlightGuard(rdb, time.Second)
	attemptID := uuid.New()

	release, ok, err := guard.Acquire(ctx, attemptID)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = guard.Acquire(ctx, attemptID)
	require.NoError(t, err)
	require.True(t, ok, "expired lease can be retaken")

	release()
	assert.True(t, mr.Exists(config.CacheKey.AutosaveInFlightKey(attemptID)), "stale release must not drop the new lease")
}
