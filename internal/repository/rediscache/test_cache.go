// Package rediscache layers Redis over the repositories: a read-through cache
// for test definitions and the cross-process autosave guard.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// TestCache is a read-through cache in front of a TestStore. Redis errors
// fall back to the store.
type TestCache struct {
	next repository.TestStore
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewTestCache wraps next.
func NewTestCache(next repository.TestStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestCache {
	return &TestCache{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "test_cache").Logger(),
	}
}

var _ repository.TestStore = (*TestCache)(nil)

func (c *TestCache) GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	key := config.CacheKey.TestDefinitionKey(testID)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t model.TestDefinition
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		c.log.Warn().Str("test_id", testID.String()).Msg("Discarding undecodable cached test")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Test cache read failed, using store")
	}

	t, err := c.next.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := c.Warm(ctx, t); err != nil {
		c.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Test cache write failed")
	}
	return t, nil
}

// Warm stores t in the cache.
func (c *TestCache) Warm(ctx context.Context, t *model.TestDefinition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.TestDefinitionKey(t.ID), data, c.ttl).Err()
}

// Invalidate drops the cached copy of a test.
func (c *TestCache) Invalidate(ctx context.Context, testID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.TestDefinitionKey(testID)).Err()
}
