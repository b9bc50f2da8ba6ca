package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), testutil.Logger(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, testutil.Logger(), func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisClient(t *testing.T) {
	mr, _ := testutil.NewRedis(t)
	cfg := &config.Config{RedisURL: "redis://" + mr.Addr() + "/0"}

	rdb, err := NewRedisClient(context.Background(), cfg, testutil.Logger())
	require.NoError(t, err)
	defer rdb.Close()

	assert.NoError(t, RedisCheck(rdb)(context.Background()))
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), &config.Config{RedisURL: "://nope"}, testutil.Logger())
	assert.ErrorContains(t, err, "parse redis URL")
}
