// Package queue hands background work to the Redis list workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher enqueues a JSON payload onto a named queue.
type Publisher interface {
	Enqueue(ctx context.Context, queue string, payload any) error
}

// RedisQueue appends payloads to Redis lists consumed with BLPOP.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a new RedisQueue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

var _ Publisher = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	if err := q.rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

// Len reports how many payloads wait on queue.
func (q *RedisQueue) Len(ctx context.Context, queue string) (int64, error) {
	return q.rdb.LLen(ctx, queue).Result()
}

// Discard drops every payload.
type Discard struct{}

func (Discard) Enqueue(context.Context, string, any) error { return nil }

// RankRecompute asks the ranking worker to re-place every completed attempt
// of a test.
type RankRecompute struct {
	TestID uuid.UUID `json:"test_id"`
}
