package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BatchOptions tunes the queue consumers.
type BatchOptions struct {
	Size    int           // flush once this many items are buffered
	Window  time.Duration // or once the oldest buffered item is this old
	Poll    time.Duration // BLPOP timeout, must be >= 1s for Redis
	Backoff time.Duration // pause after requeueing failed items
}

// DefaultBatchOptions matches the production settings.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Size:    50,
		Window:  2 * time.Second,
		Poll:    time.Second,
		Backoff: 2 * time.Second,
	}
}

func (o BatchOptions) withDefaults() BatchOptions {
	d := DefaultBatchOptions()
	if o.Size <= 0 {
		o.Size = d.Size
	}
	if o.Window < 0 {
		o.Window = d.Window
	}
	if o.Poll <= 0 {
		o.Poll = d.Poll
	}
	if o.Backoff < 0 {
		o.Backoff = d.Backoff
	}
	return o
}

// pop blocks for one item of queue. ok is false on timeout or error; a real
// Redis error is logged and followed by a short pause.
func pop(ctx context.Context, rdb *redis.Client, queue string, poll time.Duration, log zerolog.Logger) (string, bool) {
	item, err := rdb.BLPop(ctx, poll, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return "", false
		}
		log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
		sleep(ctx, 3*time.Second)
		return "", false
	}
	if len(item) < 2 {
		return "", false
	}
	return item[1], true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// shutdownContext bounds the final flush after the worker's context ended.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
