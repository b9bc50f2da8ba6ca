package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/queue"
)

// Recomputer re-places every completed attempt of a test.
type Recomputer interface {
	Recompute(ctx context.Context, testID uuid.UUID) (int, error)
}

// RankingWorker consumes recompute_ranks_queue. Requests for the same test
// that arrive within one batch window collapse into a single recompute.
type RankingWorker struct {
	rdb    *redis.Client
	ranker Recomputer
	opts   BatchOptions
	log    zerolog.Logger
}

// NewRankingWorker creates a new RankingWorker.
func NewRankingWorker(rdb *redis.Client, ranker Recomputer, opts BatchOptions, log zerolog.Logger) *RankingWorker {
	return &RankingWorker{
		rdb:    rdb,
		ranker: ranker,
		opts:   opts.withDefaults(),
		log:    log.With().Str("component", "ranking_worker").Logger(),
	}
}

// Start runs until ctx ends, then flushes what is buffered. Call in a goroutine.
func (w *RankingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RankingWorker started")

	pending := make(map[uuid.UUID]struct{})
	lastFlush := time.Now()

	for {
		if len(pending) > 0 &&
			(len(pending) >= w.opts.Size || time.Since(lastFlush) >= w.opts.Window) {
			w.flush(ctx, pending)
			clear(pending)
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(pending)).Msg("Shutdown requested, flushing pending tests")
			flushCtx, cancel := shutdownContext()
			w.flush(flushCtx, pending)
			cancel()
			return
		default:
		}

		raw, ok := pop(ctx, w.rdb, config.WorkerKey.RecomputeRanksQueue, w.opts.Poll, w.log)
		if !ok {
			continue
		}

		var p queue.RankRecompute
		if err := json.Unmarshal([]byte(raw), &p); err != nil || p.TestID == uuid.Nil {
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed recompute request")
			continue
		}
		if len(pending) == 0 {
			lastFlush = time.Now()
		}
		pending[p.TestID] = struct{}{}
	}
}

func (w *RankingWorker) flush(ctx context.Context, pending map[uuid.UUID]struct{}) {
	var failed []uuid.UUID
	for testID := range pending {
		n, err := w.ranker.Recompute(ctx, testID)
		if err != nil {
			w.log.Error().Err(err).Str("test_id", testID.String()).Msg("Recompute failed, requeueing")
			failed = append(failed, testID)
			continue
		}
		w.log.Debug().Str("test_id", testID.String()).Int("placed", n).Msg("Recomputed ranks")
	}

	if len(failed) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, id := range failed {
		data, _ := json.Marshal(queue.RankRecompute{TestID: id})
		pipe.RPush(ctx, config.WorkerKey.RecomputeRanksQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(failed)).Msg("Failed to requeue recompute requests")
		return
	}
	sleep(ctx, w.opts.Backoff)
}
