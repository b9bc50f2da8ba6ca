package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// IntegrityWorker moves counted exits from persist_integrity_events_queue into
// the integrity_events audit table.
type IntegrityWorker struct {
	rdb  *redis.Client
	sink repository.IntegrityEventStore
	opts BatchOptions
	log  zerolog.Logger
}

// NewIntegrityWorker creates a new IntegrityWorker.
func NewIntegrityWorker(rdb *redis.Client, sink repository.IntegrityEventStore, opts BatchOptions, log zerolog.Logger) *IntegrityWorker {
	return &IntegrityWorker{
		rdb:  rdb,
		sink: sink,
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "integrity_worker").Logger(),
	}
}

// Start runs until ctx ends, then flushes what is buffered. Call in a goroutine.
func (w *IntegrityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("IntegrityWorker started")

	buffer := make([]model.IntegrityEvent, 0, w.opts.Size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= w.opts.Size || time.Since(lastFlush) >= w.opts.Window) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
			flushCtx, cancel := shutdownContext()
			if len(buffer) > 0 {
				w.flushSafe(flushCtx, buffer)
			}
			cancel()
			return
		default:
		}

		raw, ok := pop(ctx, w.rdb, config.WorkerKey.PersistIntegrityEventsQueue, w.opts.Poll, w.log)
		if !ok {
			continue
		}

		var e model.IntegrityEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil || e.AttemptID == uuid.Nil {
			// Malformed payloads can never succeed.
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed integrity event")
			continue
		}
		if len(buffer) == 0 {
			lastFlush = time.Now()
		}
		buffer = append(buffer, e)
	}
}

// flushSafe tries COPY, then row-by-row inserts, then requeues what is left.
func (w *IntegrityWorker) flushSafe(ctx context.Context, batch []model.IntegrityEvent) {
	_, err := w.sink.CopyEvents(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var requeue []model.IntegrityEvent
	for _, e := range batch {
		if err := w.sink.InsertEvent(ctx, e); err != nil {
			w.log.Error().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, e)
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *IntegrityWorker) requeue(ctx context.Context, items []model.IntegrityEvent) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue integrity events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
	sleep(ctx, w.opts.Backoff)
}
