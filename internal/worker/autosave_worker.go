package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/answer"
)

// SnapshotSource yields the current answer state of a live session.
type SnapshotSource interface {
	Snapshot() answer.Snapshot
}

// SaveFunc persists one snapshot.
type SaveFunc func(ctx context.Context, snap answer.Snapshot) error

// TickResult tells what one autosave attempt did.
type TickResult string

const (
	TickSkipped   TickResult = "skipped"   // a write was still in flight
	TickUnchanged TickResult = "unchanged" // nothing new since the last save
	TickSaved     TickResult = "saved"
	TickFailed    TickResult = "failed"
)

// AutosaveCoordinator periodically writes the answer sheet of one session.
// At most one write is in flight; a tick that finds one outstanding is
// dropped, not queued. Failures are logged and retried on the next tick with
// whatever state is current then.
type AutosaveCoordinator struct {
	source   SnapshotSource
	save     SaveFunc
	interval time.Duration
	log      zerolog.Logger

	inFlight atomic.Bool

	mu        sync.Mutex
	lastSaved uint64

	// runMu guards the ticker lifecycle.
	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewAutosaveCoordinator builds a coordinator. The source's current revision
// is treated as already persisted.
func NewAutosaveCoordinator(source SnapshotSource, save SaveFunc, interval time.Duration, log zerolog.Logger) *AutosaveCoordinator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &AutosaveCoordinator{
		source:    source,
		save:      save,
		interval:  interval,
		log:       log.With().Str("component", "autosave_coordinator").Logger(),
		lastSaved: source.Snapshot().Revision,
	}
}

// Start runs the ticker in its own goroutine until ctx ends or Stop is called.
// It is a no-op while the ticker runs; after Stop it starts a fresh one.
func (c *AutosaveCoordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				// Writes run off the ticker; a slow store shows up as skipped ticks.
				go c.Tick(ctx)
			}
		}
	}()
}

// Stop ends the ticker and waits for it. It is safe to call more than once
// and before Start.
func (c *AutosaveCoordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

// Tick performs one guarded write.
func (c *AutosaveCoordinator) Tick(ctx context.Context) TickResult {
	if !c.inFlight.CompareAndSwap(false, true) {
		return TickSkipped
	}
	defer c.inFlight.Store(false)

	snap := c.source.Snapshot()
	c.mu.Lock()
	unchanged := snap.Revision == c.lastSaved
	c.mu.Unlock()
	if unchanged {
		return TickUnchanged
	}

	if err := c.save(ctx, snap); err != nil {
		c.log.Warn().Err(err).Uint64("revision", snap.Revision).Msg("Autosave failed, retrying next tick")
		return TickFailed
	}

	c.mu.Lock()
	if snap.Revision > c.lastSaved {
		c.lastSaved = snap.Revision
	}
	c.mu.Unlock()
	return TickSaved
}

// Flush writes the current state now, waiting for an outstanding write to
// finish first. It returns TickSkipped only when ctx ends while waiting.
func (c *AutosaveCoordinator) Flush(ctx context.Context) TickResult {
	for {
		if r := c.Tick(ctx); r != TickSkipped {
			return r
		}
		select {
		case <-ctx.Done():
			return TickSkipped
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// LastSaved returns the last persisted revision.
func (c *AutosaveCoordinator) LastSaved() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}
