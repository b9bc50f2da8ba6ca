package integrity

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Recorder persists a new exit count. Calls are asynchronous and failures
// are only logged; the store keeps max(existing, count) so reordering is safe.
type Recorder interface {
	RecordExit(ctx context.Context, count int, e Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, count int, e Event) error

func (f RecorderFunc) RecordExit(ctx context.Context, count int, e Event) error {
	return f(ctx, count, e)
}

// Monitor counts exits for one attempt, starting from the persisted count.
// The first exit that takes the count above maxExits calls onBreach, once.
type Monitor struct {
	maxExits int
	recorder Recorder
	onBreach func(count int)
	log      zerolog.Logger

	mu       sync.Mutex
	count    int
	breached bool

	wg sync.WaitGroup
}

// NewMonitor builds a Monitor. recorder and onBreach may be nil.
func NewMonitor(initial, maxExits int, recorder Recorder, onBreach func(count int), log zerolog.Logger) *Monitor {
	return &Monitor{
		maxExits: maxExits,
		recorder: recorder,
		onBreach: onBreach,
		log:      log.With().Str("component", "integrity_monitor").Logger(),
		count:    initial,
	}
}

// Observe handles one event and returns the exit count after it.
func (m *Monitor) Observe(ctx context.Context, e Event) int {
	if !e.Kind.CountsAsExit() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.count
	}

	m.mu.Lock()
	m.count++
	count := m.count
	breach := !m.breached && count > m.maxExits
	if breach {
		m.breached = true
	}
	m.mu.Unlock()

	if m.recorder != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.recorder.RecordExit(context.WithoutCancel(ctx), count, e); err != nil {
				m.log.Warn().Err(err).Int("exit_count", count).Msg("Failed to record exit count")
			}
		}()
	}

	if breach {
		m.log.Info().Int("exit_count", count).Int("max_exits", m.maxExits).Msg("Exit allowance exceeded")
		if m.onBreach != nil {
			m.onBreach(count)
		}
	}
	return count
}

// Run observes src until it closes or ctx is done.
func (m *Monitor) Run(ctx context.Context, src EventSource) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ctx, e)
		}
	}
}

// Count returns the current exit count.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Breached reports whether onBreach has fired.
func (m *Monitor) Breached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breached
}

// Wait blocks until every pending Recorder call returns.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
