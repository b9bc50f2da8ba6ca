package timer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemaining_MonotonicAndClamped(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	duration := 90 * time.Minute

	prev := 2 * duration
	for offset := -time.Minute; offset <= 2*duration; offset += 7 * time.Minute {
		now := start.Add(offset)
		got := timer.Remaining(start, duration, now)

		want := duration - now.Sub(start)
		if want < 0 {
			want = 0
		}
		if offset >= 0 {
			assert.Equal(t, want, got, "offset %s", offset)
		}
		assert.LessOrEqual(t, got, prev)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		prev = got
	}
}

func TestElapsed_Clamped(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), timer.Elapsed(start, time.Hour, start.Add(-time.Minute)))
	assert.Equal(t, 10*time.Minute, timer.Elapsed(start, time.Hour, start.Add(10*time.Minute)))
	assert.Equal(t, time.Hour, timer.Elapsed(start, time.Hour, start.Add(3*time.Hour)))
	assert.Equal(t, 600, timer.Seconds(10*time.Minute+900*time.Millisecond))
}

func TestAuthority(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := timer.NewManualClock(start)
	a := timer.NewAuthority(clock)

	assert.Equal(t, time.Hour, a.Remaining(start, time.Hour))
	assert.False(t, a.Expired(start, time.Hour))

	clock.Advance(time.Hour)
	assert.True(t, a.Expired(start, time.Hour))
	assert.False(t, a.PastGrace(start, time.Hour, 30*time.Second))

	clock.Advance(31 * time.Second)
	assert.True(t, a.PastGrace(start, time.Hour, 30*time.Second))
	assert.Equal(t, time.Hour, a.Elapsed(start, time.Hour))
}

func TestScheduler_ExpiresOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := timer.NewManualClock(start)
	s := timer.NewScheduler(timer.NewAuthority(clock), start, time.Minute, time.Second)

	var ticks, expiries int32
	var last time.Duration
	s.OnTick(func(remaining time.Duration) {
		atomic.AddInt32(&ticks, 1)
		last = remaining
	})
	s.OnExpire(func() { atomic.AddInt32(&expiries, 1) })

	assert.Equal(t, time.Minute, s.Check())
	clock.Advance(59 * time.Second)
	s.Check()
	assert.Equal(t, time.Second, last)
	assert.False(t, s.Expired())

	clock.Advance(time.Second)
	s.Check()
	clock.Advance(time.Hour)
	s.Check()

	assert.Equal(t, int32(4), atomic.LoadInt32(&ticks))
	assert.Equal(t, int32(1), atomic.LoadInt32(&expiries))
	assert.True(t, s.Expired())
}

func TestScheduler_RunStopsAtDeadline(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	s := timer.NewScheduler(timer.NewAuthority(nil), start, time.Hour, 5*time.Millisecond)

	fired := make(chan struct{}, 2)
	s.OnExpire(func() { fired <- struct{}{} })

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop at deadline")
	}
	require.Len(t, fired, 1)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := timer.NewScheduler(timer.NewAuthority(nil), time.Now(), time.Hour, 5*time.Millisecond)

	var ticks int32
	s.OnTick(func(time.Duration) { atomic.AddInt32(&ticks, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored cancellation")
	}
	assert.False(t, s.Expired())
}
