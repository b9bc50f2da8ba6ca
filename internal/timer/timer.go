// Package timer derives attempt deadlines from started_at. Nothing here keeps
// a countdown; every answer is recomputed from the anchor and the clock.
package timer

import (
	"sync"
	"time"
)

// Clock is the source of wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock tests move by hand.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Remaining is max(0, duration - (now - startedAt)).
func Remaining(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	left := duration - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed is now - startedAt clamped to [0, duration].
func Elapsed(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	spent := now.Sub(startedAt)
	switch {
	case spent < 0:
		return 0
	case spent > duration:
		return duration
	}
	return spent
}

// Seconds rounds d down to whole seconds.
func Seconds(d time.Duration) int {
	return int(d / time.Second)
}

// Authority answers deadline questions for attempts against one clock.
type Authority struct {
	clock Clock
}

// NewAuthority returns an Authority on clock. A nil clock uses SystemClock.
func NewAuthority(clock Clock) *Authority {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Authority{clock: clock}
}

// Now returns the authoritative current time.
func (a *Authority) Now() time.Time {
	return a.clock.Now()
}

// Remaining returns the time left of an attempt started at startedAt.
func (a *Authority) Remaining(startedAt time.Time, duration time.Duration) time.Duration {
	return Remaining(startedAt, duration, a.clock.Now())
}

// Elapsed returns the time spent on an attempt, never more than duration.
func (a *Authority) Elapsed(startedAt time.Time, duration time.Duration) time.Duration {
	return Elapsed(startedAt, duration, a.clock.Now())
}

// Expired reports whether no time is left.
func (a *Authority) Expired(startedAt time.Time, duration time.Duration) bool {
	return a.Remaining(startedAt, duration) <= 0
}

// PastGrace reports whether now is more than grace beyond the deadline.
func (a *Authority) PastGrace(startedAt time.Time, duration, grace time.Duration) bool {
	return a.clock.Now().After(startedAt.Add(duration).Add(grace))
}
