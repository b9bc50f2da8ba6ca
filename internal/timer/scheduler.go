package timer

import (
	"context"
	"sync"
	"time"
)

// Scheduler drives the live countdown of one open session. Each tick reports
// the remaining time; the expiry callback fires once when it reaches zero.
// Ticks only refresh the display; correctness comes from Authority.
type Scheduler struct {
	authority *Authority
	startedAt time.Time
	duration  time.Duration
	interval  time.Duration

	mu       sync.Mutex
	onTick   func(remaining time.Duration)
	onExpire func()
	expired  bool
}

// NewScheduler builds a Scheduler. A non-positive interval defaults to one second.
func NewScheduler(authority *Authority, startedAt time.Time, duration, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		authority: authority,
		startedAt: startedAt,
		duration:  duration,
		interval:  interval,
	}
}

// OnTick registers the per-tick callback.
func (s *Scheduler) OnTick(fn func(remaining time.Duration)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// OnExpire registers the expiry callback.
func (s *Scheduler) OnExpire(fn func()) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Check recomputes remaining time, reports it and fires expiry on the first
// call that finds none left. It returns the remaining time.
func (s *Scheduler) Check() time.Duration {
	remaining := s.authority.Remaining(s.startedAt, s.duration)

	s.mu.Lock()
	tick := s.onTick
	var expire func()
	if remaining <= 0 && !s.expired {
		s.expired = true
		expire = s.onExpire
	}
	s.mu.Unlock()

	if tick != nil {
		tick(remaining)
	}
	if expire != nil {
		expire()
	}
	return remaining
}

// Expired reports whether expiry has fired.
func (s *Scheduler) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Run checks once immediately and then every interval until ctx is done or
// the deadline passes.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Check() <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Check() <= 0 {
				return
			}
		}
	}
}
