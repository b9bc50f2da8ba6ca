// Package integrity counts fullscreen and focus exits of an open attempt and
// forces submission once the allowance is used up.
package integrity

import (
	"sync"
	"time"
)

// EventKind names a browser integrity signal.
type EventKind string

const (
	EventFullscreenExit  EventKind = "fullscreen_exit"
	EventFocusLost       EventKind = "focus_lost"
	EventFullscreenEnter EventKind = "fullscreen_enter"
	EventFocusGained     EventKind = "focus_gained"
)

// CountsAsExit reports whether the event leaves the required state.
func (k EventKind) CountsAsExit() bool {
	return k == EventFullscreenExit || k == EventFocusLost
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventFullscreenExit, EventFocusLost, EventFullscreenEnter, EventFocusGained:
		return true
	}
	return false
}

// Event is one observed signal.
type Event struct {
	Kind   EventKind
	At     time.Time
	Detail string
}

// EventSource delivers events until its channel is closed.
type EventSource interface {
	Events() <-chan Event
}

// ChannelSource is an EventSource fed by Push. The WebSocket session pushes
// client reports into it; tests push synthetic ones.
type ChannelSource struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
	mu   sync.RWMutex
}

// NewChannelSource returns a source buffering up to size events.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{ch: make(chan Event, size), done: make(chan struct{})}
}

// Push delivers e, blocking while the buffer is full. It reports false once
// the source is closed.
func (s *ChannelSource) Push(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the stream. Safe to call more than once.
func (s *ChannelSource) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *ChannelSource) Events() <-chan Event { return s.ch }
