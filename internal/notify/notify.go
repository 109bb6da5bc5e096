// Package notify implements the outbound notification stream:
// a queue of (symbol, interval, kind) tuples the processor publishes
// whenever it advances a symbol's state, consumed by analysis/strategy
// workers outside the core.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aristath/marketsession/internal/bar"
)

// Kind distinguishes a bar-append notification from an indicator-update one.
type Kind string

const (
	KindBar       Kind = "bar"
	KindIndicator Kind = "indicator"
)

// Notification is one tuple on the stream.
type Notification struct {
	Symbol   string
	Interval bar.Interval
	Kind     Kind
}

// Stream is a bounded channel wrapper with a non-blocking Publish: when the
// channel is full (slow or absent consumers) the notification is dropped and
// counted rather than blocking the processor; dropped notifications are
// never replayed.
type Stream struct {
	ch      chan Notification
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New constructs a Stream with the given channel capacity.
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = 256
	}
	return &Stream{ch: make(chan Notification, capacity)}
}

// Publish enqueues n, dropping it (and incrementing Dropped) if the channel
// is full. Callers should gate this behind the session-active flag
// themselves (the processor does); Stream itself has no notion of session
// state.
func (s *Stream) Publish(n Notification) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.ch <- n:
	default:
		s.dropped.Add(1)
	}
}

// Subscribe returns a receive-only view of the stream; consumers range over
// it or select with ctx.Done() to stop.
func (s *Stream) Subscribe(ctx context.Context) <-chan Notification {
	return s.ch
}

// Dropped returns the count of notifications dropped due to a full channel.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close shuts the stream down; further Publish calls are no-ops. Safe to
// call once at session teardown.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
