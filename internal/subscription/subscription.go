// Package subscription implements the one-shot, reusable signalling
// primitive the pipeline's workers synchronize on: a small
// condition-variable wrapper with data-driven and clock-driven wait
// semantics.
package subscription

import (
	"sync"
	"time"
)

// Mode selects how Wait behaves: data-driven waiters block indefinitely,
// clock-driven and live waiters block with a timeout and count overruns.
type Mode int

const (
	// DataDriven waiters block until Signal, with no timeout. Used in
	// backtests so strategies cannot "skip" a bar.
	DataDriven Mode = iota
	// ClockDriven waiters block with a timeout; downstream may fall behind.
	ClockDriven
	// Live is ClockDriven with the same timeout semantics, kept as a
	// distinct tag purely for identity/metadata.
	Live
)

// Subscription is a one-shot, reusable signal with identity metadata.
type Subscription struct {
	Name string
	Mode Mode

	mu       sync.Mutex
	cond     *sync.Cond
	ready    bool
	overrun  int
	stopped  bool
}

// New constructs a Subscription. Each instance is independent; producers and
// consumers must follow the strict signal -> wait -> reset cycle.
func New(name string, mode Mode) *Subscription {
	s := &Subscription{Name: name, Mode: mode}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SignalReady marks the subscription ready and wakes all waiters. If it is
// already ready when Signal is called again, the overrun counter increments
// and the extra signal is dropped (clock-driven/live semantics); in
// data-driven mode repeated signals before a Reset are programmer error but
// are tolerated the same way, since the source treats both uniformly.
func (s *Subscription) SignalReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		s.overrun++
		return
	}
	s.ready = true
	s.cond.Broadcast()
}

// WaitUntilReady blocks until Signal or (for ClockDriven/Live) the timeout
// elapses. It returns true if the subscription became ready, false on
// timeout or Stop. DataDriven ignores the timeout argument and blocks
// indefinitely (or until Stop).
func (s *Subscription) WaitUntilReady(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Mode == DataDriven || timeout <= 0 {
		for !s.ready && !s.stopped {
			s.cond.Wait()
		}
		return s.ready
	}

	deadline := time.Now().Add(timeout)
	for !s.ready && !s.stopped {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		woke := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
			close(woke)
		})
		s.cond.Wait()
		timer.Stop()
		select {
		case <-woke:
		default:
		}
	}
	return s.ready
}

// Reset clears the ready flag for the next cycle.
func (s *Subscription) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
}

// IsReady reports the current ready state without blocking.
func (s *Subscription) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// OverrunCount returns how many Signal calls were dropped because the
// subscription was already ready.
func (s *Subscription) OverrunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrun
}

// Stop unblocks every current and future waiter immediately; used for
// session shutdown cancellation.
func (s *Subscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cond.Broadcast()
}
