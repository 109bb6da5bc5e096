package coordinator

import (
	"context"
	"sync"
	"time"
)

// defaultBoundaryTick is how often the monitor worker re-evaluates the
// session boundary state machine against the calendar and wall/virtual clock.
const defaultBoundaryTick = time.Second

// boundaryMonitor walks the session boundary state machine:
// NOT_STARTED -> PRE_MARKET -> ACTIVE -> POST_MARKET -> ENDED, with
// TIMEOUT and ERROR as observable side-states that recover automatically.
type boundaryMonitor struct {
	c *Coordinator

	timeout time.Duration
	tick    time.Duration

	mu              sync.RWMutex
	state           State
	lastDataArrival time.Time
	errReason       string
}

func newBoundaryMonitor(c *Coordinator) *boundaryMonitor {
	timeout := time.Duration(c.cfg.SessionDataConfig.Streaming.CatchupThresholdSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &boundaryMonitor{
		c:       c,
		timeout: timeout,
		tick:    defaultBoundaryTick,
		state:   StateNotStarted,
	}
}

func (m *boundaryMonitor) run(ctx context.Context) {
	defer m.c.wg.Done()
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.c.stopCh:
			return
		case <-ticker.C:
			m.tickOnce(ctx)
		}
	}
}

func (m *boundaryMonitor) tickOnce(ctx context.Context) {
	now := m.c.clock.Now()
	prev, next := m.evaluate(now)
	if prev != StateEnded && next == StateEnded {
		m.c.log.Info().Time("now", now).Msg("session boundary reached ENDED, rolling to next trading day")
		m.c.rollToNextDay(ctx, now)
	}
}

// evaluate computes the next boundary state from (calendar(today), now,
// last data-arrival timestamp). TIMEOUT recovers on the next check tick
// once data resumes, not on raw data arrival.
func (m *boundaryMonitor) evaluate(now time.Time) (prev, next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.state
	if prev == StateEnded || prev == StateError {
		next = prev
		return
	}

	cal := m.c.cal
	isTrading := cal.IsTradingDay(now)
	cur := prev

	if !isTrading {
		m.state = StateEnded
		return prev, StateEnded
	}

	open, hasOpen := cal.RegularOpen(now)
	close, hasClose := cal.RegularClose(now)

	switch cur {
	case StateNotStarted:
		if hasOpen && !now.Before(open) {
			cur = StateActive
		} else {
			cur = StatePreMarket
		}
	case StatePreMarket:
		if hasOpen && !now.Before(open) {
			cur = StateActive
		}
	case StateActive:
		if hasClose && !now.Before(close) {
			cur = StatePostMarket
			break
		}
		if m.dataStale(now) {
			cur = StateTimeout
		}
	case StateTimeout:
		if hasClose && !now.Before(close) {
			cur = StatePostMarket
			break
		}
		if !m.dataStale(now) {
			cur = StateActive
		}
	case StatePostMarket:
		cur = StateEnded
	}

	m.state = cur
	return prev, cur
}

// dataStale reports whether no data has arrived within the timeout window.
// Must be called with m.mu held.
func (m *boundaryMonitor) dataStale(now time.Time) bool {
	if m.lastDataArrival.IsZero() {
		return false
	}
	return now.Sub(m.lastDataArrival) > m.timeout
}

func (m *boundaryMonitor) noteDataArrival(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts.After(m.lastDataArrival) {
		m.lastDataArrival = ts
	}
}

func (m *boundaryMonitor) triggerError(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateError
	m.errReason = reason
}

func (m *boundaryMonitor) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *boundaryMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateNotStarted
	m.lastDataArrival = time.Time{}
	m.errReason = ""
}

// BoundaryState returns the coordinator's current session boundary state.
func (c *Coordinator) BoundaryState() State { return c.boundary.current() }

// EvaluateBoundary forces an immediate boundary evaluation against now,
// bypassing the monitor's ticker. Exposed for deterministic backtest and
// unit-test driving rather than waiting on a real or virtual timer tick.
func (c *Coordinator) EvaluateBoundary(ctx context.Context, now time.Time) State {
	prev, next := c.boundary.evaluate(now)
	if prev != StateEnded && next == StateEnded {
		c.rollToNextDay(ctx, now)
	}
	return next
}

// rollToNextDay performs the multi-day roll: teardown,
// clear SessionData, advance to the next trading day via the calendar, and
// re-run the initial load from config.
func (c *Coordinator) rollToNextDay(ctx context.Context, now time.Time) {
	c.TeardownSession()
	next, ok := c.cal.NextTradingDay(now, 1)
	if !ok {
		c.log.Warn().Msg("no further trading day in the cached calendar horizon, session roll halted")
		return
	}
	c.data.SetSessionDate(next)
	c.boundary.reset()
	if _, _, err := c.StartSession(ctx); err != nil {
		c.log.Error().Err(err).Msg("re-initialization after session roll failed")
	}
}
