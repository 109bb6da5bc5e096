package coordinator

import "time"

// Lag control defaults, used when the session config leaves either unset.
const (
	defaultLagCheckEvery = 10
	defaultLagThreshold  = 60 * time.Second
)

func (c *Coordinator) lagCheckEvery() int {
	if k := c.cfg.SessionDataConfig.Streaming.CatchupCheckInterval; k > 0 {
		return k
	}
	return defaultLagCheckEvery
}

func (c *Coordinator) lagThreshold() time.Duration {
	if t := c.cfg.SessionDataConfig.Streaming.CatchupThresholdSeconds; t > 0 {
		return time.Duration(t) * time.Second
	}
	return defaultLagThreshold
}

// checkLag is the lag-based session control: every K-th base bar for a
// symbol, compute lag = now - bar.timestamp; deactivate the session if it
// exceeds the threshold while active, reactivate it once caught up. This is
// the sole mechanism that pauses external reads without stopping internal
// derivation.
func (c *Coordinator) checkLag(symbol string, barTS time.Time) {
	c.lagMu.Lock()
	n := c.lagCounters[symbol]
	c.lagCounters[symbol]++
	c.lagMu.Unlock()

	// The counter starts at zero, so a newly added symbol is checked on its
	// very first processed bar.
	every := c.lagCheckEvery()
	if every <= 0 || n%every != 0 {
		return
	}

	lag := c.clock.Now().Sub(barTS)
	threshold := c.lagThreshold()
	active := c.data.IsActive()

	if lag > threshold && active {
		c.log.Info().Str("symbol", symbol).Dur("lag", lag).Msg("lag exceeds threshold, deactivating session")
		c.data.DeactivateSession()
		return
	}
	if lag <= threshold && !active {
		c.log.Info().Str("symbol", symbol).Dur("lag", lag).Msg("caught up, reactivating session")
		c.data.ActivateSession()
	}
}
