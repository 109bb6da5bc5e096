package coordinator

import (
	"context"
	"time"
)

// scheduleGapFill launches one bounded-retry repair worker for symbol. The
// worker queries the bar store for each detected gap span, backfills
// whatever rows it returns, and, when the gap filler's session-quality option
// is enabled, re-scores the symbol; it gives up after the
// configured retry budget. Gap repair is data-plane: it never unwinds the
// pipeline, it only improves quality.
func (c *Coordinator) scheduleGapFill(symbol string) {
	maxRetries := c.cfg.SessionDataConfig.GapFiller.MaxRetries
	if maxRetries <= 0 {
		return
	}
	retryInterval := time.Duration(c.cfg.SessionDataConfig.GapFiller.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := c.log.With().Str("symbol", symbol).Str("worker", "gap_filler").Logger()
		for attempt := 1; attempt <= maxRetries; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(retryInterval):
			}
			filled, remaining := c.fillGapsOnce(context.Background(), symbol)
			log.Info().Int("attempt", attempt).Int("filled", filled).Int("remaining", remaining).Msg("gap fill attempt")
			if remaining == 0 {
				return
			}
		}
		log.Warn().Int("attempts", maxRetries).Msg("gap fill retries exhausted")
	}()
}

// fillGapsOnce makes one pass over the symbol's current base-interval gaps:
// for each span it asks the store for the missing rows, backfills any that
// came back through SessionData and the processor's retroactive derivation,
// and, when GapFiller.EnableSessionQuality is set, recomputes the intraday
// quality score. It returns how many
// bars were recovered and how many gap intervals remain.
func (c *Coordinator) fillGapsOnce(ctx context.Context, symbol string) (filled, remaining int) {
	if c.barStore == nil {
		return 0, 0
	}
	sd, ok := c.data.GetSymbolData(symbol, true)
	if !ok {
		return 0, 0
	}
	ivd, ok := sd.Interval(c.baseInterval.String())
	if !ok {
		return 0, 0
	}

	now := c.clock.Now()
	date := c.sessionDate()
	gaps := c.quality.DetectGaps(ivd.Bars, date, now, c.baseInterval)
	if len(gaps) == 0 {
		return 0, 0
	}

	for _, g := range gaps {
		rows, err := c.barStore.GetBars(ctx, symbol, c.baseInterval, g.Start, g.End)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("gap fill query failed")
			continue
		}
		for _, b := range rows {
			if err := c.data.BackfillBar(symbol, c.baseInterval, b); err != nil {
				if isDuplicateTimestamp(err) {
					continue
				}
				c.log.Warn().Err(err).Str("symbol", symbol).Time("ts", b.Timestamp).Msg("gap backfill rejected")
				continue
			}
			c.proc.Backfill(symbol, b)
			filled++
		}
	}

	if c.cfg.SessionDataConfig.GapFiller.EnableSessionQuality {
		if open, ok := c.cal.RegularOpen(date); ok {
			actual := len(ivd.Range(open, now))
			sd.SetQuality(c.quality.IntradayQuality(actual, date, now, c.baseInterval))
		}
	}

	left := c.quality.DetectGaps(ivd.Bars, date, now, c.baseInterval)
	return filled, len(left)
}
