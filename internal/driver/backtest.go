// Package driver feeds the coordinator's input queue: a historical replay
// driven by a virtual clock, and a live adapter bridge driven by wall-clock
// arrivals. Both present the same (symbol, bar) contract downstream; nothing
// after the coordinator's queue can tell which one is running.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/rs/zerolog"
)

// BacktestDriver replays bars from the historical store in strictly
// increasing timestamp order, advancing a virtual clock at the pace set by
// the config's speed multiplier. It re-reads the active symbol set at every
// tick, so symbols provisioned mid-session by a scanner start receiving
// bars on the very next tick after their catch-up completes.
type BacktestDriver struct {
	coord *coordinator.Coordinator
	data  *sessiondata.SessionData
	bars  store.BarStore
	cal   *calendar.Calendar
	cfg   config.Session
	clock *VirtualClock
	log   zerolog.Logger

	// day cache: symbol -> bar timestamp (unix) -> bar, for the day being replayed
	dayBars map[string]map[int64]bar.Bar
}

// NewBacktest constructs a BacktestDriver. clock must be the same
// VirtualClock handed to the coordinator, or lag control and the boundary
// monitor will disagree with the replay about what time it is.
func NewBacktest(coord *coordinator.Coordinator, data *sessiondata.SessionData, bars store.BarStore, cal *calendar.Calendar, cfg config.Session, clock *VirtualClock, log zerolog.Logger) (*BacktestDriver, error) {
	if cfg.Backtest == nil {
		return nil, fmt.Errorf("driver: backtest config missing")
	}
	return &BacktestDriver{
		coord:   coord,
		data:    data,
		bars:    bars,
		cal:     cal,
		cfg:     cfg,
		clock:   clock,
		log:     log.With().Str("component", "backtest_driver").Logger(),
		dayBars: make(map[string]map[int64]bar.Bar),
	}, nil
}

// Run replays every day from the configured start date through the end date.
// Non-trading days produce no bars; the boundary evaluation still runs so
// the session state machine observes them and rolls forward.
func (d *BacktestDriver) Run(ctx context.Context) error {
	bt := d.cfg.Backtest
	for day := bt.StartDate; !day.After(bt.EndDate); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.cal.IsTradingDay(day) {
			d.clock.Set(day.Add(23 * time.Hour))
			d.coord.EvaluateBoundary(ctx, d.clock.Now())
			continue
		}
		if err := d.runDay(ctx, day); err != nil {
			return err
		}
	}
	d.log.Info().Msg("replay drained")
	return nil
}

// runDay replays one trading day tick by tick. At each base-interval tick it
// submits the bar of every currently-active symbol, then paces itself by the
// speed multiplier. When the day's source is drained it drives the boundary
// machine through post-market into the end-of-day roll.
func (d *BacktestDriver) runDay(ctx context.Context, day time.Time) error {
	open, okO := d.cal.RegularOpen(day)
	close, okC := d.cal.RegularClose(day)
	if !okO || !okC {
		return nil
	}

	d.dayBars = make(map[string]map[int64]bar.Bar)
	d.clock.Set(open)

	step := time.Duration(d.coord.BaseInterval().Minutes() * float64(time.Minute))
	if step <= 0 {
		step = time.Minute
	}
	pace := time.Duration(0)
	if m := d.cfg.Backtest.SpeedMultiplier; m > 0 {
		pace = time.Duration(float64(step) / m)
	}

	for ts := open; ts.Before(close); ts = ts.Add(step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.clock.Set(ts)
		for _, symbol := range d.data.GetActiveSymbols(true) {
			b, ok := d.barAt(ctx, symbol, open, close, ts)
			if !ok {
				continue
			}
			if err := d.coord.Submit(ctx, coordinator.BarInput{Symbol: symbol, Interval: d.coord.BaseInterval(), Bar: b}); err != nil {
				return fmt.Errorf("driver: submit %s@%s: %w", symbol, ts, err)
			}
		}
		if pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
	}

	// Source drained for the day: walk the boundary through post-market to
	// the end-of-day roll.
	d.clock.Set(close.Add(time.Minute))
	d.coord.EvaluateBoundary(ctx, d.clock.Now())
	d.clock.Set(close.Add(2 * time.Minute))
	d.coord.EvaluateBoundary(ctx, d.clock.Now())
	d.log.Info().Time("day", day).Msg("day replay complete")
	return nil
}

// barAt returns symbol's bar at tick ts, loading the symbol's full day from
// the store on first touch.
func (d *BacktestDriver) barAt(ctx context.Context, symbol string, open, close, ts time.Time) (bar.Bar, bool) {
	byTS, ok := d.dayBars[symbol]
	if !ok {
		loaded, err := d.bars.GetBars(ctx, symbol, d.coord.BaseInterval(), open, close)
		if err != nil {
			// Treated as end-of-stream for the affected symbol.
			d.log.Warn().Err(err).Str("symbol", symbol).Msg("day load failed, symbol dropped from replay")
			loaded = nil
		}
		byTS = make(map[int64]bar.Bar, len(loaded))
		for _, b := range loaded {
			byTS[b.Timestamp.Unix()] = b
		}
		d.dayBars[symbol] = byTS
	}
	b, ok := byTS[ts.Unix()]
	return b, ok
}
