// Package prefetch loads trailing history for the configured symbols ahead
// of the market open, so the coordinator's historical-load step finds the
// data already in place and skips its own store round-trip.
package prefetch

import (
	"context"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/rs/zerolog"
)

// defaultLeadMinutes is how far before the open the prefetch fires when the
// config does not size it.
const defaultLeadMinutes = 60

// Manager schedules one trailing-history load per session day, at
// open minus the lead window.
type Manager struct {
	data  *sessiondata.SessionData
	bars  store.BarStore
	cal   *calendar.Calendar
	cfg   config.Session
	base  bar.Interval
	clock interface{ Now() time.Time }
	log   zerolog.Logger

	lead time.Duration
}

// New constructs a prefetch Manager with the default one-hour lead before
// the open. Backtests skip the wait entirely: the virtual clock is already
// positioned, so the load runs immediately.
func New(data *sessiondata.SessionData, bars store.BarStore, cal *calendar.Calendar, cfg config.Session, base bar.Interval, clock interface{ Now() time.Time }, log zerolog.Logger) *Manager {
	return &Manager{
		data:  data,
		bars:  bars,
		cal:   cal,
		cfg:   cfg,
		base:  base,
		clock: clock,
		log:   log.With().Str("component", "prefetch").Logger(),
		lead:  defaultLeadMinutes * time.Minute,
	}
}

// Run blocks until open-minus-lead on the next trading day, performs the
// load, then repeats for following days until ctx is cancelled. In backtest
// mode the wait collapses: the virtual clock is already positioned, so the
// load runs immediately and once.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.Mode == config.ModeBacktest {
		m.LoadAll(ctx)
		return
	}
	for {
		fireAt, ok := m.nextFire(m.clock.Now())
		if !ok {
			m.log.Warn().Msg("no upcoming trading day in calendar horizon, prefetch idle")
			return
		}
		wait := time.Until(fireAt)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		m.LoadAll(ctx)

		// Sleep past the open so nextFire moves to the following day.
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.lead + time.Minute):
		}
	}
}

// nextFire finds the next open-minus-lead instant at or after now.
func (m *Manager) nextFire(now time.Time) (time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := 0; i < 30; i++ {
		d := day.AddDate(0, 0, i)
		if !m.cal.IsTradingDay(d) {
			continue
		}
		open, ok := m.cal.RegularOpen(d)
		if !ok {
			continue
		}
		fire := open.Add(-m.lead)
		if fire.After(now) {
			return fire, true
		}
	}
	return time.Time{}, false
}

// LoadAll loads the widest configured trailing window for every configured
// symbol into SessionData's base interval. Symbols not yet registered are
// registered as config-provisioned entries so the bars have somewhere to
// land; the coordinator's later create_symbol step is idempotent against
// them.
func (m *Manager) LoadAll(ctx context.Context) {
	days := 0
	for _, w := range m.cfg.SessionDataConfig.Historical {
		if w.TrailingDays > days {
			days = w.TrailingDays
		}
	}
	if m.cfg.Backtest != nil && m.cfg.Backtest.PrefetchDays > days {
		days = m.cfg.Backtest.PrefetchDays
	}
	if days == 0 {
		return
	}

	now := m.clock.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end
	found := 0
	for cursor := end; found < days; {
		cursor = cursor.AddDate(0, 0, -1)
		if cursor.Before(end.AddDate(-2, 0, 0)) {
			break
		}
		if m.cal.IsTradingDay(cursor) {
			found++
			start = cursor
		}
	}

	for _, symbol := range m.cfg.SessionDataConfig.Symbols {
		symbol = coordinator.NormalizeSymbol(symbol)
		if err := ctx.Err(); err != nil {
			return
		}
		bars, err := m.bars.GetBars(ctx, symbol, m.base, start, end.Add(-time.Nanosecond))
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("prefetch load failed")
			continue
		}
		if len(bars) == 0 {
			continue
		}
		sd := m.data.RegisterSymbol(symbol, m.base, sessiondata.Metadata{
			MeetsSessionConfigRequirements: true,
			AddedBy:                        sessiondata.AddedByConfig,
			AddedAt:                        now,
		})
		sd.AddInterval(m.base, nil)
		loaded := 0
		for _, b := range bars {
			if err := m.data.AppendBar(symbol, m.base, b); err != nil {
				continue
			}
			loaded++
		}
		m.log.Info().Str("symbol", symbol).Int("bars", loaded).Int("days", days).Msg("prefetch complete")
	}
}
