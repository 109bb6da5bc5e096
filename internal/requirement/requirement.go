// Package requirement analyzes what a session or indicator request needs: a
// stateless pure-function package that picks the required base interval for
// a set of requested streams, and the intervals/warm-up/history-days a given
// indicator configuration needs.
package requirement

import (
	"fmt"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/indicator"
)

// HistoryBufferMultiplier pads the back-walked trading-day span so an
// indicator's warm-up survives a few missing bars in the loaded history.
const HistoryBufferMultiplier = 2

// SelectBaseInterval picks the finest base interval that divides every
// requested stream, honoring the 1d-from-1m and 1w-from-1d special cases.
// Hourly tags never reach here: bar.ParseInterval already rejects them.
func SelectBaseInterval(streams []bar.Interval) (bar.Interval, error) {
	if len(streams) == 0 {
		return bar.Interval{}, fmt.Errorf("requirement: no streams requested")
	}

	// Candidates ordered finest-first: 1s < 1m < 1d < 1w.
	candidates := []bar.Interval{
		{N: 1, Unit: bar.UnitSecond},
		{N: 1, Unit: bar.UnitMinute},
		{N: 1, Unit: bar.UnitDay},
		{N: 1, Unit: bar.UnitWeek},
	}

	for _, cand := range candidates {
		allDerivable := true
		for _, s := range streams {
			if !s.DerivesFrom(cand) {
				allDerivable = false
				break
			}
		}
		if allDerivable {
			return cand, nil
		}
	}
	return bar.Interval{}, fmt.Errorf("requirement: no common base interval divides streams %v", streams)
}

// IndicatorRequirement is the per-indicator result of analysis: the
// intervals it touches (base + target) and its minimum warm-up bar count.
// It carries no trailing-history day count; BackwalkDays computes that
// separately.
type IndicatorRequirement struct {
	Intervals  []bar.Interval
	WarmupBars int
}

// AnalyzeIndicator computes the intervals and warm-up an IndicatorConfig
// needs. base is the session's selected base interval; indicators computed
// on a derived interval still require the base interval to be present,
// so base is always included.
func AnalyzeIndicator(cfg indicator.Config, base bar.Interval) IndicatorRequirement {
	warmup := cfg.WarmupBars()

	intervals := []bar.Interval{base}
	if cfg.Interval != base {
		intervals = append(intervals, cfg.Interval)
	}

	return IndicatorRequirement{
		Intervals:  intervals,
		WarmupBars: warmup,
	}
}

// BackwalkDays walks the calendar backward from `asOf` counting trading days
// until the cumulative expected bar count for interval `iv` reaches
// warmupBars, then applies the default buffer multiplier. This is the
// calendar-aware sizing used by the coordinator's Phase 1 analysis to turn
// an indicator's warm-up requirement into a historical-day span.
func BackwalkDays(cal *calendar.Calendar, asOf time.Time, iv bar.Interval, warmupBars int) int {
	minutes := iv.Minutes()
	cursor := asOf
	accumulated := 0
	tradingDays := 0
	for tradingDays < 365 { // hard stop: a year of back-walk is already pathological
		cursor = cursor.AddDate(0, 0, -1)
		if !cal.IsTradingDay(cursor) {
			continue
		}
		tradingDays++
		if minutes <= 0 {
			accumulated++
		} else {
			open, okO := cal.RegularOpen(cursor)
			close, okC := cal.RegularClose(cursor)
			if okO && okC {
				accumulated += int(close.Sub(open).Minutes() / minutes)
			}
		}
		if accumulated >= warmupBars {
			break
		}
	}
	return tradingDays * HistoryBufferMultiplier
}
