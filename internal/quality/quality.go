// Package quality computes expected-bar counts from the trading calendar and
// scores observed bar sequences against them.
package quality

import (
	"sync"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes one bar sequence against its expected count. Valid is
// false when the window holds no trading time (a holiday) and so no score
// exists; Score is meaningless in that case and callers must not apply it.
type Metrics struct {
	TotalBars      int
	ExpectedBars   int
	MissingBars    int
	DuplicateCount int
	Completeness   float64 // percent, 0-100
	Score          float64 // composite, 0-100
	Valid          bool
}

// Checker computes expected-bar counts and quality scores against a calendar.
// Expected-bar-count results are cached by (start date, end date, interval).
// Only InvalidateCache clears the cache; Calendar.Refresh does not clear it.
type Checker struct {
	cal *calendar.Calendar

	mu    sync.Mutex
	cache map[windowKey]int
}

type windowKey struct {
	start, end string
	interval   string
}

// New constructs a Checker bound to a calendar.
func New(cal *calendar.Calendar) *Checker {
	return &Checker{cal: cal, cache: make(map[windowKey]int)}
}

// InvalidateCache clears the expected-bar-count cache. Call after cal.Refresh.
func (c *Checker) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[windowKey]int)
}

// ExpectedBars walks the calendar day by day from start to end (inclusive)
// and sums (effectiveClose-open)/interval for each trading day, honoring
// early closes. Non-trading days contribute zero.
func (c *Checker) ExpectedBars(start, end time.Time, iv bar.Interval) int {
	key := windowKey{start: start.Format("2006-01-02"), end: end.Format("2006-01-02"), interval: iv.String()}
	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	total := 0
	lastYear, lastWeek := 0, 0
	minutes := iv.Minutes()
	if minutes <= 0 {
		// Day/week bars: one expected bar per trading day/week; callers asking
		// for a "1d" or "1w" expectation want calendar day counts, not clock math.
		minutes = -1
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !c.cal.IsTradingDay(d) {
			continue
		}
		open, ok := c.cal.RegularOpen(d)
		if !ok {
			continue
		}
		if minutes < 0 {
			if iv.Unit == bar.UnitWeek {
				y, w := d.ISOWeek()
				if y == lastYear && w == lastWeek {
					continue
				}
				lastYear, lastWeek = y, w
			}
			total++
			continue
		}
		close, ok := c.cal.RegularClose(d)
		if !ok {
			continue
		}
		durMinutes := close.Sub(open).Minutes()
		total += int(durMinutes / minutes)
	}

	c.mu.Lock()
	c.cache[key] = total
	c.mu.Unlock()
	return total
}

// Evaluate scores an observed bar sequence against the expected count for
// [start,end]: 90% weight on completeness, 10% on being duplicate-free.
func (c *Checker) Evaluate(bars []bar.Bar, duplicates int, start, end time.Time, iv bar.Interval) Metrics {
	expected := c.ExpectedBars(start, end, iv)
	total := len(bars)

	missing := expected - total
	if missing < 0 {
		missing = 0
	}

	completeness := 100.0
	if expected > 0 {
		ratio := float64(total) / float64(expected)
		if ratio > 1 {
			ratio = 1
		}
		completeness = ratio * 100
	}

	dupTerm := 1.0
	if duplicates > 0 {
		dupTerm = 0
	}

	score := 0.9*minF(1, safeDiv(float64(total), float64(expected))) * 100
	score += 10 * dupTerm

	return Metrics{
		TotalBars:      total,
		ExpectedBars:   expected,
		MissingBars:    missing,
		DuplicateCount: duplicates,
		Completeness:   completeness,
		Score:          score,
		Valid:          expected > 0,
	}
}

// DetectGaps walks the expected bar timestamps for one trading session
// (open to min(asOf, close), stepping by the interval) and coalesces runs of
// missing timestamps into GapSpans. Bars outside the session window are
// ignored. Second/minute intervals only; day and week bars have no intraday
// expectation to detect against.
func (c *Checker) DetectGaps(bars []bar.Bar, date, asOf time.Time, iv bar.Interval) []bar.GapSpan {
	minutes := iv.Minutes()
	if minutes <= 0 {
		return nil
	}
	open, ok := c.cal.RegularOpen(date)
	if !ok {
		return nil
	}
	close, ok := c.cal.RegularClose(date)
	if !ok {
		return nil
	}
	cutoff := asOf
	if cutoff.After(close) {
		cutoff = close
	}

	have := make(map[int64]bool, len(bars))
	for _, b := range bars {
		have[b.Timestamp.Unix()] = true
	}

	step := time.Duration(minutes * float64(time.Minute))
	var gaps []bar.GapSpan
	var open_ *bar.GapSpan
	for ts := open; ts.Before(cutoff); ts = ts.Add(step) {
		if have[ts.Unix()] {
			if open_ != nil {
				gaps = append(gaps, *open_)
				open_ = nil
			}
			continue
		}
		if open_ == nil {
			open_ = &bar.GapSpan{Start: ts, End: ts}
		} else {
			open_.End = ts
		}
	}
	if open_ != nil {
		gaps = append(gaps, *open_)
	}
	return gaps
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 1
	}
	return a / b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RollingScoreStats summarizes a trailing window of composite quality scores
// (typically one per session day) as a mean and standard deviation. The
// coordinator and its boundary monitor do not call it; no component flags
// symbols by these statistics.
func RollingScoreStats(scores []float64) (mean, stddev float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	mean = stat.Mean(scores, nil)
	stddev = stat.StdDev(scores, nil)
	return mean, stddev
}

// IntradayQuality is the session-upkeep formula:
// quality = actual / expected_so_far * 100, where expected_so_far counts
// intervals from session open to min(now, session_close). Before open it is
// 100 by convention.
func (c *Checker) IntradayQuality(actual int, date, now time.Time, iv bar.Interval) float64 {
	open, ok := c.cal.RegularOpen(date)
	if !ok {
		return 100
	}
	if now.Before(open) {
		return 100
	}
	close, ok := c.cal.RegularClose(date)
	if !ok {
		return 100
	}
	cutoff := now
	if cutoff.After(close) {
		cutoff = close
	}

	minutes := iv.Minutes()
	if minutes <= 0 {
		return 100
	}
	expectedSoFar := cutoff.Sub(open).Minutes() / minutes
	if expectedSoFar <= 0 {
		return 100
	}
	return (float64(actual) / expectedSoFar) * 100
}
