package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/store"
)

// ModuleTopVolume is the registry name of the top-volume scanner.
const ModuleTopVolume = "top_volume"

// TopVolumeScanner ranks a configured symbol universe by the prior trading
// day's total volume in the historical store and promotes the top N.
type TopVolumeScanner struct {
	bars store.BarStore
	cal  *calendar.Calendar
	now  func() time.Time

	universe  []string
	topN      int
	intervals []bar.Interval
}

// NewTopVolumeFactory returns a Factory closed over the store, the calendar,
// and a clock, so the module can be registered once and constructed per
// session from its config map. Recognized config keys: "universe" (list of
// tickers), "top_n" (number), "intervals" (list of tags).
func NewTopVolumeFactory(bars store.BarStore, cal *calendar.Calendar, now func() time.Time) Factory {
	return func(config map[string]any) (Scanner, error) {
		s := &TopVolumeScanner{bars: bars, cal: cal, now: now, topN: 5}
		if raw, ok := config["universe"].([]any); ok {
			for _, v := range raw {
				sym, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("top_volume: universe entries must be strings, got %T", v)
				}
				s.universe = append(s.universe, sym)
			}
		}
		if n, ok := config["top_n"].(float64); ok && n > 0 {
			s.topN = int(n)
		}
		if raw, ok := config["intervals"].([]any); ok {
			for _, v := range raw {
				tag, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("top_volume: interval entries must be strings, got %T", v)
				}
				iv, err := bar.ParseInterval(tag)
				if err != nil {
					return nil, fmt.Errorf("top_volume: %w", err)
				}
				s.intervals = append(s.intervals, iv)
			}
		}
		if len(s.universe) == 0 {
			return nil, fmt.Errorf("top_volume: empty universe")
		}
		return s, nil
	}
}

func (s *TopVolumeScanner) Setup(ctx context.Context) error { return nil }

func (s *TopVolumeScanner) Teardown(ctx context.Context) error { return nil }

// Scan sums each universe symbol's 1m volume over the prior trading day and
// returns the heaviest topN.
func (s *TopVolumeScanner) Scan(ctx context.Context) (Result, error) {
	today := s.now()
	prev, ok := s.previousTradingDay(today)
	if !ok {
		return Result{}, fmt.Errorf("top_volume: no prior trading day in calendar horizon")
	}
	open, okO := s.cal.RegularOpen(prev)
	close, okC := s.cal.RegularClose(prev)
	if !okO || !okC {
		return Result{}, fmt.Errorf("top_volume: no session hours for %s", prev.Format("2006-01-02"))
	}

	type ranked struct {
		symbol string
		volume float64
	}
	var ranks []ranked
	minute := bar.Interval{N: 1, Unit: bar.UnitMinute}
	for _, symbol := range s.universe {
		bars, err := s.bars.GetBars(ctx, symbol, minute, open, close)
		if err != nil || len(bars) == 0 {
			continue
		}
		var total float64
		for _, b := range bars {
			total += b.Volume
		}
		ranks = append(ranks, ranked{symbol: symbol, volume: total})
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].volume > ranks[j].volume })

	out := Result{Intervals: s.intervals}
	for i, r := range ranks {
		if i >= s.topN {
			break
		}
		out.Symbols = append(out.Symbols, r.symbol)
	}
	return out, nil
}

// previousTradingDay walks back from today until the calendar reports a
// trading day, bounded to a two-week look-back.
func (s *TopVolumeScanner) previousTradingDay(today time.Time) (time.Time, bool) {
	for i := 1; i <= 14; i++ {
		d := today.AddDate(0, 0, -i)
		if s.cal.IsTradingDay(d) {
			return d, true
		}
	}
	return time.Time{}, false
}
