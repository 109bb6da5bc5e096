package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/execution"
	"github.com/aristath/marketsession/internal/feed"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/notify"
	"github.com/aristath/marketsession/internal/processor"
	"github.com/aristath/marketsession/internal/quality"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type stubScanner struct {
	result    Result
	scanErr   error
	scans     int
	toreDown  bool
}

func (s *stubScanner) Setup(ctx context.Context) error { return nil }
func (s *stubScanner) Scan(ctx context.Context) (Result, error) {
	s.scans++
	return s.result, s.scanErr
}
func (s *stubScanner) Teardown(ctx context.Context) error {
	s.toreDown = true
	return nil
}

type scanRig struct {
	mgr   *Manager
	coord *coordinator.Coordinator
	data  *sessiondata.SessionData
	bars  *store.FakeStore
	feed  *feed.FakeAdapter
	exec  *execution.FakeAdapter
}

func newScanRig(t *testing.T) *scanRig {
	t.Helper()
	fs := &calendar.FakeStore{}
	for _, d := range []time.Time{date(2024, time.December, 31), date(2025, time.January, 2)} {
		fs.Seed(calendar.Day{
			Date:         d,
			RegularOpen:  d.Add(9*time.Hour + 30*time.Minute),
			RegularClose: d.Add(16 * time.Hour),
		})
	}
	cal, err := calendar.New(context.Background(), fs, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Session{
		SessionName:   "scan",
		Mode:          config.ModeBacktest,
		ExchangeGroup: "NASDAQ",
		Backtest:      &config.BacktestConfig{StartDate: date(2025, time.January, 2), EndDate: date(2025, time.January, 2)},
		SessionDataConfig: config.SessionDataConfig{
			Symbols: []string{"RIVN"},
			Streams: []bar.Interval{bar.MustParseInterval("1m")},
		},
		Trading: config.TradingConfig{MaxBuyingPower: 25000},
		API:     config.APIConfig{DataAPI: "fake", TradeAPI: "fake"},
	}

	data := sessiondata.New()
	indicators := indicator.NewManager()
	proc := processor.New(data, indicators, notify.New(64), zerolog.Nop())
	bars := store.NewFakeStore()
	fa := feed.NewFakeAdapter(16)
	fa.Seed("RIVN", "AAPL", "TSLA")
	ea := execution.NewFakeAdapter()

	// Seed a trailing day so adhoc provisioning finds historical data.
	oneMin := bar.MustParseInterval("1m")
	open := date(2024, time.December, 31).Add(9*time.Hour + 30*time.Minute)
	for _, sym := range []string{"RIVN", "AAPL", "TSLA"} {
		var seed []bar.Bar
		for i := 0; i < 60; i++ {
			px := 10.0 + float64(i%5)
			seed = append(seed, bar.Bar{Timestamp: open.Add(time.Duration(i) * time.Minute), Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 100})
		}
		bars.Seed(sym, oneMin, seed...)
	}

	coord, err := coordinator.New(cfg, coordinator.Dependencies{
		Data:        data,
		Calendar:    cal,
		Quality:     quality.New(cal),
		Indicators:  indicators,
		Processor:   proc,
		BarStore:    bars,
		FeedAdapter: fa,
		ExecAdapter: ea,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)

	mgr := NewManager(coord, data, ea, zerolog.Nop())
	return &scanRig{mgr: mgr, coord: coord, data: data, bars: bars, feed: fa, exec: ea}
}

func TestManager_LoadRejectsUnknownModule(t *testing.T) {
	rig := newScanRig(t)
	err := rig.mgr.Load([]config.ScannerSpec{{Module: "nope", Enabled: true, PreSession: true}})
	assert.Error(t, err)
}

func TestManager_PreSessionScanPromotesAdhocSymbols(t *testing.T) {
	rig := newScanRig(t)
	stub := &stubScanner{result: Result{Symbols: []string{"AAPL", "TSLA"}, Intervals: []bar.Interval{bar.MustParseInterval("1m")}}}
	rig.mgr.RegisterFactory("stub", func(map[string]any) (Scanner, error) { return stub, nil })
	require.NoError(t, rig.mgr.Load([]config.ScannerSpec{{Module: "stub", Enabled: true, PreSession: true}}))

	rig.mgr.RunPreSession(context.Background())
	assert.Equal(t, 1, stub.scans)
	assert.True(t, stub.toreDown)

	// Pre-session teardown is immediate: neither symbol was upgraded or
	// locked, so both are demoted again.
	assert.Empty(t, rig.data.GetActiveSymbols(true))
}

func TestManager_TeardownKeepsPromotedAndLockedSymbols(t *testing.T) {
	rig := newScanRig(t)
	stub := &stubScanner{result: Result{Symbols: []string{"AAPL", "TSLA"}, Intervals: []bar.Interval{bar.MustParseInterval("1m")}}}
	rig.mgr.RegisterFactory("stub", func(map[string]any) (Scanner, error) { return stub, nil })
	require.NoError(t, rig.mgr.Load([]config.ScannerSpec{{Module: "stub", Enabled: true, RegularSession: []string{"10:30"}}}))

	l := rig.mgr.regular[0]
	m := rig.mgr
	m.runOne(context.Background(), l)
	require.Len(t, rig.data.GetActiveSymbols(true), 2)

	// AAPL gets upgraded to full membership by a strategy; TSLA holds an
	// open position.
	ok, reason := rig.coord.AddSymbol(context.Background(), "AAPL", sessiondata.AddedByStrategy)
	require.True(t, ok, reason)
	rig.exec.Lock("TSLA")

	require.NoError(t, m.teardownOne(context.Background(), l))
	symbols := rig.data.GetActiveSymbols(true)
	assert.ElementsMatch(t, []string{"AAPL", "TSLA"}, symbols)

	tsla, found := rig.data.GetSymbolData("TSLA", true)
	require.True(t, found)
	assert.True(t, tsla.Meta().Locked)
	assert.True(t, stub.toreDown)
}

func TestCronSpecConversion(t *testing.T) {
	spec, err := cronSpec("10:30")
	require.NoError(t, err)
	assert.Equal(t, "30 10 * * MON-FRI", spec)

	spec, err = cronSpec("09:05")
	require.NoError(t, err)
	assert.Equal(t, "5 9 * * MON-FRI", spec)

	_, err = cronSpec("noonish")
	assert.Error(t, err)
}

func TestTopVolumeScanner_RanksByPriorDayVolume(t *testing.T) {
	rig := newScanRig(t)

	// Overwrite volumes so the ranking is unambiguous.
	oneMin := bar.MustParseInterval("1m")
	open := date(2024, time.December, 31).Add(9*time.Hour + 30*time.Minute)
	heavy := []bar.Bar{{Timestamp: open, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1e6}}
	rig.bars.Seed("TSLA", oneMin, heavy...)

	cal, _ := calendarFor(t)
	factory := NewTopVolumeFactory(rig.bars, cal, func() time.Time { return date(2025, time.January, 2) })
	s, err := factory(map[string]any{
		"universe": []any{"RIVN", "AAPL", "TSLA"},
		"top_n":    float64(1),
	})
	require.NoError(t, err)

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA"}, result.Symbols)
}

func calendarFor(t *testing.T) (*calendar.Calendar, error) {
	t.Helper()
	fs := &calendar.FakeStore{}
	for _, d := range []time.Time{date(2024, time.December, 31), date(2025, time.January, 2)} {
		fs.Seed(calendar.Day{
			Date:         d,
			RegularOpen:  d.Add(9*time.Hour + 30*time.Minute),
			RegularClose: d.Add(16 * time.Hour),
		})
	}
	return calendar.New(context.Background(), fs, "NASDAQ", zerolog.Nop())
}
