package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
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

// fakeClock is a settable Clock for pipeline tests; the driver package's
// virtual clock is not imported here to keep the dependency one-way.
type fakeClock struct {
	mu sync.RWMutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func tradingDay(y int, m time.Month, d int) calendar.Day {
	return calendar.Day{
		Date:         date(y, m, d),
		RegularOpen:  time.Date(y, m, d, 9, 30, 0, 0, time.UTC),
		RegularClose: time.Date(y, m, d, 16, 0, 0, 0, time.UTC),
	}
}

func holiday(y int, m time.Month, d int) calendar.Day {
	return calendar.Day{Date: date(y, m, d), IsHoliday: true}
}

func earlyCloseDay(y int, m time.Month, d, closeHour int) calendar.Day {
	day := tradingDay(y, m, d)
	ec := time.Date(y, m, d, closeHour, 0, 0, 0, time.UTC)
	day.EarlyClose = &ec
	return day
}

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	fs := &calendar.FakeStore{}
	fs.Seed(
		tradingDay(2024, time.November, 27), earlyCloseDay(2024, time.November, 29, 13),
		tradingDay(2024, time.December, 23), earlyCloseDay(2024, time.December, 24, 13),
		holiday(2024, time.December, 25), tradingDay(2024, time.December, 26),
		tradingDay(2024, time.December, 27), tradingDay(2024, time.December, 30),
		tradingDay(2024, time.December, 31), holiday(2025, time.January, 1),
		tradingDay(2025, time.January, 2), tradingDay(2025, time.January, 3),
		tradingDay(2025, time.January, 6), tradingDay(2025, time.January, 7),
	)
	cal, err := calendar.New(context.Background(), fs, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)
	return cal
}

// seedDay writes one full trading day of 1m bars for symbol into fs,
// optionally skipping the given minute offsets from the open.
func seedDay(fs *store.FakeStore, symbol string, day time.Time, minutes int, skip ...int) {
	skipped := make(map[int]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	open := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, time.UTC)
	oneMin := bar.MustParseInterval("1m")
	var bars []bar.Bar
	for i := 0; i < minutes; i++ {
		if skipped[i] {
			continue
		}
		px := 100 + float64(i%10)
		bars = append(bars, bar.Bar{
			Timestamp: open.Add(time.Duration(i) * time.Minute),
			Open:      px, High: px + 1, Low: px - 1, Close: px + 0.5, Volume: 1000,
		})
	}
	fs.Seed(symbol, oneMin, bars...)
}

func testSessionConfig() config.Session {
	return config.Session{
		SessionName:   "unit",
		Mode:          config.ModeBacktest,
		ExchangeGroup: "NASDAQ",
		Backtest: &config.BacktestConfig{
			StartDate: date(2025, time.January, 2),
			EndDate:   date(2025, time.January, 2),
		},
		SessionDataConfig: config.SessionDataConfig{
			Symbols:       []string{"RIVN"},
			Streams:       []bar.Interval{bar.MustParseInterval("1m"), bar.MustParseInterval("5m")},
			EnableQuality: true,
			Historical:    []config.HistoricalWindow{{TrailingDays: 1, Intervals: []bar.Interval{bar.MustParseInterval("1m")}}},
			GapFiller:     config.GapFillerConfig{MaxRetries: 2, RetryIntervalSeconds: 1, EnableSessionQuality: true},
			Streaming:     config.StreamingConfig{CatchupThresholdSeconds: 60, CatchupCheckInterval: 10},
		},
		Trading: config.TradingConfig{MaxBuyingPower: 25000},
		API:     config.APIConfig{DataAPI: "fake", TradeAPI: "fake"},
	}
}

type testRig struct {
	coord *Coordinator
	data  *sessiondata.SessionData
	bars  *store.FakeStore
	feed  *feed.FakeAdapter
	exec  *execution.FakeAdapter
	clock *fakeClock
}

func newTestRig(t *testing.T, cfg config.Session) *testRig {
	t.Helper()
	cal := testCalendar(t)
	data := sessiondata.New()
	indicators := indicator.NewManager()
	proc := processor.New(data, indicators, notify.New(64), zerolog.Nop())
	bars := store.NewFakeStore()
	fa := feed.NewFakeAdapter(16)
	fa.Seed(cfg.SessionDataConfig.Symbols...)
	ea := execution.NewFakeAdapter()
	clock := &fakeClock{t: cfg.Backtest.StartDate}

	coord, err := New(cfg, Dependencies{
		Data:        data,
		Calendar:    cal,
		Quality:     quality.New(cal),
		Indicators:  indicators,
		Processor:   proc,
		BarStore:    bars,
		FeedAdapter: fa,
		ExecAdapter: ea,
		Clock:       clock,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return &testRig{coord: coord, data: data, bars: bars, feed: fa, exec: ea, clock: clock}
}

func TestStartSession_LoadsConfiguredSymbols(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)

	results, loaded, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	oneMin := bar.MustParseInterval("1m")
	fiveMin := bar.MustParseInterval("5m")
	assert.Equal(t, 390, rig.data.GetBarCount("RIVN", oneMin, true))
	// The trailing window of the day stays buffered until the next bar
	// closes it, so one 5m window is still pending after a bulk load.
	assert.Equal(t, 77, rig.data.GetBarCount("RIVN", fiveMin, true))

	sd, ok := rig.data.GetSymbolData("RIVN", true)
	require.True(t, ok)
	assert.Equal(t, 100.0, sd.Quality())
	assert.True(t, rig.data.IsActive())
}

func TestStartSession_AbortsWhenNoSymbolLoads(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SessionDataConfig.Symbols = []string{"NODATA"}
	rig := newTestRig(t, cfg)
	rig.feed.Seed("NODATA")

	_, loaded, err := rig.coord.StartSession(context.Background())
	assert.Error(t, err)
	assert.Zero(t, loaded)
	assert.False(t, rig.data.IsActive())
}

func TestStartSession_ProceedsWithPartialBatch(t *testing.T) {
	cfg := testSessionConfig()
	cfg.SessionDataConfig.Symbols = []string{"RIVN", "NODATA"}
	rig := newTestRig(t, cfg)
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)

	results, loaded, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Reason)
}

func TestAddSymbol_Idempotent(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	ok, reason := rig.coord.AddSymbol(context.Background(), "RIVN", sessiondata.AddedByStrategy)
	assert.True(t, ok, reason)
	assert.Len(t, rig.data.GetActiveSymbols(true), 1)
}

func TestAddSymbol_UnknownToFeedRejected(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	ok, reason := rig.coord.AddSymbol(context.Background(), "ZZZZ", sessiondata.AddedByStrategy)
	assert.False(t, ok)
	assert.Contains(t, reason, "does not recognize")
}

func TestAddSymbol_NoHistoricalDataRejected(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	rig.feed.Seed("EMPT")
	ok, reason := rig.coord.AddSymbol(context.Background(), "EMPT", sessiondata.AddedByStrategy)
	assert.False(t, ok)
	assert.Contains(t, reason, "no historical data")
}

func TestAddInterval_NonDerivableRejected(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	ok, reason := rig.coord.AddInterval(context.Background(), "RIVN", bar.MustParseInterval("30s"))
	assert.False(t, ok)
	assert.Contains(t, reason, "not derivable")

	ok, reason = rig.coord.AddInterval(context.Background(), "RIVN", bar.MustParseInterval("15m"))
	assert.True(t, ok, reason)
	sd, _ := rig.data.GetSymbolData("RIVN", true)
	_, has := sd.Interval("15m")
	assert.True(t, has)
}

func TestAddIndicator_RegistersAndRejectsDuplicate(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	cfg := indicator.Config{Name: indicator.KindSMA, Period: 20, Interval: bar.MustParseInterval("1m")}
	ok, reason := rig.coord.AddIndicator(context.Background(), "RIVN", cfg)
	require.True(t, ok, reason)

	data, found := rig.data.GetIndicator("RIVN", cfg.Key(), true)
	require.True(t, found)
	assert.True(t, data.Valid, "390 warm-up bars are on hand, the indicator is valid immediately")

	ok, reason = rig.coord.AddIndicator(context.Background(), "RIVN", cfg)
	assert.False(t, ok)
	assert.Contains(t, reason, "already registered")
}

func TestAdhocSymbolUpgradedByStrategyAdd(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	seedDay(rig.bars, "AAPL", date(2024, time.December, 31), 390)
	rig.feed.Seed("AAPL")
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	ok, reason := rig.coord.AddAdhocSymbol(context.Background(), "aapl", []bar.Interval{bar.MustParseInterval("1m")})
	require.True(t, ok, reason)
	sd, found := rig.data.GetSymbolData("AAPL", true)
	require.True(t, found)
	meta := sd.Meta()
	assert.False(t, meta.MeetsSessionConfigRequirements)
	assert.Equal(t, sessiondata.AddedByScanner, meta.AddedBy)
	assert.True(t, meta.AutoProvisioned)

	ok, reason = rig.coord.AddSymbol(context.Background(), "AAPL", sessiondata.AddedByStrategy)
	require.True(t, ok, reason)
	meta = sd.Meta()
	assert.True(t, meta.UpgradedFromAdhoc)
	assert.True(t, meta.MeetsSessionConfigRequirements)
	assert.Len(t, rig.data.GetActiveSymbols(true), 2)
}

func TestMidSessionAdd_CatchesUpAndReactivates(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	seedDay(rig.bars, "AAPL", date(2024, time.December, 31), 390)
	seedDay(rig.bars, "AAPL", date(2025, time.January, 2), 390)
	rig.feed.Seed("AAPL")
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	rig.clock.Set(time.Date(2025, time.January, 2, 12, 0, 0, 0, time.UTC))
	ok, reason := rig.coord.AddSymbol(context.Background(), "AAPL", sessiondata.AddedByStrategy)
	require.True(t, ok, reason)

	// 390 trailing-day bars plus the 151 session bars from 09:30 through
	// 12:00 inclusive.
	assert.Equal(t, 541, rig.data.GetBarCount("AAPL", bar.MustParseInterval("1m"), true))
	assert.True(t, rig.data.IsActive(), "session reactivates once catch-up completes")
	assert.True(t, rig.coord.streamPaused.IsReady(), "stream resumes once catch-up completes")
}

func TestGapFill_RecoversMissingBarsAndDerivedWindow(t *testing.T) {
	rig := newTestRig(t, testSessionConfig())
	seedDay(rig.bars, "RIVN", date(2024, time.December, 31), 390)
	_, _, err := rig.coord.StartSession(context.Background())
	require.NoError(t, err)

	oneMin := bar.MustParseInterval("1m")
	fiveMin := bar.MustParseInterval("5m")
	open := time.Date(2025, time.January, 2, 9, 30, 0, 0, time.UTC)

	// Replay the session day with minutes 5, 6 and 45 missing
	// (09:35, 09:36, 10:15), up to 10:30.
	missing := map[int]bool{5: true, 6: true, 45: true}
	var lastTS time.Time
	for i := 0; i <= 60; i++ {
		if missing[i] {
			continue
		}
		ts := open.Add(time.Duration(i) * time.Minute)
		px := 100 + float64(i%10)
		b := bar.Bar{Timestamp: ts, Open: px, High: px + 1, Low: px - 1, Close: px + 0.5, Volume: 1000}
		require.NoError(t, rig.data.AppendBar("RIVN", oneMin, b))
		rig.coord.proc.ProcessBar(processor.BarAppended{Symbol: "RIVN", Interval: oneMin, Bar: b}, nil, nil, 0)
		lastTS = ts
	}
	rig.clock.Set(lastTS.Add(time.Minute))

	// The 09:35 and 10:15 windows closed incomplete and were withheld.
	fiveBars := rig.data.GetLastNBars("RIVN", fiveMin, 100, true)
	for _, b := range fiveBars {
		assert.NotEqual(t, open.Add(5*time.Minute), b.Timestamp, "incomplete window must not be emitted")
		assert.NotEqual(t, open.Add(45*time.Minute), b.Timestamp, "incomplete window must not be emitted")
	}

	// The store has the missing rows now; one fill pass repairs everything.
	seedDay(rig.bars, "RIVN", date(2025, time.January, 2), 390)
	filled, remaining := rig.coord.fillGapsOnce(context.Background(), "RIVN")
	assert.Equal(t, 3, filled)
	assert.Zero(t, remaining)

	assert.Equal(t, 390+61, rig.data.GetBarCount("RIVN", oneMin, true))
	found5m := false
	for _, b := range rig.data.GetLastNBars("RIVN", fiveMin, 100, true) {
		if b.Timestamp.Equal(open.Add(5 * time.Minute)) {
			found5m = true
			assert.Equal(t, 5000.0, b.Volume, "retroactive window aggregates all five base bars")
		}
	}
	assert.True(t, found5m, "completed window is emitted retroactively")

	sd, _ := rig.data.GetSymbolData("RIVN", true)
	assert.Equal(t, 100.0, sd.Quality())
}
