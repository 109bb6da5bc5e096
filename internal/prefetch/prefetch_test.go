package prefetch

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	fs := &calendar.FakeStore{}
	for _, d := range []time.Time{
		date(2024, time.December, 30), date(2024, time.December, 31), date(2025, time.January, 2),
	} {
		fs.Seed(calendar.Day{
			Date:         d,
			RegularOpen:  d.Add(9*time.Hour + 30*time.Minute),
			RegularClose: d.Add(16 * time.Hour),
		})
	}
	fs.Seed(calendar.Day{Date: date(2025, time.January, 1), IsHoliday: true})
	cal, err := calendar.New(context.Background(), fs, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)
	return cal
}

func testConfig() config.Session {
	return config.Session{
		SessionName:   "prefetch",
		Mode:          config.ModeBacktest,
		ExchangeGroup: "NASDAQ",
		Backtest:      &config.BacktestConfig{StartDate: date(2025, time.January, 2), EndDate: date(2025, time.January, 2)},
		SessionDataConfig: config.SessionDataConfig{
			Symbols:    []string{"rivn"},
			Streams:    []bar.Interval{bar.MustParseInterval("1m")},
			Historical: []config.HistoricalWindow{{TrailingDays: 2, Intervals: []bar.Interval{bar.MustParseInterval("1m")}}},
		},
		Trading: config.TradingConfig{MaxBuyingPower: 25000},
		API:     config.APIConfig{DataAPI: "fake", TradeAPI: "fake"},
	}
}

func TestLoadAll_LoadsTrailingWindow(t *testing.T) {
	cal := testCalendar(t)
	data := sessiondata.New()
	bars := store.NewFakeStore()
	oneMin := bar.MustParseInterval("1m")

	for _, d := range []time.Time{date(2024, time.December, 30), date(2024, time.December, 31)} {
		open := d.Add(9*time.Hour + 30*time.Minute)
		var seed []bar.Bar
		for i := 0; i < 390; i++ {
			seed = append(seed, bar.Bar{Timestamp: open.Add(time.Duration(i) * time.Minute), Open: 10, High: 11, Low: 9, Close: 10, Volume: 100})
		}
		bars.Seed("RIVN", oneMin, seed...)
	}

	clock := stubClock{t: date(2025, time.January, 2)}
	m := New(data, bars, cal, testConfig(), oneMin, clock, zerolog.Nop())
	m.LoadAll(context.Background())

	// Both trailing trading days, symbol name normalized on entry.
	assert.Equal(t, 780, data.GetBarCount("RIVN", oneMin, true))
	sd, ok := data.GetSymbolData("RIVN", true)
	require.True(t, ok)
	assert.Equal(t, sessiondata.AddedByConfig, sd.Meta().AddedBy)
}

func TestLoadAll_NoHistoricalWindowConfigured(t *testing.T) {
	cal := testCalendar(t)
	data := sessiondata.New()
	cfg := testConfig()
	cfg.SessionDataConfig.Historical = nil
	cfg.Backtest.PrefetchDays = 0

	m := New(data, store.NewFakeStore(), cal, cfg, bar.MustParseInterval("1m"), stubClock{t: date(2025, time.January, 2)}, zerolog.Nop())
	m.LoadAll(context.Background())
	assert.Empty(t, data.GetActiveSymbols(true))
}

func TestNextFire_SkipsNonTradingDays(t *testing.T) {
	cal := testCalendar(t)
	m := New(sessiondata.New(), store.NewFakeStore(), cal, testConfig(), bar.MustParseInterval("1m"), stubClock{t: date(2025, time.January, 1)}, zerolog.Nop())

	fire, ok := m.nextFire(date(2025, time.January, 1))
	require.True(t, ok)
	// January 1st is a holiday: the next fire is the 2nd's open minus the
	// one-hour lead.
	assert.Equal(t, date(2025, time.January, 2).Add(8*time.Hour+30*time.Minute), fire)
}
