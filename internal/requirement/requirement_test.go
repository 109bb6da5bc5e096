package requirement

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBaseInterval(t *testing.T) {
	t.Run("1m and 5m select 1m", func(t *testing.T) {
		base, err := SelectBaseInterval([]bar.Interval{
			bar.MustParseInterval("1m"),
			bar.MustParseInterval("5m"),
		})
		require.NoError(t, err)
		assert.Equal(t, bar.MustParseInterval("1m"), base)
	})

	t.Run("1m and 1d selects 1m (1d derives from 1m)", func(t *testing.T) {
		base, err := SelectBaseInterval([]bar.Interval{
			bar.MustParseInterval("1m"),
			bar.MustParseInterval("1d"),
		})
		require.NoError(t, err)
		assert.Equal(t, bar.MustParseInterval("1m"), base)
	})

	t.Run("1d and 1w selects 1d", func(t *testing.T) {
		base, err := SelectBaseInterval([]bar.Interval{
			bar.MustParseInterval("1d"),
			bar.MustParseInterval("1w"),
		})
		require.NoError(t, err)
		assert.Equal(t, bar.MustParseInterval("1d"), base)
	})

	t.Run("no common base errors", func(t *testing.T) {
		_, err := SelectBaseInterval([]bar.Interval{
			bar.MustParseInterval("5m"),
			bar.MustParseInterval("1w"),
		})
		assert.Error(t, err)
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		streams := []bar.Interval{bar.MustParseInterval("5m"), bar.MustParseInterval("15m")}
		a, err1 := SelectBaseInterval(streams)
		b, err2 := SelectBaseInterval(streams)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, a, b)
	})
}

func TestAnalyzeIndicator(t *testing.T) {
	base := bar.MustParseInterval("1m")
	cfg := indicator.Config{Name: indicator.KindRSI, Period: 14, Interval: bar.MustParseInterval("5m")}

	req := AnalyzeIndicator(cfg, base)
	assert.Equal(t, 15, req.WarmupBars)
	assert.ElementsMatch(t, []bar.Interval{base, cfg.Interval}, req.Intervals)
}

func TestAnalyzeIndicatorSameIntervalAsBase(t *testing.T) {
	base := bar.MustParseInterval("1m")
	cfg := indicator.Config{Name: indicator.KindSMA, Period: 20, Interval: base}
	req := AnalyzeIndicator(cfg, base)
	assert.Equal(t, []bar.Interval{base}, req.Intervals)
}

func TestBackwalkDays(t *testing.T) {
	store := &calendar.FakeStore{}
	loc := time.UTC
	for d := 1; d <= 10; d++ {
		date := time.Date(2025, 1, d, 0, 0, 0, 0, loc)
		store.Seed(calendar.Day{
			Date:         date,
			RegularOpen:  time.Date(2025, 1, d, 9, 30, 0, 0, loc),
			RegularClose: time.Date(2025, 1, d, 16, 0, 0, 0, loc),
		})
	}
	cal, err := calendar.New(context.Background(), store, "US", zerolog.Nop())
	require.NoError(t, err)

	days := BackwalkDays(cal, time.Date(2025, 1, 10, 12, 0, 0, 0, loc), bar.MustParseInterval("1m"), 14)
	assert.Greater(t, days, 0)
}
