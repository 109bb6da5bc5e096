package quality

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T) (*Checker, *calendar.FakeStore) {
	t.Helper()
	store := &calendar.FakeStore{}
	store.Seed(
		calendar.Day{
			Date:         time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			RegularOpen:  time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC),
			RegularClose: time.Date(2025, 1, 2, 16, 0, 0, 0, time.UTC),
		},
		calendar.Day{
			Date:         time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC),
			RegularOpen:  time.Date(2024, 11, 29, 9, 30, 0, 0, time.UTC),
			RegularClose: time.Date(2024, 11, 29, 16, 0, 0, 0, time.UTC),
			EarlyClose:   earlyPtr(time.Date(2024, 11, 29, 13, 0, 0, 0, time.UTC)),
		},
		calendar.Day{
			Date:      time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC),
			IsHoliday: true,
		},
	)
	cal, err := calendar.New(context.Background(), store, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)
	return New(cal), store
}

func earlyPtr(t time.Time) *time.Time { return &t }

func TestExpectedBars_S1PerfectDay(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	expected := c.ExpectedBars(date, date, bar.MustParseInterval("1m"))
	require.Equal(t, 390, expected)
}

func TestExpectedBars_EarlyClose(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC)
	expected := c.ExpectedBars(date, date, bar.MustParseInterval("1m"))
	require.Equal(t, 210, expected)
}

func TestExpectedBars_Holiday(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)
	expected := c.ExpectedBars(date, date, bar.MustParseInterval("1m"))
	require.Equal(t, 0, expected)
}

func TestEvaluate_PerfectDayScoresHundred(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]bar.Bar, 390)
	m := c.Evaluate(bars, 0, date, date, bar.MustParseInterval("1m"))
	require.InDelta(t, 100.0, m.Score, 0.001)
	require.Equal(t, 0, m.MissingBars)
}

func TestEvaluate_GapReducesScore(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]bar.Bar, 387) // 3 missing out of 390
	m := c.Evaluate(bars, 0, date, date, bar.MustParseInterval("1m"))
	require.InDelta(t, 99.23, m.Score, 0.5)
}

func TestIntradayQuality_BeforeOpenIsHundred(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	require.Equal(t, 100.0, c.IntradayQuality(0, date, now, bar.MustParseInterval("1m")))
}

func TestRollingScoreStats(t *testing.T) {
	mean, stddev := RollingScoreStats([]float64{100, 100, 100})
	require.InDelta(t, 100.0, mean, 0.001)
	require.InDelta(t, 0.0, stddev, 0.001)

	mean, stddev = RollingScoreStats(nil)
	require.Equal(t, 0.0, mean)
	require.Equal(t, 0.0, stddev)
}

func TestDetectGaps_CoalescesRuns(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	open := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	iv := bar.MustParseInterval("1m")

	// Bars through 10:00, minutes 5, 6 and 15 missing.
	var bars []bar.Bar
	for i := 0; i <= 30; i++ {
		if i == 5 || i == 6 || i == 15 {
			continue
		}
		bars = append(bars, bar.Bar{Timestamp: open.Add(time.Duration(i) * time.Minute)})
	}

	gaps := c.DetectGaps(bars, date, open.Add(31*time.Minute), iv)
	require.Len(t, gaps, 2)
	require.Equal(t, open.Add(5*time.Minute), gaps[0].Start)
	require.Equal(t, open.Add(6*time.Minute), gaps[0].End)
	require.Equal(t, open.Add(15*time.Minute), gaps[1].Start)
	require.Equal(t, open.Add(15*time.Minute), gaps[1].End)
}

func TestDetectGaps_NoneBeforeOpen(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	gaps := c.DetectGaps(nil, date, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC), bar.MustParseInterval("1m"))
	require.Empty(t, gaps)
}

func TestEvaluate_HolidayHasNoScore(t *testing.T) {
	c, _ := newChecker(t)
	date := time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)
	m := c.Evaluate(nil, 0, date, date, bar.MustParseInterval("1m"))
	require.False(t, m.Valid, "no trading time means no score exists")
	require.Equal(t, 0, m.ExpectedBars)
}
