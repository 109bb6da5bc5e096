package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dateUTC(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	store := &FakeStore{}
	store.Seed(
		Day{
			Date:         dateUTC(2025, 1, 2),
			RegularOpen:  time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC),
			RegularClose: time.Date(2025, 1, 2, 16, 0, 0, 0, time.UTC),
		},
		Day{
			Date:         dateUTC(2024, 11, 29),
			RegularOpen:  time.Date(2024, 11, 29, 9, 30, 0, 0, time.UTC),
			RegularClose: time.Date(2024, 11, 29, 16, 0, 0, 0, time.UTC),
			EarlyClose:   timePtr(time.Date(2024, 11, 29, 13, 0, 0, 0, time.UTC)),
		},
		Day{
			Date:      dateUTC(2024, 12, 25),
			IsHoliday: true,
		},
		Day{
			Date:         dateUTC(2024, 12, 26),
			RegularOpen:  time.Date(2024, 12, 26, 9, 30, 0, 0, time.UTC),
			RegularClose: time.Date(2024, 12, 26, 16, 0, 0, 0, time.UTC),
		},
	)
	cal, err := New(context.Background(), store, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)
	return cal
}

func timePtr(t time.Time) *time.Time { return &t }

func TestCalendar_IsTradingDay(t *testing.T) {
	cal := newTestCalendar(t)
	assert.True(t, cal.IsTradingDay(dateUTC(2025, 1, 2)))
	assert.False(t, cal.IsTradingDay(dateUTC(2024, 12, 25)), "holiday")
	assert.False(t, cal.IsTradingDay(dateUTC(2030, 1, 1)), "date absent from table")
}

func TestCalendar_EarlyClose(t *testing.T) {
	cal := newTestCalendar(t)
	ec, ok := cal.EarlyClose(dateUTC(2024, 11, 29))
	require.True(t, ok)
	assert.Equal(t, 13, ec.Hour())

	close, ok := cal.RegularClose(dateUTC(2024, 11, 29))
	require.True(t, ok)
	assert.Equal(t, ec, close, "RegularClose returns the early close when one is set")
}

func TestCalendar_NextTradingDay(t *testing.T) {
	cal := newTestCalendar(t)
	next, ok := cal.NextTradingDay(dateUTC(2024, 12, 25), 1)
	require.True(t, ok)
	assert.Equal(t, dateUTC(2024, 12, 26), next, "holiday is skipped")
}

func TestCalendar_Refresh(t *testing.T) {
	store := &FakeStore{}
	cal, err := New(context.Background(), store, "NASDAQ", zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, cal.IsTradingDay(dateUTC(2025, 1, 2)))

	store.Seed(Day{Date: dateUTC(2025, 1, 2), RegularOpen: time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), RegularClose: time.Date(2025, 1, 2, 16, 0, 0, 0, time.UTC)})
	require.NoError(t, cal.Refresh(context.Background()))
	assert.True(t, cal.IsTradingDay(dateUTC(2025, 1, 2)))
}
