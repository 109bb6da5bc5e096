package store

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	iv := bar.MustParseInterval("1m")
	b := bar.Bar{Timestamp: time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 100}

	require.NoError(t, s.BulkUpsert(ctx, "AAPL", iv, []bar.Bar{b}))

	got, err := s.GetBars(ctx, "AAPL", iv, b.Timestamp.Add(-time.Minute), b.Timestamp.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0])
}

func TestFakeStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	iv := bar.MustParseInterval("1m")
	ts := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.BulkUpsert(ctx, "AAPL", iv, []bar.Bar{{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1}}))
	require.NoError(t, s.BulkUpsert(ctx, "AAPL", iv, []bar.Bar{{Timestamp: ts, Open: 2, High: 2, Low: 2, Close: 2}}))

	got, err := s.GetBars(ctx, "AAPL", iv, ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Open)
}

func TestFakeStore_DateRangeAndHasData(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	iv := bar.MustParseInterval("1m")

	_, _, ok, err := s.DateRange(ctx, "AAPL", iv)
	require.NoError(t, err)
	assert.False(t, ok, "empty store has no range")

	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	s.Seed("AAPL", iv,
		bar.Bar{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1},
		bar.Bar{Timestamp: base.Add(time.Minute), Open: 1, High: 1, Low: 1, Close: 1},
	)

	min, max, ok, err := s.DateRange(ctx, "AAPL", iv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base, min)
	assert.Equal(t, base.Add(time.Minute), max)

	has, err := s.HasData(ctx, "AAPL", iv, base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasData(ctx, "MSFT", iv, base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, has)
}
