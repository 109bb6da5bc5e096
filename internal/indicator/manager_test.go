package indicator

import (
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RegisterIsIdempotent(t *testing.T) {
	m := NewManager()
	cfg := Config{Name: KindSMA, Period: 3, Interval: bar.MustParseInterval("1m")}

	d1, err := m.Register("AAPL", cfg, nil)
	require.NoError(t, err)
	d2, err := m.Register("AAPL", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestManager_UpdateOnlyTouchesMatchingInterval(t *testing.T) {
	m := NewManager()
	oneMin := bar.MustParseInterval("1m")
	fiveMin := bar.MustParseInterval("5m")

	_, err := m.Register("AAPL", Config{Name: KindSMA, Period: 2, Interval: oneMin}, nil)
	require.NoError(t, err)
	_, err = m.Register("AAPL", Config{Name: KindSMA, Period: 2, Interval: fiveMin}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	updated := m.Update("AAPL", oneMin, bar.Bar{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1})
	assert.Len(t, updated, 1)
}

func TestManager_WarmupSetsValidity(t *testing.T) {
	m := NewManager()
	iv := bar.MustParseInterval("1m")
	cfg := Config{Name: KindSMA, Period: 3, Interval: iv}

	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	hist := []bar.Bar{
		{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: base.Add(time.Minute), Open: 2, High: 2, Low: 2, Close: 2},
		{Timestamp: base.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3},
	}
	d, err := m.Register("AAPL", cfg, hist)
	require.NoError(t, err)
	assert.True(t, d.Valid)
}
