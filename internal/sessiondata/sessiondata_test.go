package sessiondata

import (
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBar(ts time.Time, o, h, l, c, v float64) bar.Bar {
	return bar.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func indicatorStub() indicator.Data {
	return indicator.Data{Config: indicator.Config{Name: indicator.KindSMA, Period: 20}}
}

func TestRegisterSymbol_Idempotent(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	a := sd.RegisterSymbol("AAPL", base, Metadata{AddedBy: AddedByConfig})
	b := sd.RegisterSymbol("AAPL", base, Metadata{AddedBy: AddedByScanner})
	assert.Same(t, a, b, "second RegisterSymbol returns the existing entry")
	assert.Equal(t, AddedByConfig, a.Meta().AddedBy, "first registration's metadata wins")
}

func TestAppendBar_MonotonicityAndMetrics(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	sd.RegisterSymbol("AAPL", base, Metadata{})
	sd.ActivateSession()

	t0 := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sd.AppendBar("AAPL", base, mustBar(t0, 10, 11, 9, 10.5, 100)))
	require.NoError(t, sd.AppendBar("AAPL", base, mustBar(t0.Add(time.Minute), 10.5, 12, 10, 11, 200)))

	err := sd.AppendBar("AAPL", base, mustBar(t0, 1, 1, 1, 1, 1))
	assert.Error(t, err, "timestamp regression must be rejected")

	s, ok := sd.GetSymbolData("AAPL", true)
	require.True(t, ok)
	m := s.Metrics()
	assert.Equal(t, 2, m.BarCount)
	assert.Equal(t, 300.0, m.CumulativeVolume)
	assert.Equal(t, 12.0, m.SessionHigh)
	assert.Equal(t, 9.0, m.SessionLow)
}

func TestSessionActiveGate(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	sd.RegisterSymbol("AAPL", base, Metadata{})

	// inactive: external reads see nothing
	assert.Empty(t, sd.GetActiveSymbols(false))
	_, ok := sd.GetSymbolData("AAPL", false)
	assert.False(t, ok)

	// internal reads are unaffected
	_, ok = sd.GetSymbolData("AAPL", true)
	assert.True(t, ok)

	sd.ActivateSession()
	assert.Len(t, sd.GetActiveSymbols(false), 1)

	sd.DeactivateSession()
	assert.Empty(t, sd.GetActiveSymbols(false))
}

func TestClear(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	sd.RegisterSymbol("AAPL", base, Metadata{})
	sd.ActivateSession()
	sd.Clear()

	assert.Empty(t, sd.GetActiveSymbols(true), "Clear drops every symbol")
	assert.False(t, sd.IsActive(), "Clear also deactivates the session")
}

func TestUpgradeAdhocSymbol(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	s := sd.RegisterSymbol("AAPL", base, Metadata{AddedBy: AddedByScanner, MeetsSessionConfigRequirements: false})
	require.False(t, s.Meta().MeetsSessionConfigRequirements)

	s.MarkUpgraded()
	meta := s.Meta()
	assert.True(t, meta.UpgradedFromAdhoc)
	assert.True(t, meta.MeetsSessionConfigRequirements)
}

func TestDuplicateIndicatorRegistrationIsNoOp(t *testing.T) {
	sd := New()
	base := bar.MustParseInterval("1m")
	s := sd.RegisterSymbol("AAPL", base, Metadata{})
	assert.False(t, s.HasIndicator("sma_20_1m"))

	require.NoError(t, sd.SetIndicator("AAPL", "sma_20_1m", indicatorStub()))
	assert.True(t, s.HasIndicator("sma_20_1m"))

	// Re-registering the same key is a no-op from the coordinator's
	// perspective (it never calls SetIndicator again); here we assert the
	// store itself is fine being called twice with the same key.
	require.NoError(t, sd.SetIndicator("AAPL", "sma_20_1m", indicatorStub()))
	assert.True(t, s.HasIndicator("sma_20_1m"))
}

func TestBaseIntervalNeverChanges(t *testing.T) {
	sd := New()
	s1 := sd.RegisterSymbol("AAPL", bar.MustParseInterval("1m"), Metadata{})
	s2 := sd.RegisterSymbol("AAPL", bar.MustParseInterval("5m"), Metadata{})
	assert.Equal(t, s1.BaseInterval, s2.BaseInterval, "second registration's base interval is ignored")
	assert.Equal(t, bar.MustParseInterval("1m"), s1.BaseInterval)
}
