package processor

import (
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/notify"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) (*Processor, *sessiondata.SessionData) {
	t.Helper()
	store := sessiondata.New()
	oneMin := bar.MustParseInterval("1m")
	store.RegisterSymbol("AAPL", oneMin, sessiondata.Metadata{})
	store.ActivateSession()

	fiveMin := bar.MustParseInterval("5m")
	sym, _ := store.GetSymbolData("AAPL", true)
	sym.AddInterval(fiveMin, &oneMin)

	proc := New(store, indicator.NewManager(), notify.New(16), zerolog.Nop())
	proc.AttachDerived("AAPL", DerivedSpec{Symbol: "AAPL", Target: fiveMin, Base: oneMin})
	return proc, store
}

func appendAndProcess(t *testing.T, store *sessiondata.SessionData, proc *Processor, ts time.Time, close float64) {
	t.Helper()
	oneMin := bar.MustParseInterval("1m")
	b := bar.Bar{Timestamp: ts, Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 10}
	require.NoError(t, store.AppendBar("AAPL", oneMin, b))
	proc.ProcessBar(BarAppended{Symbol: "AAPL", Interval: oneMin, Bar: b}, nil, nil, 0)
}

func TestProcessor_RollsDerivedOnWindowClose(t *testing.T) {
	proc, store := newTestProcessor(t)
	fiveMin := bar.MustParseInterval("5m")
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		appendAndProcess(t, store, proc, base.Add(time.Duration(i)*time.Minute), float64(10+i))
	}
	// No 5m bar yet: the window 09:30-09:34 only closes once the 09:35 bar
	// (the first tick of the next window) arrives.
	assert.Equal(t, 0, store.GetBarCount("AAPL", fiveMin, true))

	appendAndProcess(t, store, proc, base.Add(5*time.Minute), 20)
	assert.Equal(t, 1, store.GetBarCount("AAPL", fiveMin, true))

	bars := store.GetLastNBars("AAPL", fiveMin, 1, true)
	require.Len(t, bars, 1)
	assert.Equal(t, base, bars[0].Timestamp)
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Equal(t, 14.5, bars[0].High)
	assert.Equal(t, 14.0, bars[0].Close)
	assert.Equal(t, 50.0, bars[0].Volume)
}

func TestProcessor_FlushSymbolEmitsTrailingWindow(t *testing.T) {
	proc, store := newTestProcessor(t)
	fiveMin := bar.MustParseInterval("5m")
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		appendAndProcess(t, store, proc, base.Add(time.Duration(i)*time.Minute), float64(10+i))
	}
	assert.Equal(t, 0, store.GetBarCount("AAPL", fiveMin, true))

	proc.FlushSymbol("AAPL")
	assert.Equal(t, 1, store.GetBarCount("AAPL", fiveMin, true), "flush emits the partial trailing window")
}

func TestProcessor_NotificationsGatedBySessionActive(t *testing.T) {
	store := sessiondata.New()
	oneMin := bar.MustParseInterval("1m")
	store.RegisterSymbol("AAPL", oneMin, sessiondata.Metadata{})
	// session left inactive deliberately

	stream := notify.New(16)
	proc := New(store, indicator.NewManager(), stream, zerolog.Nop())

	b := bar.Bar{Timestamp: time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1}
	require.NoError(t, store.AppendBar("AAPL", oneMin, b))
	proc.ProcessBar(BarAppended{Symbol: "AAPL", Interval: oneMin, Bar: b}, nil, nil, 0)

	select {
	case <-stream.Subscribe(nil):
		t.Fatal("no notification expected while session is inactive")
	default:
	}
}
