package indicator

import (
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// sma is a simple moving average over the last Period closes.
type sma struct {
	cfg    Config
	window []float64
	data   Data
}

func newSMA(cfg Config) *sma {
	i := &sma{cfg: cfg}
	i.Reset()
	return i
}

func (i *sma) Reset() {
	i.window = nil
	i.data = Data{Config: i.cfg}
}

func (i *sma) Warmup(bars []bar.Bar) {
	closes := closesOf(bars)
	i.window = lastN(closes, i.cfg.Period)
	if len(closes) >= i.cfg.Period {
		out := talib.Sma(closes, i.cfg.Period)
		i.setValue(out[len(out)-1], bars[len(bars)-1].Timestamp)
	}
}

func (i *sma) Update(b bar.Bar) {
	i.window = append(i.window, b.Close)
	if len(i.window) > i.cfg.Period {
		i.window = i.window[len(i.window)-i.cfg.Period:]
	}
	if len(i.window) == i.cfg.Period {
		i.setValue(mean(i.window), b.Timestamp)
	}
}

func (i *sma) Data() Data { return i.data }

func (i *sma) setValue(v float64, ts time.Time) {
	i.data.Value = Value{Scalar: v}
	i.data.UpdatedAt = ts
	i.data.Valid = true
}
