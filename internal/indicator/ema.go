package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// ema is the exponential moving average:
//
//	EMA_today = (Price_today * multiplier) + (EMA_yesterday * (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Warmup uses go-talib over the historical window to seed the running value;
// Update then advances it in O(1) per bar.
type ema struct {
	cfg        Config
	multiplier float64
	running    float64
	seeded     bool
	barsSeen   int
	data       Data
}

func newEMA(cfg Config) *ema {
	i := &ema{cfg: cfg, multiplier: 2.0 / (float64(cfg.Period) + 1.0)}
	i.Reset()
	return i
}

func (i *ema) Reset() {
	i.running = 0
	i.seeded = false
	i.barsSeen = 0
	i.data = Data{Config: i.cfg}
}

func (i *ema) Warmup(bars []bar.Bar) {
	closes := closesOf(bars)
	if len(closes) < i.cfg.Period {
		return
	}
	out := talib.Ema(closes, i.cfg.Period)
	last := out[len(out)-1]
	if last == last { // not NaN
		i.running = last
		i.seeded = true
		i.barsSeen = len(bars)
		i.data.Value = Value{Scalar: i.running}
		i.data.Valid = i.barsSeen >= i.cfg.Period
		i.data.UpdatedAt = bars[len(bars)-1].Timestamp
	}
}

func (i *ema) Update(b bar.Bar) {
	if !i.seeded {
		i.running = b.Close
		i.seeded = true
	} else {
		i.running = (b.Close * i.multiplier) + (i.running * (1 - i.multiplier))
	}
	i.barsSeen++
	i.data.Value = Value{Scalar: i.running}
	i.data.UpdatedAt = b.Timestamp
	i.data.Valid = i.barsSeen >= i.cfg.Period
}

func (i *ema) Data() Data { return i.data }
