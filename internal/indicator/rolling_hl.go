package indicator

import (
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// rollingHL tracks the rolling high/low over the last Period bars, used by
// breakout/support-resistance style strategies reading through the core.
type rollingHL struct {
	cfg    Config
	highs  []float64
	lows   []float64
	data   Data
}

func newRollingHL(cfg Config) *rollingHL {
	i := &rollingHL{cfg: cfg}
	i.Reset()
	return i
}

func (i *rollingHL) Reset() {
	i.highs, i.lows = nil, nil
	i.data = Data{Config: i.cfg}
}

func (i *rollingHL) Warmup(bars []bar.Bar) {
	i.highs = lastN(highsOf(bars), i.cfg.Period)
	i.lows = lastN(lowsOf(bars), i.cfg.Period)
	if len(bars) >= i.cfg.Period {
		i.setValue(bars[len(bars)-1].Timestamp)
	}
}

func (i *rollingHL) Update(b bar.Bar) {
	i.highs = append(i.highs, b.High)
	i.lows = append(i.lows, b.Low)
	if len(i.highs) > i.cfg.Period {
		i.highs = i.highs[len(i.highs)-i.cfg.Period:]
		i.lows = i.lows[len(i.lows)-i.cfg.Period:]
	}
	if len(i.highs) >= i.cfg.Period {
		i.setValue(b.Timestamp)
	}
}

func (i *rollingHL) setValue(ts time.Time) {
	high, low := i.highs[0], i.lows[0]
	for _, h := range i.highs {
		if h > high {
			high = h
		}
	}
	for _, l := range i.lows {
		if l < low {
			low = l
		}
	}
	i.data.Value = Value{RollingHigh: high, RollingLow: low}
	i.data.Valid = true
	i.data.UpdatedAt = ts
}

func (i *rollingHL) Data() Data { return i.data }
