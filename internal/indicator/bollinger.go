package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// bollinger tracks a rolling window of closes and reports upper/middle/lower
// bands: middle = SMA(period), upper/lower = middle +/- (stdDevMultiplier *
// stddev). stdDevMultiplier defaults to 2, configurable via Params["std_dev"].
type bollinger struct {
	cfg      Config
	stdDev   float64
	window   []float64
	data     Data
}

func newBollinger(cfg Config) *bollinger {
	i := &bollinger{cfg: cfg}
	i.stdDev = cfg.Params["std_dev"]
	if i.stdDev == 0 {
		i.stdDev = 2
	}
	i.Reset()
	return i
}

func (i *bollinger) Reset() {
	i.window = nil
	i.data = Data{Config: i.cfg}
}

func (i *bollinger) Warmup(bars []bar.Bar) {
	closes := closesOf(bars)
	i.window = lastN(closes, i.cfg.Period)
	if len(closes) < i.cfg.Period {
		return
	}
	upper, middle, lower := talib.BBands(closes, i.cfg.Period, i.stdDev, i.stdDev, 0)
	i.data.Value = Value{
		BBUpper:  upper[len(upper)-1],
		BBMiddle: middle[len(middle)-1],
		BBLower:  lower[len(lower)-1],
	}
	i.data.Valid = true
	i.data.UpdatedAt = bars[len(bars)-1].Timestamp
}

func (i *bollinger) Update(b bar.Bar) {
	i.window = append(i.window, b.Close)
	if len(i.window) > i.cfg.Period {
		i.window = i.window[len(i.window)-i.cfg.Period:]
	}
	if len(i.window) < i.cfg.Period {
		i.data.UpdatedAt = b.Timestamp
		return
	}
	middle := stat.Mean(i.window, nil)
	sd := stat.StdDev(i.window, nil)
	i.data.Value = Value{
		BBUpper:  middle + i.stdDev*sd,
		BBMiddle: middle,
		BBLower:  middle - i.stdDev*sd,
	}
	i.data.Valid = true
	i.data.UpdatedAt = b.Timestamp
}

func (i *bollinger) Data() Data { return i.data }
