package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// atr is the Average True Range with Wilder smoothing.
type atr struct {
	cfg       Config
	running   float64
	prevClose float64
	hasPrev   bool
	barsSeen  int
	data      Data
}

func newATR(cfg Config) *atr {
	i := &atr{cfg: cfg}
	i.Reset()
	return i
}

func (i *atr) Reset() {
	i.running, i.prevClose = 0, 0
	i.hasPrev = false
	i.barsSeen = 0
	i.data = Data{Config: i.cfg}
}

func trueRange(prevClose, high, low float64) float64 {
	tr := high - low
	if d := high - prevClose; d > tr {
		tr = d
	}
	if d := prevClose - low; d > tr {
		tr = d
	}
	return tr
}

func (i *atr) Warmup(bars []bar.Bar) {
	if len(bars) < i.cfg.Period+1 {
		return
	}
	highs, lows, closes := highsOf(bars), lowsOf(bars), closesOf(bars)
	out := talib.Atr(highs, lows, closes, i.cfg.Period)
	last := out[len(out)-1]
	if last == last {
		i.running = last
	}
	i.prevClose = closes[len(closes)-1]
	i.hasPrev = true
	i.barsSeen = len(bars)
	i.data.Value = Value{Scalar: i.running}
	i.data.Valid = true
	i.data.UpdatedAt = bars[len(bars)-1].Timestamp
}

func (i *atr) Update(b bar.Bar) {
	if !i.hasPrev {
		i.prevClose = b.Close
		i.hasPrev = true
		i.barsSeen++
		i.data.UpdatedAt = b.Timestamp
		return
	}
	tr := trueRange(i.prevClose, b.High, b.Low)
	period := float64(i.cfg.Period)
	if i.barsSeen < i.cfg.Period+1 {
		i.running += tr
	} else {
		i.running = ((i.running * (period - 1)) + tr) / period
	}
	i.prevClose = b.Close
	i.barsSeen++
	if i.barsSeen == i.cfg.Period+1 {
		i.running /= period
	}
	i.data.Value = Value{Scalar: i.running}
	i.data.UpdatedAt = b.Timestamp
	i.data.Valid = i.barsSeen >= i.cfg.Period+1
}

func (i *atr) Data() Data { return i.data }
