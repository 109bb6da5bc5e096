package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// rsi is the Relative Strength Index:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over Period periods (Wilder smoothing)
type rsi struct {
	cfg       Config
	avgGain   float64
	avgLoss   float64
	prevClose float64
	hasPrev   bool
	barsSeen  int
	data      Data
}

func newRSI(cfg Config) *rsi {
	i := &rsi{cfg: cfg}
	i.Reset()
	return i
}

func (i *rsi) Reset() {
	i.avgGain, i.avgLoss, i.prevClose = 0, 0, 0
	i.hasPrev = false
	i.barsSeen = 0
	i.data = Data{Config: i.cfg}
}

func (i *rsi) Warmup(bars []bar.Bar) {
	closes := closesOf(bars)
	if len(closes) < i.cfg.Period+1 {
		return
	}
	out := talib.Rsi(closes, i.cfg.Period)
	last := out[len(out)-1]

	// Seed Wilder's running averages from the trailing window so subsequent
	// Update calls continue the same smoothing talib used internally.
	var gainSum, lossSum float64
	start := len(closes) - i.cfg.Period
	for idx := start; idx < len(closes); idx++ {
		delta := closes[idx] - closes[idx-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	i.avgGain = gainSum / float64(i.cfg.Period)
	i.avgLoss = lossSum / float64(i.cfg.Period)
	i.prevClose = closes[len(closes)-1]
	i.hasPrev = true
	i.barsSeen = len(bars)

	if last == last {
		i.data.Value = Value{Scalar: last}
	} else {
		i.data.Value = Value{Scalar: i.computeFromAverages()}
	}
	i.data.Valid = i.barsSeen >= i.cfg.Period+1
	i.data.UpdatedAt = bars[len(bars)-1].Timestamp
}

func (i *rsi) Update(b bar.Bar) {
	if !i.hasPrev {
		i.prevClose = b.Close
		i.hasPrev = true
		i.barsSeen++
		i.data.UpdatedAt = b.Timestamp
		return
	}

	delta := b.Close - i.prevClose
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	period := float64(i.cfg.Period)
	i.avgGain = ((i.avgGain * (period - 1)) + gain) / period
	i.avgLoss = ((i.avgLoss * (period - 1)) + loss) / period
	i.prevClose = b.Close
	i.barsSeen++

	i.data.Value = Value{Scalar: i.computeFromAverages()}
	i.data.UpdatedAt = b.Timestamp
	i.data.Valid = i.barsSeen >= i.cfg.Period+1
}

func (i *rsi) computeFromAverages() float64 {
	if i.avgLoss == 0 {
		return 100
	}
	rs := i.avgGain / i.avgLoss
	return 100 - (100 / (1 + rs))
}

func (i *rsi) Data() Data { return i.data }
