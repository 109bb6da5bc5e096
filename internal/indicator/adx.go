package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// adx is the Average Directional Index with its +DI/-DI components, all
// Wilder-smoothed. Warm-up requires 2*Period+1 bars per the ADX special
// case (di_smoothing + adx_smoothing both run over Period bars).
type adx struct {
	cfg                    Config
	prevHigh, prevLow      float64
	prevClose              float64
	smoothedTRPlus         float64
	smoothedTRMinus        float64
	smoothedTR             float64
	runningADX             float64
	barsSeen               int
	hasPrev                bool
	data                   Data
}

func newADX(cfg Config) *adx {
	i := &adx{cfg: cfg}
	i.Reset()
	return i
}

func (i *adx) Reset() {
	i.prevHigh, i.prevLow, i.prevClose = 0, 0, 0
	i.smoothedTRPlus, i.smoothedTRMinus, i.smoothedTR, i.runningADX = 0, 0, 0, 0
	i.barsSeen = 0
	i.hasPrev = false
	i.data = Data{Config: i.cfg}
}

func (i *adx) Warmup(bars []bar.Bar) {
	need := i.cfg.WarmupBars()
	if len(bars) < need {
		return
	}
	highs, lows, closes := highsOf(bars), lowsOf(bars), closesOf(bars)
	adxOut := talib.Adx(highs, lows, closes, i.cfg.Period)
	plusDI := talib.PlusDI(highs, lows, closes, i.cfg.Period)
	minusDI := talib.MinusDI(highs, lows, closes, i.cfg.Period)

	last := adxOut[len(adxOut)-1]
	if last == last {
		i.data.Value = Value{
			ADX:     last,
			PlusDI:  plusDI[len(plusDI)-1],
			MinusDI: minusDI[len(minusDI)-1],
		}
		i.data.Valid = true
	}
	i.runningADX = i.data.Value.ADX
	i.prevHigh, i.prevLow, i.prevClose = highs[len(highs)-1], lows[len(lows)-1], closes[len(closes)-1]
	i.hasPrev = true
	i.barsSeen = len(bars)
	i.data.UpdatedAt = bars[len(bars)-1].Timestamp
}

func (i *adx) Update(b bar.Bar) {
	if !i.hasPrev {
		i.prevHigh, i.prevLow, i.prevClose = b.High, b.Low, b.Close
		i.hasPrev = true
		i.barsSeen++
		i.data.UpdatedAt = b.Timestamp
		return
	}

	upMove := b.High - i.prevHigh
	downMove := i.prevLow - b.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := trueRange(i.prevClose, b.High, b.Low)

	period := float64(i.cfg.Period)
	i.smoothedTR = wilder(i.smoothedTR, tr, period, i.barsSeen <= i.cfg.Period)
	i.smoothedTRPlus = wilder(i.smoothedTRPlus, plusDM, period, i.barsSeen <= i.cfg.Period)
	i.smoothedTRMinus = wilder(i.smoothedTRMinus, minusDM, period, i.barsSeen <= i.cfg.Period)

	i.prevHigh, i.prevLow, i.prevClose = b.High, b.Low, b.Close
	i.barsSeen++

	if i.smoothedTR == 0 {
		i.data.UpdatedAt = b.Timestamp
		return
	}
	plusDI := 100 * i.smoothedTRPlus / i.smoothedTR
	minusDI := 100 * i.smoothedTRMinus / i.smoothedTR
	dx := 0.0
	if plusDI+minusDI > 0 {
		dx = 100 * absF(plusDI-minusDI) / (plusDI + minusDI)
	}
	i.runningADX = wilder(i.runningADX, dx, period, i.runningADX == 0)

	i.data.Value = Value{ADX: i.runningADX, PlusDI: plusDI, MinusDI: minusDI}
	i.data.UpdatedAt = b.Timestamp
	i.data.Valid = i.barsSeen >= i.cfg.WarmupBars()
}

func (i *adx) Data() Data { return i.data }

func wilder(running, sample, period float64, firstSample bool) float64 {
	if firstSample {
		return sample
	}
	return running - (running / period) + sample
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
