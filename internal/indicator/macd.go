package indicator

import (
	"github.com/aristath/marketsession/internal/bar"
	"github.com/markcheno/go-talib"
)

// macd holds fast/slow/signal EMAs and reports line, signal, and histogram.
// Params: "fast_period" (default 12), "slow_period" (default 26),
// "signal_period" (default 9).
type macd struct {
	cfg                     Config
	fastPeriod, slowPeriod  int
	signalPeriod            int
	fastEMA, slowEMA        float64
	signalEMA               float64
	seeded, signalSeeded    bool
	barsSeen                int
	data                    Data
}

func newMACD(cfg Config) *macd {
	i := &macd{cfg: cfg}
	i.fastPeriod = paramOr(cfg.Params, "fast_period", 12)
	i.slowPeriod = paramOr(cfg.Params, "slow_period", 26)
	i.signalPeriod = paramOr(cfg.Params, "signal_period", 9)
	i.Reset()
	return i
}

func paramOr(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

func (i *macd) Reset() {
	i.fastEMA, i.slowEMA, i.signalEMA = 0, 0, 0
	i.seeded, i.signalSeeded = false, false
	i.barsSeen = 0
	i.data = Data{Config: i.cfg}
}

func (i *macd) Warmup(bars []bar.Bar) {
	closes := closesOf(bars)
	if len(closes) < i.slowPeriod {
		return
	}
	macdLine, signalLine, hist := talib.Macd(closes, i.fastPeriod, i.slowPeriod, i.signalPeriod)

	fastOut := talib.Ema(closes, i.fastPeriod)
	slowOut := talib.Ema(closes, i.slowPeriod)
	i.fastEMA = fastOut[len(fastOut)-1]
	i.slowEMA = slowOut[len(slowOut)-1]
	i.seeded = true
	i.barsSeen = len(bars)

	last := macdLine[len(macdLine)-1]
	if last == last {
		i.signalEMA = signalLine[len(signalLine)-1]
		i.signalSeeded = true
		i.data.Value = Value{
			MACDLine:   last,
			MACDSignal: signalLine[len(signalLine)-1],
			MACDHist:   hist[len(hist)-1],
		}
		i.data.Valid = true
		i.data.UpdatedAt = bars[len(bars)-1].Timestamp
	}
}

func (i *macd) Update(b bar.Bar) {
	fastMult := 2.0 / (float64(i.fastPeriod) + 1.0)
	slowMult := 2.0 / (float64(i.slowPeriod) + 1.0)
	signalMult := 2.0 / (float64(i.signalPeriod) + 1.0)

	if !i.seeded {
		i.fastEMA, i.slowEMA = b.Close, b.Close
		i.seeded = true
	} else {
		i.fastEMA = (b.Close * fastMult) + (i.fastEMA * (1 - fastMult))
		i.slowEMA = (b.Close * slowMult) + (i.slowEMA * (1 - slowMult))
	}
	i.barsSeen++

	macdLine := i.fastEMA - i.slowEMA
	if !i.signalSeeded {
		i.signalEMA = macdLine
		i.signalSeeded = true
	} else {
		i.signalEMA = (macdLine * signalMult) + (i.signalEMA * (1 - signalMult))
	}

	i.data.Value = Value{
		MACDLine:   macdLine,
		MACDSignal: i.signalEMA,
		MACDHist:   macdLine - i.signalEMA,
	}
	i.data.UpdatedAt = b.Timestamp
	i.data.Valid = i.barsSeen >= i.slowPeriod
}

func (i *macd) Data() Data { return i.data }
