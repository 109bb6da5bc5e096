// Package indicator implements the warm-up/incremental-update indicator
// engine: a closed, compile-time set of indicator kinds behind one
// interface (reset, warmup, update), selected through a small factory
// keyed on the kind tag.
package indicator

import (
	"fmt"
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// Kind is the closed set of indicator implementations. New indicators are
// added as new Kind constants plus a case in New; there is no runtime
// plugin mechanism.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindATR        Kind = "atr"
	KindVWAP       Kind = "vwap"
	KindADX        Kind = "adx"
	KindRollingHL  Kind = "rolling_hl"
)

// Category tags the broad family an indicator belongs to, carried on
// Config (trend, momentum, volatility, volume).
type Category string

const (
	CategoryTrend      Category = "trend"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryVolume     Category = "volume"
)

var categoryByKind = map[Kind]Category{
	KindSMA:       CategoryTrend,
	KindEMA:       CategoryTrend,
	KindRSI:       CategoryMomentum,
	KindMACD:      CategoryMomentum,
	KindBollinger: CategoryVolatility,
	KindATR:       CategoryVolatility,
	KindVWAP:      CategoryVolume,
	KindADX:       CategoryTrend,
	KindRollingHL: CategoryTrend,
}

// Config identifies one indicator instance: (name, period, interval)
// plus a type tag, parameter map, and the warm-up requirement derived from
// name+period.
type Config struct {
	Name     Kind
	Period   int
	Interval bar.Interval
	Category Category
	Params   map[string]float64
}

// Key returns the indicator's identity key "<name>_<period>_<interval>".
func (c Config) Key() string {
	return fmt.Sprintf("%s_%d_%s", c.Name, c.Period, c.Interval)
}

// WarmupBars computes the minimum bar count needed before the indicator can
// be considered valid: period+1 for RSI, slow_period for MACD,
// 2*period+1 for ADX, max(1, period) otherwise.
func (c Config) WarmupBars() int {
	switch c.Name {
	case KindRSI:
		return c.Period + 1
	case KindMACD:
		slow := int(c.Params["slow_period"])
		if slow == 0 {
			slow = 26
		}
		return slow
	case KindADX:
		return c.Period*2 + 1
	default:
		if c.Period < 1 {
			return 1
		}
		return c.Period
	}
}

// Value is the current scalar (or small struct) value an indicator reports.
// Each Kind fills only its own fields: MACD, Bollinger, ADX and RollingHL
// populate their multi-field groups below, every other Kind populates Scalar.
type Value struct {
	Scalar float64

	// MACD
	MACDLine   float64
	MACDSignal float64
	MACDHist   float64

	// Bollinger
	BBUpper  float64
	BBMiddle float64
	BBLower  float64

	// ADX
	ADX     float64
	PlusDI  float64
	MinusDI float64

	// RollingHL
	RollingHigh float64
	RollingLow  float64
}

// Data is one indicator's published snapshot: current value, validity flag,
// timestamp
// of last update, and the config that produced it.
type Data struct {
	Config    Config
	Value     Value
	Valid     bool
	UpdatedAt time.Time
}

// Indicator is the three-method interface every implementation satisfies:
// reset (clear state), warmup (bulk feed), update (incremental).
type Indicator interface {
	Reset()
	Warmup(bars []bar.Bar)
	Update(b bar.Bar)
	Data() Data
}

// New constructs the indicator implementation for cfg.Name. It is the sole
// factory: the compile-time closed set plus a small table keyed on Name.
func New(cfg Config) (Indicator, error) {
	if cfg.Category == "" {
		cfg.Category = categoryByKind[cfg.Name]
	}
	switch cfg.Name {
	case KindSMA:
		return newSMA(cfg), nil
	case KindEMA:
		return newEMA(cfg), nil
	case KindRSI:
		return newRSI(cfg), nil
	case KindMACD:
		return newMACD(cfg), nil
	case KindBollinger:
		return newBollinger(cfg), nil
	case KindATR:
		return newATR(cfg), nil
	case KindVWAP:
		return newVWAP(cfg), nil
	case KindADX:
		return newADX(cfg), nil
	case KindRollingHL:
		return newRollingHL(cfg), nil
	default:
		return nil, fmt.Errorf("indicator: unknown kind %q", cfg.Name)
	}
}
