// Package config loads and validates the per-session configuration: mode,
// exchange group, backtest/live parameters, the session data config
// (symbols, streams, historical, indicators, gap filler, streaming,
// scanners), trading limits, and API endpoints. Process-level settings come
// from the environment (with .env support for local development); session
// documents are typed JSON validated at load time.
package config

import (
	"fmt"
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// Mode selects backtest or live operation.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// BacktestConfig parameterizes a historical replay session.
type BacktestConfig struct {
	StartDate       time.Time
	EndDate         time.Time
	SpeedMultiplier float64
	PrefetchDays    int
}

// HistoricalWindow is one entry of session_data_config.historical.data:
// a trailing-day span and the intervals it should be loaded for.
type HistoricalWindow struct {
	TrailingDays int
	Intervals    []bar.Interval
}

// IndicatorSpec is one entry of session_data_config.historical.indicators.
type IndicatorSpec struct {
	Name     string
	Type     string
	Period   int
	Interval bar.Interval
	Params   map[string]float64
}

// GapFillerConfig tunes the gap-fill retry loop.
type GapFillerConfig struct {
	MaxRetries            int
	RetryIntervalSeconds  int
	EnableSessionQuality  bool
}

// StreamingConfig tunes lag-based session control.
type StreamingConfig struct {
	CatchupThresholdSeconds int
	CatchupCheckInterval    int
}

// ScannerSpec is one entry of session_data_config.scanners.
type ScannerSpec struct {
	Module         string
	Enabled        bool
	PreSession     bool
	RegularSession []string // "HH:MM" wall-clock times
	Config         map[string]any
}

// SessionDataConfig is the bulk of per-session configuration: which symbols
// to track, at what streams, with what historical backfill and indicators.
type SessionDataConfig struct {
	Symbols           []string
	Streams           []bar.Interval
	DerivedIntervals  []bar.Interval
	EnableQuality     bool
	Historical        []HistoricalWindow
	Indicators        map[string]IndicatorSpec
	GapFiller         GapFillerConfig
	Streaming         StreamingConfig
	Scanners          []ScannerSpec
}

// TradingConfig carries position-sizing limits; the core never acts on
// these itself, but validates and surfaces them since load-time validation
// covers the whole document.
type TradingConfig struct {
	MaxBuyingPower   float64
	MaxPerTrade      float64
	MaxPerSymbol     float64
	MaxOpenPositions int
}

// APIConfig names the external data/trade API identifiers this session
// expects its adapters to be wired against.
type APIConfig struct {
	DataAPI  string
	TradeAPI string
}

// Session is the fully parsed, not-yet-validated session configuration.
type Session struct {
	SessionName       string
	Mode              Mode
	ExchangeGroup     string
	AssetClass        string
	Backtest          *BacktestConfig
	SessionDataConfig SessionDataConfig
	Trading           TradingConfig
	API               APIConfig
}

// Validate enforces the load-time checks: missing
// session_name/mode/session_data_config/trading_config/api_config rejects;
// mode=backtest requires backtest_config; symbols list non-empty; every
// stream tag parseable and non-hourly (already true by construction, since
// Streams is []bar.Interval); every stream derivable from the chosen base.
func (s Session) Validate() error {
	if s.SessionName == "" {
		return fmt.Errorf("config: session_name is required")
	}
	if s.Mode == "" {
		return fmt.Errorf("config: mode is required")
	}
	if s.Mode != ModeBacktest && s.Mode != ModeLive {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeBacktest, ModeLive, s.Mode)
	}
	if s.Mode == ModeBacktest && s.Backtest == nil {
		return fmt.Errorf("config: backtest_config is required when mode=backtest")
	}
	if len(s.SessionDataConfig.Symbols) == 0 {
		return fmt.Errorf("config: session_data_config.symbols must be non-empty")
	}
	if len(s.SessionDataConfig.Streams) == 0 {
		return fmt.Errorf("config: session_data_config.streams must be non-empty")
	}
	if (s.Trading == TradingConfig{}) {
		return fmt.Errorf("config: trading_config is required")
	}
	if s.API == (APIConfig{}) {
		return fmt.Errorf("config: api_config is required")
	}

	base, err := selectBaseForValidation(s.SessionDataConfig.Streams)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, iv := range s.SessionDataConfig.DerivedIntervals {
		if !iv.DerivesFrom(base) {
			return fmt.Errorf("config: derived interval %s is not derivable from base %s", iv, base)
		}
	}
	return nil
}

// selectBaseForValidation mirrors requirement.SelectBaseInterval without
// importing internal/requirement, to keep config dependency-free of the
// analyzer package (config is loaded before the analyzer is constructed).
func selectBaseForValidation(streams []bar.Interval) (bar.Interval, error) {
	candidates := []bar.Interval{
		{N: 1, Unit: bar.UnitSecond},
		{N: 1, Unit: bar.UnitMinute},
		{N: 1, Unit: bar.UnitDay},
		{N: 1, Unit: bar.UnitWeek},
	}
	for _, cand := range candidates {
		ok := true
		for _, s := range streams {
			if !s.DerivesFrom(cand) {
				ok = false
				break
			}
		}
		if ok {
			return cand, nil
		}
	}
	return bar.Interval{}, fmt.Errorf("no common base interval divides streams %v", streams)
}
