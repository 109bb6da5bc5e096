package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// sessionFile is the on-disk JSON shape of a session document. Interval tags
// and dates stay strings here and are parsed into typed fields on load, so a
// malformed tag is rejected at load time rather than deep inside a session.
type sessionFile struct {
	SessionName   string `json:"session_name"`
	Mode          string `json:"mode"`
	ExchangeGroup string `json:"exchange_group"`
	AssetClass    string `json:"asset_class"`

	BacktestConfig *struct {
		StartDate       string  `json:"start_date"`
		EndDate         string  `json:"end_date"`
		SpeedMultiplier float64 `json:"speed_multiplier"`
		PrefetchDays    int     `json:"prefetch_days"`
	} `json:"backtest_config"`

	SessionDataConfig *struct {
		Symbols          []string `json:"symbols"`
		Streams          []string `json:"streams"`
		DerivedIntervals []string `json:"derived_intervals"`
		Historical       struct {
			EnableQuality bool `json:"enable_quality"`
			Data          []struct {
				TrailingDays int      `json:"trailing_days"`
				Intervals    []string `json:"intervals"`
			} `json:"data"`
			Indicators map[string]struct {
				Type     string             `json:"type"`
				Period   int                `json:"period"`
				Interval string             `json:"interval"`
				Params   map[string]float64 `json:"params"`
			} `json:"indicators"`
		} `json:"historical"`
		GapFiller struct {
			MaxRetries           int  `json:"max_retries"`
			RetryIntervalSeconds int  `json:"retry_interval_seconds"`
			EnableSessionQuality bool `json:"enable_session_quality"`
		} `json:"gap_filler"`
		Streaming struct {
			CatchupThresholdSeconds int `json:"catchup_threshold_seconds"`
			CatchupCheckInterval    int `json:"catchup_check_interval"`
		} `json:"streaming"`
		Scanners []struct {
			Module         string         `json:"module"`
			Enabled        bool           `json:"enabled"`
			PreSession     bool           `json:"pre_session"`
			RegularSession []string       `json:"regular_session"`
			Config         map[string]any `json:"config"`
		} `json:"scanners"`
	} `json:"session_data_config"`

	TradingConfig *struct {
		MaxBuyingPower   float64 `json:"max_buying_power"`
		MaxPerTrade      float64 `json:"max_per_trade"`
		MaxPerSymbol     float64 `json:"max_per_symbol"`
		MaxOpenPositions int     `json:"max_open_positions"`
	} `json:"trading_config"`

	APIConfig *struct {
		DataAPI  string `json:"data_api"`
		TradeAPI string `json:"trade_api"`
	} `json:"api_config"`
}

// LoadSession reads the session document named by SESSIOND_SESSION_CONFIG
// (default ./session.json) and parses it into a typed Session. Validation is
// the caller's next step; LoadSession only rejects what cannot even be
// represented (unparseable JSON, bad interval tags, bad dates).
func LoadSession() (Session, error) {
	path := getEnv("SESSIOND_SESSION_CONFIG", "./session.json")
	return LoadSessionFile(path)
}

// LoadSessionFile parses one session document from path.
func LoadSessionFile(path string) (Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f sessionFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Session{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f.toSession()
}

func (f sessionFile) toSession() (Session, error) {
	s := Session{
		SessionName:   f.SessionName,
		Mode:          Mode(f.Mode),
		ExchangeGroup: f.ExchangeGroup,
		AssetClass:    f.AssetClass,
	}

	if f.BacktestConfig != nil {
		start, err := time.Parse("2006-01-02", f.BacktestConfig.StartDate)
		if err != nil {
			return Session{}, fmt.Errorf("config: backtest start_date: %w", err)
		}
		end, err := time.Parse("2006-01-02", f.BacktestConfig.EndDate)
		if err != nil {
			return Session{}, fmt.Errorf("config: backtest end_date: %w", err)
		}
		s.Backtest = &BacktestConfig{
			StartDate:       start,
			EndDate:         end,
			SpeedMultiplier: f.BacktestConfig.SpeedMultiplier,
			PrefetchDays:    f.BacktestConfig.PrefetchDays,
		}
	}

	if f.SessionDataConfig == nil {
		return Session{}, fmt.Errorf("config: session_data_config is required")
	}
	sdc := f.SessionDataConfig

	streams, err := parseIntervals(sdc.Streams)
	if err != nil {
		return Session{}, fmt.Errorf("config: streams: %w", err)
	}
	derived, err := parseIntervals(sdc.DerivedIntervals)
	if err != nil {
		return Session{}, fmt.Errorf("config: derived_intervals: %w", err)
	}

	out := SessionDataConfig{
		Symbols:          sdc.Symbols,
		Streams:          streams,
		DerivedIntervals: derived,
		EnableQuality:    sdc.Historical.EnableQuality,
		GapFiller: GapFillerConfig{
			MaxRetries:           sdc.GapFiller.MaxRetries,
			RetryIntervalSeconds: sdc.GapFiller.RetryIntervalSeconds,
			EnableSessionQuality: sdc.GapFiller.EnableSessionQuality,
		},
		Streaming: StreamingConfig{
			CatchupThresholdSeconds: sdc.Streaming.CatchupThresholdSeconds,
			CatchupCheckInterval:    sdc.Streaming.CatchupCheckInterval,
		},
	}
	for _, w := range sdc.Historical.Data {
		ivs, err := parseIntervals(w.Intervals)
		if err != nil {
			return Session{}, fmt.Errorf("config: historical.data: %w", err)
		}
		out.Historical = append(out.Historical, HistoricalWindow{TrailingDays: w.TrailingDays, Intervals: ivs})
	}
	if len(sdc.Historical.Indicators) > 0 {
		out.Indicators = make(map[string]IndicatorSpec, len(sdc.Historical.Indicators))
		for name, spec := range sdc.Historical.Indicators {
			iv, err := bar.ParseInterval(spec.Interval)
			if err != nil {
				return Session{}, fmt.Errorf("config: indicator %s: %w", name, err)
			}
			out.Indicators[name] = IndicatorSpec{
				Name:     name,
				Type:     spec.Type,
				Period:   spec.Period,
				Interval: iv,
				Params:   spec.Params,
			}
		}
	}
	for _, sc := range sdc.Scanners {
		out.Scanners = append(out.Scanners, ScannerSpec{
			Module:         sc.Module,
			Enabled:        sc.Enabled,
			PreSession:     sc.PreSession,
			RegularSession: sc.RegularSession,
			Config:         sc.Config,
		})
	}
	s.SessionDataConfig = out

	if f.TradingConfig != nil {
		s.Trading = TradingConfig{
			MaxBuyingPower:   f.TradingConfig.MaxBuyingPower,
			MaxPerTrade:      f.TradingConfig.MaxPerTrade,
			MaxPerSymbol:     f.TradingConfig.MaxPerSymbol,
			MaxOpenPositions: f.TradingConfig.MaxOpenPositions,
		}
	}
	if f.APIConfig != nil {
		s.API = APIConfig{DataAPI: f.APIConfig.DataAPI, TradeAPI: f.APIConfig.TradeAPI}
	}
	return s, nil
}

func parseIntervals(tags []string) ([]bar.Interval, error) {
	out := make([]bar.Interval, 0, len(tags))
	for _, tag := range tags {
		iv, err := bar.ParseInterval(tag)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
