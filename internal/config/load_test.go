package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSession = `{
  "session_name": "momentum-day",
  "mode": "backtest",
  "exchange_group": "NASDAQ",
  "asset_class": "equity",
  "backtest_config": {
    "start_date": "2025-01-02",
    "end_date": "2025-01-03",
    "speed_multiplier": 60,
    "prefetch_days": 5
  },
  "session_data_config": {
    "symbols": ["RIVN", "AAPL"],
    "streams": ["1m", "5m"],
    "derived_intervals": ["15m"],
    "historical": {
      "enable_quality": true,
      "data": [{"trailing_days": 5, "intervals": ["1m"]}],
      "indicators": {
        "rsi": {"type": "momentum", "period": 14, "interval": "5m"},
        "macd": {"type": "momentum", "period": 12, "interval": "5m", "params": {"slow_period": 26}}
      }
    },
    "gap_filler": {"max_retries": 3, "retry_interval_seconds": 10, "enable_session_quality": true},
    "streaming": {"catchup_threshold_seconds": 60, "catchup_check_interval": 10},
    "scanners": [
      {"module": "top_volume", "enabled": true, "pre_session": true,
       "regular_session": ["10:30", "14:00"],
       "config": {"universe": ["TSLA", "NVDA"], "top_n": 2}}
    ]
  },
  "trading_config": {"max_buying_power": 25000, "max_per_trade": 5000, "max_per_symbol": 10000, "max_open_positions": 4},
  "api_config": {"data_api": "alpaca", "trade_api": "alpaca"}
}`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSessionFile_FullDocument(t *testing.T) {
	s, err := LoadSessionFile(writeSample(t, sampleSession))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "momentum-day", s.SessionName)
	assert.Equal(t, ModeBacktest, s.Mode)
	require.NotNil(t, s.Backtest)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), s.Backtest.StartDate)
	assert.Equal(t, 5, s.Backtest.PrefetchDays)

	sdc := s.SessionDataConfig
	assert.Equal(t, []string{"RIVN", "AAPL"}, sdc.Symbols)
	assert.Equal(t, []bar.Interval{bar.MustParseInterval("1m"), bar.MustParseInterval("5m")}, sdc.Streams)
	assert.True(t, sdc.EnableQuality)
	require.Len(t, sdc.Historical, 1)
	assert.Equal(t, 5, sdc.Historical[0].TrailingDays)

	rsi := sdc.Indicators["rsi"]
	assert.Equal(t, "rsi", rsi.Name)
	assert.Equal(t, 14, rsi.Period)
	assert.Equal(t, bar.MustParseInterval("5m"), rsi.Interval)
	assert.Equal(t, 26.0, sdc.Indicators["macd"].Params["slow_period"])

	require.Len(t, sdc.Scanners, 1)
	assert.Equal(t, "top_volume", sdc.Scanners[0].Module)
	assert.Equal(t, []string{"10:30", "14:00"}, sdc.Scanners[0].RegularSession)

	assert.Equal(t, 25000.0, s.Trading.MaxBuyingPower)
	assert.Equal(t, "alpaca", s.API.DataAPI)
}

func TestLoadSessionFile_RejectsHourlyStream(t *testing.T) {
	doc := `{
  "session_name": "x", "mode": "live",
  "session_data_config": {"symbols": ["A"], "streams": ["1h"]},
  "trading_config": {"max_buying_power": 1},
  "api_config": {"data_api": "d", "trade_api": "t"}
}`
	_, err := LoadSessionFile(writeSample(t, doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hourly")
}

func TestLoadSessionFile_MissingSessionDataConfig(t *testing.T) {
	doc := `{"session_name": "x", "mode": "live"}`
	_, err := LoadSessionFile(writeSample(t, doc))
	assert.Error(t, err)
}

func TestLoadSessionFile_BadDate(t *testing.T) {
	doc := `{
  "session_name": "x", "mode": "backtest",
  "backtest_config": {"start_date": "January 2nd", "end_date": "2025-01-03"},
  "session_data_config": {"symbols": ["A"], "streams": ["1m"]},
  "trading_config": {"max_buying_power": 1},
  "api_config": {"data_api": "d", "trade_api": "t"}
}`
	_, err := LoadSessionFile(writeSample(t, doc))
	assert.Error(t, err)
}
