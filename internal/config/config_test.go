package config

import (
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/stretchr/testify/assert"
)

func validSession() Session {
	return Session{
		SessionName: "test-session",
		Mode:        ModeBacktest,
		Backtest: &BacktestConfig{
			StartDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		},
		SessionDataConfig: SessionDataConfig{
			Symbols: []string{"AAPL"},
			Streams: []bar.Interval{bar.MustParseInterval("1m"), bar.MustParseInterval("5m")},
		},
		Trading: TradingConfig{MaxBuyingPower: 1000},
		API:     APIConfig{DataAPI: "fake", TradeAPI: "fake"},
	}
}

func TestSession_Validate_OK(t *testing.T) {
	assert.NoError(t, validSession().Validate())
}

func TestSession_Validate_MissingFields(t *testing.T) {
	cases := map[string]func(*Session){
		"session_name": func(s *Session) { s.SessionName = "" },
		"mode":         func(s *Session) { s.Mode = "" },
		"symbols":      func(s *Session) { s.SessionDataConfig.Symbols = nil },
		"streams":      func(s *Session) { s.SessionDataConfig.Streams = nil },
		"trading":      func(s *Session) { s.Trading = TradingConfig{} },
		"api":          func(s *Session) { s.API = APIConfig{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := validSession()
			mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestSession_Validate_BacktestRequiresBacktestConfig(t *testing.T) {
	s := validSession()
	s.Backtest = nil
	assert.Error(t, s.Validate())
}

func TestSession_Validate_NonDerivableDerivedInterval(t *testing.T) {
	s := validSession()
	s.SessionDataConfig.Streams = []bar.Interval{bar.MustParseInterval("5m")}
	s.SessionDataConfig.DerivedIntervals = []bar.Interval{bar.MustParseInterval("30s")}
	assert.Error(t, s.Validate())
}
