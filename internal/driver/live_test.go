package driver

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/execution"
	"github.com/aristath/marketsession/internal/feed"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/notify"
	"github.com/aristath/marketsession/internal/processor"
	"github.com/aristath/marketsession/internal/quality"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLiveDriver_ForwardsFeedEvents(t *testing.T) {
	cfg := config.Session{
		SessionName:   "live",
		Mode:          config.ModeLive,
		ExchangeGroup: "NASDAQ",
		SessionDataConfig: config.SessionDataConfig{
			Symbols:   []string{"SYMX"},
			Streams:   []bar.Interval{bar.MustParseInterval("1m")},
			Streaming: config.StreamingConfig{CatchupThresholdSeconds: 60, CatchupCheckInterval: 10},
		},
		Trading: config.TradingConfig{MaxBuyingPower: 25000},
		API:     config.APIConfig{DataAPI: "fake", TradeAPI: "fake"},
	}

	cal := testCalendar(t)
	data := sessiondata.New()
	indicators := indicator.NewManager()
	proc := processor.New(data, indicators, notify.New(64), zerolog.Nop())
	fa := feed.NewFakeAdapter(16)
	fa.Seed("SYMX")

	coord, err := coordinator.New(cfg, coordinator.Dependencies{
		Data:        data,
		Calendar:    cal,
		Quality:     quality.New(cal),
		Indicators:  indicators,
		Processor:   proc,
		BarStore:    store.NewFakeStore(),
		FeedAdapter: fa,
		ExecAdapter: execution.NewFakeAdapter(),
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)

	data.RegisterSymbol("SYMX", coord.BaseInterval(), sessiondata.Metadata{AddedBy: sessiondata.AddedByConfig})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	drv := NewLive(coord, fa, cfg.SessionDataConfig.Symbols, zerolog.Nop())
	go func() { _ = drv.Run(ctx) }()

	now := time.Now().Truncate(time.Minute)
	for i := 0; i < 3; i++ {
		fa.Emit(feed.Event{Symbol: "symx", Bar: bar.Bar{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      10, High: 11, Low: 9, Close: 10.5, Volume: 100,
		}})
	}

	require.Eventually(t, func() bool {
		return data.GetBarCount("SYMX", coord.BaseInterval(), true) == 3
	}, 5*time.Second, 10*time.Millisecond)
}
