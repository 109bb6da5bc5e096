package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/driver"
	"github.com/aristath/marketsession/internal/execution"
	"github.com/aristath/marketsession/internal/feed"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/notify"
	"github.com/aristath/marketsession/internal/prefetch"
	"github.com/aristath/marketsession/internal/processor"
	"github.com/aristath/marketsession/internal/quality"
	"github.com/aristath/marketsession/internal/scanner"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
)

func main() {
	rt, err := config.LoadRuntime()
	if err != nil {
		panicLog(err, "failed to load runtime configuration")
	}

	level, err := zerolog.ParseLevel(rt.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	log.Info().Msg("Starting market session runtime")

	sessionCfg, err := config.LoadSession()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load session configuration")
	}
	if err := sessionCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Session configuration rejected")
	}

	db, err := sql.Open("sqlite", filepath.Join(rt.DataDir, "marketsession.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	barStore := store.NewSQLStore(db)
	if err := barStore.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate bar store")
	}

	cal, err := calendar.New(ctx, calendar.NewSQLStore(db), rt.ExchangeGroup, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load trading calendar")
	}

	data := sessiondata.New()
	indicators := indicator.NewManager()
	notifications := notify.New(1024)
	proc := processor.New(data, indicators, notifications, log)
	checker := quality.New(cal)

	var clock coordinator.Clock = coordinator.WallClock{}
	var vclock *driver.VirtualClock
	if sessionCfg.Mode == config.ModeBacktest {
		vclock = driver.NewVirtualClock(sessionCfg.Backtest.StartDate)
		clock = vclock
	}

	feedAdapter := feed.NewFakeAdapter(256)
	feedAdapter.Seed(sessionCfg.SessionDataConfig.Symbols...)
	execAdapter := execution.NewFakeAdapter()

	coord, err := coordinator.New(sessionCfg, coordinator.Dependencies{
		Data:        data,
		Calendar:    cal,
		Quality:     checker,
		Indicators:  indicators,
		Processor:   proc,
		BarStore:    barStore,
		FeedAdapter: feedAdapter,
		ExecAdapter: execAdapter,
		Clock:       clock,
		Log:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct coordinator")
	}

	scanners := scanner.NewManager(coord, data, execAdapter, log)
	scanners.RegisterFactory(scanner.ModuleTopVolume, scanner.NewTopVolumeFactory(barStore, cal, clock.Now))
	if err := scanners.Load(sessionCfg.SessionDataConfig.Scanners); err != nil {
		log.Fatal().Err(err).Msg("Failed to load scanners")
	}

	pre := prefetch.New(data, barStore, cal, sessionCfg, coord.BaseInterval(), clock, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		pre.Run(ctx)
	}()

	scanners.RunPreSession(ctx)

	if _, loaded, err := coord.StartSession(ctx); err != nil {
		log.Fatal().Err(err).Msg("Session failed to start")
	} else {
		log.Info().Int("symbols", loaded).Msg("Session started")
	}

	if err := scanners.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scanner schedule")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		switch sessionCfg.Mode {
		case config.ModeBacktest:
			var bt *driver.BacktestDriver
			bt, err = driver.NewBacktest(coord, data, barStore, cal, sessionCfg, vclock, log)
			if err == nil {
				err = bt.Run(ctx)
			}
		case config.ModeLive:
			err = driver.NewLive(coord, feedAdapter, sessionCfg.SessionDataConfig.Symbols, log).Run(ctx)
		}
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Driver stopped")
		}
		cancel()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("Shutting down...")
	case <-ctx.Done():
	}

	scanners.Stop(context.Background())
	coord.StopSession()
	coord.Shutdown()
	cancel()
	wg.Wait()
	notifications.Close()
	log.Info().Msg("Shutdown complete")
}

func panicLog(err error, msg string) {
	logger := zerolog.New(os.Stderr)
	logger.Fatal().Err(err).Msg(msg)
}
