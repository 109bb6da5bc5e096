package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/processor"
	"github.com/aristath/marketsession/internal/requirement"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/google/uuid"
)

// Provisioning step names. Interval and indicator steps carry their target
// as a suffix, e.g. "add_interval_5m", "register_indicator_rsi_14_5m".
const (
	stepCreateSymbol      = "create_symbol"
	stepUpgradeSymbol     = "upgrade_symbol"
	stepAddInterval       = "add_interval_"
	stepRegisterIndicator = "register_indicator_"
	stepLoadHistorical    = "load_historical"
	stepCalculateQuality  = "calculate_quality"
)

// SymbolResult is one entry of the batch-initialization report: which symbol,
// whether provisioning succeeded, and the failure reason when it did not.
type SymbolResult struct {
	Symbol string
	OK     bool
	Reason string
}

// NormalizeSymbol canonicalizes a ticker on entry: trimmed, upper-cased.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AddSymbol provisions a new symbol (or upgrades an adhoc one) through the
// three-phase pipeline. It returns a success flag and, on failure, a
// human-readable reason; it never panics across the API boundary.
func (c *Coordinator) AddSymbol(ctx context.Context, symbol string, addedBy sessiondata.AddedBy) (bool, string) {
	return c.runPipeline(ctx, request{
		kind:      requestAddSymbol,
		symbol:    NormalizeSymbol(symbol),
		addedBy:   addedBy,
		intervals: c.cfg.SessionDataConfig.Streams,
	})
}

// AddAdhocSymbol provisions a symbol with only the intervals a scanner asked
// for, leaving it below the full session-config bar (an adhoc entry a later
// AddSymbol call can upgrade).
func (c *Coordinator) AddAdhocSymbol(ctx context.Context, symbol string, intervals []bar.Interval) (bool, string) {
	if len(intervals) == 0 {
		intervals = []bar.Interval{c.baseInterval}
	}
	return c.runPipeline(ctx, request{
		kind:      requestAddSymbol,
		symbol:    NormalizeSymbol(symbol),
		addedBy:   sessiondata.AddedByScanner,
		intervals: intervals,
	})
}

// AddInterval attaches one more interval to an existing symbol.
func (c *Coordinator) AddInterval(ctx context.Context, symbol string, iv bar.Interval) (bool, string) {
	return c.runPipeline(ctx, request{
		kind:      requestAddInterval,
		symbol:    NormalizeSymbol(symbol),
		addedBy:   sessiondata.AddedByStrategy,
		intervals: []bar.Interval{iv},
	})
}

// AddIndicator registers an indicator on an existing symbol, provisioning
// its required intervals first when they are missing.
func (c *Coordinator) AddIndicator(ctx context.Context, symbol string, cfg indicator.Config) (bool, string) {
	return c.runPipeline(ctx, request{
		kind:         requestAddIndicator,
		symbol:       NormalizeSymbol(symbol),
		addedBy:      sessiondata.AddedByStrategy,
		indicatorCfg: cfg,
	})
}

// runPipeline is the unified analyze -> validate -> provision sequence every
// public add-operation converges on. The symbol-operations mutex serializes
// whole pipelines, so concurrent adds from scanners and strategies never
// interleave phases.
func (c *Coordinator) runPipeline(ctx context.Context, req request) (bool, string) {
	c.symbolOpsMu.Lock()
	defer c.symbolOpsMu.Unlock()

	if req.symbol == "" {
		return false, "empty symbol"
	}

	reqID := uuid.NewString()
	log := c.log.With().Str("request", reqID).Str("symbol", req.symbol).Logger()

	reqs := c.analyze(req)

	result := c.validate(ctx, req, reqs)
	if !result.CanProceed {
		log.Warn().Str("reason", result.Reason).Msg("provisioning request rejected")
		return false, result.Reason
	}
	if result.PartialHistorical {
		log.Warn().Msg("partial historical coverage, proceeding")
	}

	midSession := reqs.NeedsSession
	if midSession {
		// Mid-session add: block the driver and external readers while the
		// new state is built, then catch the symbol up before reopening.
		c.streamPaused.Reset()
		c.data.DeactivateSession()
		defer func() {
			c.data.ActivateSession()
			c.streamPaused.SignalReady()
		}()
	}

	if err := c.provision(ctx, req, reqs); err != nil {
		// No rollback: completed steps stay, the store's idempotent
		// registration makes retry safe.
		log.Warn().Err(err).Msg("provisioning stopped at failing step")
		return false, err.Error()
	}

	if midSession && reqs.IsNewSymbol && c.cfg.Mode == config.ModeBacktest {
		c.catchUp(ctx, req.symbol)
	}

	log.Info().Strs("steps", reqs.Steps).Msg("provisioning complete")
	return true, ""
}

// analyze is Phase 1: classify the request against the current store state
// and produce the full Requirements record, including the ordered step list
// Phase 3 executes.
func (c *Coordinator) analyze(req request) Requirements {
	existing, exists := c.data.GetSymbolData(req.symbol, true)

	meetsConfig := req.kind == requestAddSymbol && req.addedBy != sessiondata.AddedByScanner
	isUpgrade := exists && meetsConfig && !existing.Meta().MeetsSessionConfigRequirements

	reqs := Requirements{
		BaseInterval:                   c.baseInterval,
		NeedsSession:                   c.data.IsActive(),
		SourceTag:                      req.addedBy,
		AddedBy:                        req.addedBy,
		MeetsSessionConfigRequirements: meetsConfig,
		AutoProvisioned:                req.addedBy == sessiondata.AddedByScanner,
		IsNewSymbol:                    !exists,
		IsUpgrade:                      isUpgrade,
	}

	// Required intervals: always the base, plus whatever the request names.
	seen := map[string]bool{c.baseInterval.String(): true}
	reqs.RequiredIntervals = []bar.Interval{c.baseInterval}
	add := func(iv bar.Interval) {
		if !seen[iv.String()] {
			seen[iv.String()] = true
			reqs.RequiredIntervals = append(reqs.RequiredIntervals, iv)
		}
	}
	for _, iv := range req.intervals {
		add(iv)
	}
	if req.kind == requestAddSymbol && meetsConfig {
		for _, iv := range c.cfg.SessionDataConfig.DerivedIntervals {
			add(iv)
		}
	}
	if req.kind == requestAddIndicator {
		cfg := req.indicatorCfg
		reqs.IndicatorConfig = &cfg
		for _, iv := range requirement.AnalyzeIndicator(cfg, c.baseInterval).Intervals {
			add(iv)
		}
	}

	// Historical span: the request's explicit span, the config's widest
	// trailing window for a full symbol, or a calendar back-walk sized to
	// the indicator's warm-up.
	reqs.HistoricalDays = req.historyDays
	if reqs.HistoricalDays == 0 && meetsConfig {
		for _, w := range c.cfg.SessionDataConfig.Historical {
			if w.TrailingDays > reqs.HistoricalDays {
				reqs.HistoricalDays = w.TrailingDays
			}
		}
	}
	if reqs.HistoricalDays == 0 && req.kind == requestAddIndicator {
		warmup := req.indicatorCfg.WarmupBars()
		reqs.HistoricalDays = requirement.BackwalkDays(c.cal, c.sessionDate(), req.indicatorCfg.Interval, warmup)
	}

	// Ordered step list.
	if !exists {
		reqs.Steps = append(reqs.Steps, stepCreateSymbol)
	} else if isUpgrade {
		reqs.Steps = append(reqs.Steps, stepUpgradeSymbol)
	}
	for _, iv := range reqs.RequiredIntervals {
		if exists {
			if _, has := existing.Interval(iv.String()); has {
				continue
			}
		}
		reqs.Steps = append(reqs.Steps, stepAddInterval+iv.String())
	}
	if reqs.IndicatorConfig != nil {
		reqs.Steps = append(reqs.Steps, stepRegisterIndicator+reqs.IndicatorConfig.Key())
	}
	if reqs.HistoricalDays > 0 {
		reqs.Steps = append(reqs.Steps, stepLoadHistorical)
	}
	if c.cfg.SessionDataConfig.EnableQuality {
		reqs.Steps = append(reqs.Steps, stepCalculateQuality)
	}
	return reqs
}

// validate is Phase 2: data-source availability, historical coverage,
// derivability, and duplicate detection. The first hard failure wins.
func (c *Coordinator) validate(ctx context.Context, req request, reqs Requirements) ValidationResult {
	result := ValidationResult{CanProceed: true, FeedKnowsSymbol: true, HasHistoricalData: true, IntervalsDerivable: true}

	for _, iv := range reqs.RequiredIntervals {
		if !iv.DerivesFrom(c.baseInterval) {
			result.CanProceed = false
			result.IntervalsDerivable = false
			result.BaseIntervalMismatch = true
			result.Reason = fmt.Sprintf("interval %s is not derivable from session base %s", iv, c.baseInterval)
			return result
		}
	}

	if reqs.IndicatorConfig != nil && c.indicators.Has(req.symbol, reqs.IndicatorConfig.Key()) {
		result.CanProceed = false
		result.DuplicateIndicator = true
		result.Reason = fmt.Sprintf("indicator %s already registered on %s", reqs.IndicatorConfig.Key(), req.symbol)
		return result
	}

	if reqs.IsNewSymbol || reqs.IsUpgrade {
		if c.feedAdapter != nil && !c.feedAdapter.KnowsSymbol(req.symbol) {
			result.CanProceed = false
			result.FeedKnowsSymbol = false
			result.Reason = fmt.Sprintf("data source does not recognize symbol %s", req.symbol)
			return result
		}
	}

	if reqs.HistoricalDays > 0 && c.barStore != nil {
		start, end := c.historicalWindow(reqs.HistoricalDays)
		has, err := c.barStore.HasData(ctx, req.symbol, c.baseInterval, start, end)
		if err != nil {
			result.CanProceed = false
			result.HasHistoricalData = false
			result.Reason = fmt.Sprintf("historical store error: %v", err)
			return result
		}
		if !has {
			result.CanProceed = false
			result.HasHistoricalData = false
			result.Reason = fmt.Sprintf("no historical data for %s in the requested %d-day window", req.symbol, reqs.HistoricalDays)
			return result
		}
		// Fewer days on file than requested proceeds with a warning.
		min, _, ok, err := c.barStore.DateRange(ctx, req.symbol, c.baseInterval)
		if err == nil && ok && min.After(start) {
			result.PartialHistorical = true
		}
	}
	return result
}

// provision is Phase 3: execute the ordered steps, stopping at the first
// failure. Completed steps are not rolled back.
func (c *Coordinator) provision(ctx context.Context, req request, reqs Requirements) error {
	for _, step := range reqs.Steps {
		if err := c.executeStep(ctx, req, reqs, step); err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
	}
	return nil
}

func (c *Coordinator) executeStep(ctx context.Context, req request, reqs Requirements, step string) error {
	switch {
	case step == stepCreateSymbol:
		c.data.RegisterSymbol(req.symbol, c.baseInterval, sessiondata.Metadata{
			MeetsSessionConfigRequirements: reqs.MeetsSessionConfigRequirements,
			AddedBy:                        reqs.AddedBy,
			AutoProvisioned:                reqs.AutoProvisioned,
			AddedAt:                        c.clock.Now(),
		})
		return nil

	case step == stepUpgradeSymbol:
		sd, ok := c.data.GetSymbolData(req.symbol, true)
		if !ok {
			return fmt.Errorf("symbol %s vanished before upgrade", req.symbol)
		}
		sd.MarkUpgraded()
		return nil

	case strings.HasPrefix(step, stepAddInterval):
		tag := strings.TrimPrefix(step, stepAddInterval)
		iv, err := bar.ParseInterval(tag)
		if err != nil {
			return err
		}
		sd, ok := c.data.GetSymbolData(req.symbol, true)
		if !ok {
			return fmt.Errorf("symbol %s not registered", req.symbol)
		}
		if iv == c.baseInterval {
			sd.AddInterval(iv, nil)
		} else {
			base := c.baseInterval
			sd.AddInterval(iv, &base)
			c.proc.AttachDerived(req.symbol, processor.DerivedSpec{Symbol: req.symbol, Target: iv, Base: base})
		}
		return nil

	case strings.HasPrefix(step, stepRegisterIndicator):
		if reqs.IndicatorConfig == nil {
			return fmt.Errorf("no indicator config on request")
		}
		cfg := *reqs.IndicatorConfig
		historical := c.data.GetLastNBars(req.symbol, cfg.Interval, cfg.WarmupBars()*requirement.HistoryBufferMultiplier, true)
		data, err := c.indicators.Register(req.symbol, cfg, historical)
		if err != nil {
			return err
		}
		return c.data.SetIndicator(req.symbol, cfg.Key(), data)

	case step == stepLoadHistorical:
		return c.loadHistorical(ctx, req.symbol, reqs.HistoricalDays)

	case step == stepCalculateQuality:
		return c.calculateQuality(req.symbol, reqs.HistoricalDays)

	default:
		return fmt.Errorf("unknown provisioning step %q", step)
	}
}

// loadHistorical requests the trailing-day window from the bar store and
// bulk-appends it to the base interval, driving derivation through the
// processor in the same order. If the prefetch worker already populated the
// symbol, the load is skipped.
func (c *Coordinator) loadHistorical(ctx context.Context, symbol string, days int) error {
	if c.barStore == nil {
		return nil
	}
	if c.data.GetBarCount(symbol, c.baseInterval, true) > 0 {
		c.log.Debug().Str("symbol", symbol).Msg("historical data already present, skipping load")
		return nil
	}
	start, end := c.historicalWindow(days)
	bars, err := c.barStore.GetBars(ctx, symbol, c.baseInterval, start, end)
	if err != nil {
		return fmt.Errorf("load historical for %s: %w", symbol, err)
	}
	for _, b := range bars {
		if err := c.data.AppendBar(symbol, c.baseInterval, b); err != nil {
			if isDuplicateTimestamp(err) {
				continue
			}
			return err
		}
		c.proc.ProcessBar(processor.BarAppended{Symbol: symbol, Interval: c.baseInterval, Bar: b}, nil, nil, 0)
	}
	c.log.Info().Str("symbol", symbol).Int("bars", len(bars)).Int("days", days).Msg("historical load complete")
	return nil
}

// calculateQuality evaluates the loaded history and writes the scalar score
// onto the symbol. Detected gaps are recorded on the base interval and, when
// a gap filler is configured, handed to it for bounded-retry repair.
func (c *Coordinator) calculateQuality(symbol string, days int) error {
	sd, ok := c.data.GetSymbolData(symbol, true)
	if !ok {
		return fmt.Errorf("symbol %s not registered", symbol)
	}
	ivd, ok := sd.Interval(c.baseInterval.String())
	if !ok {
		return fmt.Errorf("base interval missing on %s", symbol)
	}
	start, end := c.historicalWindow(days)
	if days <= 0 {
		start, end = c.sessionDate(), c.sessionDate()
	}
	m := c.quality.Evaluate(ivd.Bars, ivd.Duplicates(), start, end, c.baseInterval)
	if m.Valid {
		sd.SetQuality(m.Score)
	} else {
		c.log.Debug().Str("symbol", symbol).Msg("no trading time in quality window, score unchanged")
	}

	// Intraday gap detection only once the symbol has streamed at least one
	// bar of the session day; a freshly provisioned symbol that has not yet
	// caught up is not "gapped", it is simply behind.
	date := c.sessionDate()
	if open, hasOpen := c.cal.RegularOpen(date); hasOpen {
		if latest, hasBar := ivd.Latest(); hasBar && !latest.Timestamp.Before(open) {
			gaps := c.quality.DetectGaps(ivd.Bars, date, c.clock.Now(), c.baseInterval)
			for _, g := range gaps {
				ivd.RecordGap(g)
			}
			if len(gaps) > 0 {
				c.log.Warn().Str("symbol", symbol).Int("gaps", len(gaps)).Float64("quality", m.Score).Msg("gaps detected")
				c.scheduleGapFill(symbol)
			}
		}
	}
	return nil
}

// historicalWindow converts a trailing-day span into [start, end] instants
// covering the `days` trading days before the session date, walking real
// trading days via the calendar.
func (c *Coordinator) historicalWindow(days int) (time.Time, time.Time) {
	sessionMidnight := c.sessionDate()
	start := sessionMidnight
	found := 0
	for cursor := sessionMidnight; found < days; {
		cursor = cursor.AddDate(0, 0, -1)
		if cursor.Before(sessionMidnight.AddDate(-2, 0, 0)) {
			break
		}
		if c.cal.IsTradingDay(cursor) {
			found++
			start = cursor
		}
	}
	return start, sessionMidnight.Add(-time.Nanosecond)
}

func (c *Coordinator) sessionDate() time.Time {
	if d := c.data.SessionDate(); !d.IsZero() {
		return d
	}
	now := c.clock.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// catchUp drains the new symbol's bars for the current session day, from
// open up to the virtual now, through the normal append+derive path. Runs
// with the stream paused and the session deactivated, so external readers
// never observe the half-caught-up symbol.
func (c *Coordinator) catchUp(ctx context.Context, symbol string) {
	if c.barStore == nil {
		return
	}
	date := c.sessionDate()
	open, ok := c.cal.RegularOpen(date)
	if !ok {
		return
	}
	now := c.clock.Now()
	bars, err := c.barStore.GetBars(ctx, symbol, c.baseInterval, open, now)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("catch-up load failed")
		return
	}
	caught := 0
	for _, b := range bars {
		if b.Timestamp.After(now) {
			break
		}
		if err := c.data.AppendBar(symbol, c.baseInterval, b); err != nil {
			if isDuplicateTimestamp(err) {
				continue
			}
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("catch-up append failed")
			return
		}
		c.proc.ProcessBar(processor.BarAppended{Symbol: symbol, Interval: c.baseInterval, Bar: b}, nil, nil, 0)
		caught++
	}
	c.log.Info().Str("symbol", symbol).Int("bars", caught).Time("through", now).Msg("mid-session catch-up complete")
}

// StartSession provisions every configured symbol through the pipeline,
// activates the session, and reports per-symbol results. The session aborts
// (with an error) only when no symbol loads.
func (c *Coordinator) StartSession(ctx context.Context) ([]SymbolResult, int, error) {
	if c.data.SessionDate().IsZero() {
		if c.cfg.Mode == config.ModeBacktest && c.cfg.Backtest != nil {
			c.data.SetSessionDate(c.cfg.Backtest.StartDate)
		} else {
			c.data.SetSessionDate(c.sessionDate())
		}
	}

	results := make([]SymbolResult, 0, len(c.cfg.SessionDataConfig.Symbols))
	succeeded := 0
	for _, sym := range c.cfg.SessionDataConfig.Symbols {
		ok, reason := c.AddSymbol(ctx, sym, sessiondata.AddedByConfig)
		results = append(results, SymbolResult{Symbol: NormalizeSymbol(sym), OK: ok, Reason: reason})
		if ok {
			succeeded++
		}
	}
	if succeeded == 0 {
		return results, 0, fmt.Errorf("coordinator: no symbols loaded, session aborted")
	}

	// Session-config indicators attach to every successfully loaded symbol.
	for name, spec := range c.cfg.SessionDataConfig.Indicators {
		cfg := indicator.Config{
			Name:     indicator.Kind(spec.Name),
			Period:   spec.Period,
			Interval: spec.Interval,
			Category: indicator.Category(spec.Type),
			Params:   spec.Params,
		}
		if cfg.Name == "" {
			cfg.Name = indicator.Kind(name)
		}
		for _, r := range results {
			if !r.OK {
				continue
			}
			if ok, reason := c.AddIndicator(ctx, r.Symbol, cfg); !ok {
				c.log.Warn().Str("symbol", r.Symbol).Str("indicator", cfg.Key()).Str("reason", reason).Msg("config indicator skipped")
			}
		}
	}

	c.data.ActivateSession()
	c.log.Info().Int("symbols", succeeded).Int("failed", len(results)-succeeded).Msg("session started")
	return results, succeeded, nil
}

// StopSession deactivates external reads and tears the session down.
func (c *Coordinator) StopSession() {
	c.data.DeactivateSession()
	c.TeardownSession()
	c.log.Info().Msg("session stopped")
}
