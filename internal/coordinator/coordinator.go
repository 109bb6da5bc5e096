package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/calendar"
	"github.com/aristath/marketsession/internal/config"
	"github.com/aristath/marketsession/internal/execution"
	"github.com/aristath/marketsession/internal/feed"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/processor"
	"github.com/aristath/marketsession/internal/quality"
	"github.com/aristath/marketsession/internal/requirement"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/store"
	"github.com/aristath/marketsession/internal/subscription"
	"github.com/rs/zerolog"
)

// Coordinator owns the driver->coordinator->processor bar pipeline, the
// three-phase provisioning pipeline behind AddSymbol/AddInterval/AddIndicator,
// and the session boundary state machine.
type Coordinator struct {
	data       *sessiondata.SessionData
	cal        *calendar.Calendar
	quality    *quality.Checker
	indicators *indicator.Manager
	proc       *processor.Processor
	barStore   store.BarStore
	feedAdapter feed.Adapter
	execAdapter execution.Adapter
	cfg        config.Session
	clock      Clock
	log        zerolog.Logger

	// symbolOpsMu serializes whole three-phase pipelines, so concurrent
	// add requests from scanners and strategies never interleave phases.
	symbolOpsMu sync.Mutex

	baseInterval bar.Interval

	mode        subscription.Mode
	ackTimeout  time.Duration // processor<->analysis wait timeout in clock-driven/live mode

	driverQueue  chan BarInput
	procQueue    chan processor.BarAppended
	procAck      *subscription.Subscription // processor -> coordinator, per bar
	analysisSub  *subscription.Subscription // processor -> analysis layer
	analysisAck  *subscription.Subscription // analysis layer -> processor
	streamPaused *subscription.Subscription // gate: ready == resumed

	analysisMu       sync.Mutex
	analysisAttached bool

	boundary *boundaryMonitor

	lagMu       sync.Mutex
	lagCounters map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Dependencies bundles every external collaborator the coordinator needs,
// constructed once by the process entry point and passed by reference.
// There are no package-level singletons; tests build a Dependencies value
// directly.
type Dependencies struct {
	Data        *sessiondata.SessionData
	Calendar    *calendar.Calendar
	Quality     *quality.Checker
	Indicators  *indicator.Manager
	Processor   *processor.Processor
	BarStore    store.BarStore
	FeedAdapter feed.Adapter
	ExecAdapter execution.Adapter
	Clock       Clock
	Log         zerolog.Logger
}

// New constructs a Coordinator for one session configuration. It selects the
// session's base interval up front but does not start any
// workers; call Run to start the pipeline and StartSession to provision
// the configured symbols.
func New(cfg config.Session, deps Dependencies) (*Coordinator, error) {
	base, err := requirement.SelectBaseInterval(cfg.SessionDataConfig.Streams)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	mode := subscription.ClockDriven
	ackTimeout := 2 * time.Second
	if cfg.Mode == config.ModeBacktest {
		mode = subscription.DataDriven
		ackTimeout = 0
	}

	clock := deps.Clock
	if clock == nil {
		clock = WallClock{}
	}
	log := deps.Log.With().Str("component", "coordinator").Str("session", cfg.SessionName).Logger()

	c := &Coordinator{
		data:         deps.Data,
		cal:          deps.Calendar,
		quality:      deps.Quality,
		indicators:   deps.Indicators,
		proc:         deps.Processor,
		barStore:     deps.BarStore,
		feedAdapter:  deps.FeedAdapter,
		execAdapter:  deps.ExecAdapter,
		cfg:          cfg,
		clock:        clock,
		log:          log,
		baseInterval: base,
		mode:         mode,
		ackTimeout:   ackTimeout,
		driverQueue:  make(chan BarInput, 256),
		procQueue:    make(chan processor.BarAppended, 256),
		procAck:      subscription.New("coordinator-proc-ack", subscription.DataDriven),
		analysisSub:  subscription.New("proc-analysis", mode),
		analysisAck:  subscription.New("analysis-proc-ack", mode),
		streamPaused: subscription.New("stream-paused", subscription.DataDriven),
		lagCounters:  make(map[string]int),
		stopCh:       make(chan struct{}),
	}
	c.streamPaused.SignalReady() // starts resumed
	c.boundary = newBoundaryMonitor(c)
	return c, nil
}

// BaseInterval returns the session's selected base interval.
func (c *Coordinator) BaseInterval() bar.Interval { return c.baseInterval }

// Run starts the coordinator and processor worker goroutines plus the
// boundary monitor. It returns once every worker has stopped (after Shutdown
// or ctx cancellation).
func (c *Coordinator) Run(ctx context.Context) {
	c.wg.Add(3)
	go c.coordinatorLoop(ctx)
	go c.processorLoop(ctx)
	go c.boundary.run(ctx)
	c.wg.Wait()
}

// Shutdown sends the stop signal: every waiter unblocks
// within the next timeout window. In-flight provisioning is allowed to
// complete to its next step boundary.
func (c *Coordinator) Shutdown() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.procAck.Stop()
	c.analysisSub.Stop()
	c.analysisAck.Stop()
	c.streamPaused.Stop()
}

// AnalysisGate exposes the processor<->analysis signalling pair to an
// analysis/strategy worker. The consumer's cycle per bar: wait on notify,
// read SessionData, reset notify, signal ack. Attaching flips the processor
// into waiting for the ack each cycle. In data-driven mode this is what
// makes a backtest strategy unable to skip bars.
func (c *Coordinator) AnalysisGate() (notifySub, ackSub *subscription.Subscription) {
	c.analysisMu.Lock()
	c.analysisAttached = true
	c.analysisMu.Unlock()
	return c.analysisSub, c.analysisAck
}

// attachedAnalysisAck returns the ack subscription only once a consumer has
// attached; before that the processor continues without waiting.
func (c *Coordinator) attachedAnalysisAck() *subscription.Subscription {
	c.analysisMu.Lock()
	defer c.analysisMu.Unlock()
	if !c.analysisAttached {
		return nil
	}
	return c.analysisAck
}

// Submit hands one driver-produced bar to the coordinator, blocking on the
// stream-paused gate (mid-session provisioning clears it) and on the bounded
// input queue for backpressure. It returns ctx.Err() if ctx is
// cancelled while waiting, or an error if the coordinator has shut down.
func (c *Coordinator) Submit(ctx context.Context, item BarInput) error {
	if !c.streamPaused.WaitUntilReady(0) {
		return fmt.Errorf("coordinator: stream stopped while paused")
	}
	select {
	case c.driverQueue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("coordinator: shut down")
	}
}

func (c *Coordinator) coordinatorLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case item, ok := <-c.driverQueue:
			if !ok {
				return
			}
			c.handleBar(ctx, item)
		}
	}
}

func (c *Coordinator) handleBar(ctx context.Context, item BarInput) {
	if err := c.data.AppendBar(item.Symbol, item.Interval, item.Bar); err != nil {
		c.handleAppendError(item, err)
		return
	}
	c.boundary.noteDataArrival(item.Bar.Timestamp)
	if item.Interval == c.baseInterval {
		c.checkLag(item.Symbol, item.Bar.Timestamp)
	}

	event := processor.BarAppended{Symbol: item.Symbol, Interval: item.Interval, Bar: item.Bar}
	select {
	case c.procQueue <- event:
	case <-ctx.Done():
		return
	case <-c.stopCh:
		return
	}

	if c.mode == subscription.DataDriven {
		c.procAck.WaitUntilReady(0)
		c.procAck.Reset()
	}
}

func (c *Coordinator) processorLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case event, ok := <-c.procQueue:
			if !ok {
				return
			}
			c.proc.ProcessBar(event, c.analysisSub, c.attachedAnalysisAck(), c.ackTimeout)
			c.procAck.SignalReady()
		}
	}
}

// handleAppendError splits the two error kinds at the one point
// where SessionData itself rejects a bar: a duplicate timestamp is a
// data-plane DataGap (logged, non-fatal, quality-affecting), while a true
// timestamp regression is the Fatal invariant violation that unwinds to
// session teardown.
func (c *Coordinator) handleAppendError(item BarInput, err error) {
	if isDuplicateTimestamp(err) {
		c.log.Warn().Err(err).Str("symbol", item.Symbol).Str("interval", item.Interval.String()).Msg("duplicate bar dropped")
		return
	}
	c.log.Error().Err(err).Str("symbol", item.Symbol).Str("interval", item.Interval.String()).Msg("fatal invariant violation, tearing down session")
	c.boundary.triggerError(err.Error())
	c.TeardownSession()
}

// PauseBacktest clears the stream-paused gate, blocking the driver until
// ResumeBacktest.
func (c *Coordinator) PauseBacktest() {
	c.streamPaused.Reset()
}

// ResumeBacktest signals the stream-paused gate, unblocking the driver.
func (c *Coordinator) ResumeBacktest() {
	c.streamPaused.SignalReady()
}

// TeardownSession clears SessionData unconditionally, drops
// every live indicator instance, and flushes any open derived windows first
// so the last partial window of the day isn't silently lost.
func (c *Coordinator) TeardownSession() {
	for _, sym := range c.data.GetActiveSymbols(true) {
		c.proc.FlushSymbol(sym)
		c.indicators.Remove(sym)
	}
	c.data.Clear()
}
