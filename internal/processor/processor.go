// Package processor implements the derivation and indicator engine: it
// consumes base-interval bars, produces higher-interval bars, updates
// indicators, and publishes notifications.
package processor

import (
	"sync"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/indicator"
	"github.com/aristath/marketsession/internal/notify"
	"github.com/aristath/marketsession/internal/sessiondata"
	"github.com/aristath/marketsession/internal/subscription"
	"github.com/rs/zerolog"
)

// BarAppended is the coordinator->processor notification: a base-interval
// bar was just appended for (symbol, interval).
type BarAppended struct {
	Symbol   string
	Interval bar.Interval
	Bar      bar.Bar
}

// DerivedSpec describes one derived interval attached to a symbol: its
// target interval and the base it derives from.
type DerivedSpec struct {
	Symbol string
	Target bar.Interval
	Base   bar.Interval
}

// Processor is the derivation engine. It holds no bars itself (SessionData
// does) and instead drives derivation and indicator updates over it.
type Processor struct {
	store      *sessiondata.SessionData
	indicators *indicator.Manager
	notif      *notify.Stream
	log        zerolog.Logger

	mu      sync.Mutex
	derived map[string][]DerivedSpec         // symbol -> derived interval specs
	pending map[string]map[string]*window    // symbol -> derived tag -> open window buffer
	skipped map[string]map[string][]time.Time // symbol -> derived tag -> windows withheld for gaps

	// serializes the whole per-bar pipeline for one symbol
	symbolLocks sync.Map // symbol -> *sync.Mutex
}

// New constructs a Processor bound to a SessionData store, an indicator
// Manager, and a notification stream.
func New(store *sessiondata.SessionData, indicators *indicator.Manager, notif *notify.Stream, log zerolog.Logger) *Processor {
	return &Processor{
		store:      store,
		indicators: indicators,
		notif:      notif,
		log:        log.With().Str("component", "processor").Logger(),
		derived:    make(map[string][]DerivedSpec),
		pending:    make(map[string]map[string]*window),
		skipped:    make(map[string]map[string][]time.Time),
	}
}

// window buffers the base bars seen so far for one not-yet-closed derived
// window.
type window struct {
	start time.Time
	bars  []bar.Bar
}

// AttachDerived registers a derived interval for symbol, so subsequent
// ProcessBar calls roll it. Called by the coordinator's add_interval_<X>
// provisioning step.
func (p *Processor) AttachDerived(symbol string, spec DerivedSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.derived[symbol] {
		if existing.Target == spec.Target {
			return
		}
	}
	p.derived[symbol] = append(p.derived[symbol], spec)
}

func (p *Processor) symbolLock(symbol string) *sync.Mutex {
	v, _ := p.symbolLocks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ProcessBar runs the full per-bar pipeline for one coordinator
// notification: roll every derived interval whose window has just closed,
// update every indicator touched, publish notifications, signal the
// analysis layer via analysisSub, and, when an ack subscription is wired,
// wait for the analysis layer's acknowledgement before returning. Either
// subscription may be nil (bulk historical loads pass neither).
func (p *Processor) ProcessBar(event BarAppended, analysisSub, analysisAck *subscription.Subscription, waitTimeout time.Duration) {
	lock := p.symbolLock(event.Symbol)
	lock.Lock()
	defer lock.Unlock()

	touched := []emittedBar{{iv: event.Interval, b: event.Bar}}
	touched = append(touched, p.rollDerived(event)...)

	for _, e := range touched {
		p.updateIndicators(event.Symbol, e.iv, e.b)
	}

	if p.store.IsActive() {
		for _, e := range touched {
			p.notif.Publish(notify.Notification{Symbol: event.Symbol, Interval: e.iv, Kind: notify.KindBar})
		}
	}

	if analysisSub != nil {
		analysisSub.SignalReady()
	}
	if analysisAck != nil {
		analysisAck.WaitUntilReady(waitTimeout)
		analysisAck.Reset()
	}
}

// emittedBar pairs an interval with the bar that advanced it this cycle, so
// indicator updates on a derived interval see the derived bar rather than
// the base bar that closed its window.
type emittedBar struct {
	iv bar.Interval
	b  bar.Bar
}

// rollDerived aggregates base bars into every derived interval whose window
// has just closed. It returns the derived bars emitted this call, so the
// caller can drive indicator updates and notifications for them too.
func (p *Processor) rollDerived(event BarAppended) []emittedBar {
	p.mu.Lock()
	specs := append([]DerivedSpec(nil), p.derived[event.Symbol]...)
	p.mu.Unlock()

	var emitted []emittedBar
	for _, spec := range specs {
		if spec.Base != event.Interval {
			continue
		}
		if db, ok := p.rollOne(event.Symbol, spec, event.Bar); ok {
			emitted = append(emitted, emittedBar{iv: spec.Target, b: db})
		}
	}
	return emitted
}

// rollOne buffers event.Bar into the open window for spec.Target. A window
// is considered closed, and its derived bar emitted, the moment a base
// bar belonging to the *next* window is observed, since the base stream
// carries no lookahead: at that point every base bar that could have
// contributed to the prior window has already arrived in timestamp order.
// Returns the emitted derived bar, if one closed this call.
func (p *Processor) rollOne(symbol string, spec DerivedSpec, b bar.Bar) (bar.Bar, bool) {
	ws := bar.WindowStart(b.Timestamp, spec.Target)
	tag := spec.Target.String()

	p.mu.Lock()
	bySymbol, ok := p.pending[symbol]
	if !ok {
		bySymbol = make(map[string]*window)
		p.pending[symbol] = bySymbol
	}
	w, ok := bySymbol[tag]
	if !ok {
		bySymbol[tag] = &window{start: ws, bars: []bar.Bar{b}}
		p.mu.Unlock()
		return bar.Bar{}, false
	}
	if w.start.Equal(ws) {
		w.bars = append(w.bars, b)
		p.mu.Unlock()
		return bar.Bar{}, false
	}
	// b starts a new window: the previous one is closed. Start buffering the
	// new window with b, then emit the prior one. An incomplete prior window
	// (a base-interval gap) is not emitted: it is remembered as skipped, and
	// Backfill emits it retroactively once gap repair completes it.
	completed := w.bars
	completedStart := w.start
	bySymbol[tag] = &window{start: ws, bars: []bar.Bar{b}}
	p.mu.Unlock()

	if p.windowIncomplete(spec, completed) {
		p.log.Debug().Str("symbol", symbol).Str("interval", tag).Time("window", completedStart).
			Int("bars", len(completed)).Msg("derived window closed incomplete, deferring to gap repair")
		p.rememberSkipped(symbol, tag, completedStart)
		return bar.Bar{}, false
	}
	return p.emitDerived(symbol, spec.Target, completedStart, completed)
}

// windowIncomplete reports whether fewer base bars arrived than the derived
// window calls for. Only meaningful for same-unit derivation (a 5m window
// holds exactly five 1m bars); cross-unit windows (1d from 1m) close at
// session end with however many bars the session produced.
func (p *Processor) windowIncomplete(spec DerivedSpec, bars []bar.Bar) bool {
	if spec.Target.Unit != spec.Base.Unit {
		return false
	}
	want := spec.Target.N / spec.Base.N
	return len(bars) < want
}

// rememberSkipped records a window withheld for incompleteness so Backfill
// can emit it retroactively once the missing base bars arrive.
func (p *Processor) rememberSkipped(symbol, tag string, windowStart time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bySymbol, ok := p.skipped[symbol]
	if !ok {
		bySymbol = make(map[string][]time.Time)
		p.skipped[symbol] = bySymbol
	}
	bySymbol[tag] = append(bySymbol[tag], windowStart)
}

// Backfill routes a gap-repaired base bar through derivation: the bar has
// already been inserted into SessionData at its ordered position; here the
// derived window it belongs to is recomputed and, if the repair completed a
// previously-withheld window, the derived bar is emitted retroactively in
// timestamp order: it is inserted at its ordered position on the derived
// interval, even behind later derived bars. A window already present on the
// derived interval is rejected as a duplicate, dropped and logged.
func (p *Processor) Backfill(symbol string, b bar.Bar) {
	lock := p.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	specs := append([]DerivedSpec(nil), p.derived[symbol]...)
	p.mu.Unlock()

	for _, spec := range specs {
		ws := bar.WindowStart(b.Timestamp, spec.Target)
		tag := spec.Target.String()

		p.mu.Lock()
		if w, ok := p.pending[symbol][tag]; ok && w.start.Equal(ws) {
			// Window still open: slot the repaired bar into the buffer in
			// timestamp order and let the normal close path emit it.
			pos := 0
			for pos < len(w.bars) && w.bars[pos].Timestamp.Before(b.Timestamp) {
				pos++
			}
			w.bars = append(w.bars, bar.Bar{})
			copy(w.bars[pos+1:], w.bars[pos:])
			w.bars[pos] = b
			p.mu.Unlock()
			continue
		}
		skippedAt := -1
		for i, ts := range p.skipped[symbol][tag] {
			if ts.Equal(ws) {
				skippedAt = i
				break
			}
		}
		p.mu.Unlock()
		if skippedAt < 0 {
			continue
		}

		if db, ok := p.recomputeWindow(symbol, spec, ws); ok {
			p.mu.Lock()
			p.skipped[symbol][tag] = append(p.skipped[symbol][tag][:skippedAt], p.skipped[symbol][tag][skippedAt+1:]...)
			p.mu.Unlock()
			if p.store.IsActive() {
				p.notif.Publish(notify.Notification{Symbol: symbol, Interval: spec.Target, Kind: notify.KindBar})
			}
			p.updateIndicators(symbol, spec.Target, db)
		}
	}
}

// recomputeWindow re-aggregates the base bars now present for one derived
// window and inserts the result at its ordered position on the derived
// interval. Emission still requires the window to be complete.
func (p *Processor) recomputeWindow(symbol string, spec DerivedSpec, ws time.Time) (bar.Bar, bool) {
	step := time.Duration(spec.Target.Minutes() * float64(time.Minute))
	if step <= 0 {
		return bar.Bar{}, false
	}
	sd, ok := p.store.GetSymbolData(symbol, true)
	if !ok {
		return bar.Bar{}, false
	}
	baseData, ok := sd.Interval(spec.Base.String())
	if !ok {
		return bar.Bar{}, false
	}
	bars := baseData.Range(ws, ws.Add(step-time.Nanosecond))
	if p.windowIncomplete(spec, bars) {
		return bar.Bar{}, false
	}
	db := bar.AggregateOHLCV(ws, bars)
	if err := p.store.BackfillBar(symbol, spec.Target, db); err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Str("interval", spec.Target.String()).
			Msg("dropped retroactive derived bar")
		return bar.Bar{}, false
	}
	return db, true
}

// FlushSymbol emits any still-open derived windows for symbol as final
// bars, aggregating whatever arrived. Called by the coordinator at session
// teardown / day-roll so the last window of the day isn't lost
// merely because no "next window" bar ever arrived to close it.
func (p *Processor) FlushSymbol(symbol string) {
	p.mu.Lock()
	bySymbol := p.pending[symbol]
	delete(p.pending, symbol)
	delete(p.skipped, symbol)
	p.mu.Unlock()

	for tag, w := range bySymbol {
		iv, err := bar.ParseInterval(tag)
		if err != nil {
			continue
		}
		p.emitDerived(symbol, iv, w.start, w.bars)
	}
}

func (p *Processor) emitDerived(symbol string, target bar.Interval, windowStart time.Time, bars []bar.Bar) (bar.Bar, bool) {
	if len(bars) == 0 {
		return bar.Bar{}, false
	}
	derivedBar := bar.AggregateOHLCV(windowStart, bars)
	if err := p.store.AppendBar(symbol, target, derivedBar); err != nil {
		// Out-of-order emission on the derived interval, dropped rather
		// than retried so the interval's monotonicity holds.
		p.log.Warn().Err(err).Str("symbol", symbol).Str("interval", target.String()).Msg("dropped derived bar: monotonicity violation")
		return bar.Bar{}, false
	}
	return derivedBar, true
}

// updateIndicators feeds b to every indicator attached to (symbol, iv) and
// writes the resulting snapshots back into SessionData.
func (p *Processor) updateIndicators(symbol string, iv bar.Interval, b bar.Bar) {
	updated := p.indicators.Update(symbol, iv, b)
	for key, data := range updated {
		_ = p.store.SetIndicator(symbol, key, data)
		if p.store.IsActive() {
			p.notif.Publish(notify.Notification{Symbol: symbol, Interval: iv, Kind: notify.KindIndicator})
		}
	}
}
