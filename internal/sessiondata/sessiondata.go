// Package sessiondata implements the per-session symbol state store: the
// single place strategies, scanners, and the core's own components read and
// write per-symbol bar/indicator state for the current trading session.
package sessiondata

import (
	"sync"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/aristath/marketsession/internal/indicator"
)

// AddedBy tags who provisioned a symbol: the static session config, a
// scanner, or a strategy's mid-session add.
type AddedBy string

const (
	AddedByConfig   AddedBy = "config"
	AddedByScanner  AddedBy = "scanner"
	AddedByStrategy AddedBy = "strategy"
)

// Metadata carries a symbol's provenance: whether it meets the full session
// config requirements (vs. an adhoc, scanner-only provisioning), who added
// it, and when.
type Metadata struct {
	MeetsSessionConfigRequirements bool
	AddedBy                        AddedBy
	AutoProvisioned                bool
	UpgradedFromAdhoc              bool
	AddedAt                        time.Time
	Locked                         bool // open position or pending order; sourced from the execution adapter
}

// SessionMetrics is the per-symbol cumulative-volume/session-high-low/bar-count
// struct, always computed over the base interval's bars.
type SessionMetrics struct {
	CumulativeVolume float64
	SessionHigh      float64
	SessionLow       float64
	BarCount         int
}

// SymbolSessionData is one symbol's complete per-session state: base
// interval, every tracked interval's bars, every attached indicator's
// current data, a scalar quality score, session metrics, and provenance.
type SymbolSessionData struct {
	Symbol       string
	BaseInterval bar.Interval

	mu         sync.RWMutex
	intervals  map[string]*bar.IntervalData
	indicators map[string]indicator.Data
	quality    float64
	metrics    SessionMetrics
	meta       Metadata
}

func newSymbolSessionData(symbol string, base bar.Interval, meta Metadata) *SymbolSessionData {
	return &SymbolSessionData{
		Symbol:       symbol,
		BaseInterval: base,
		intervals:    make(map[string]*bar.IntervalData),
		indicators:   make(map[string]indicator.Data),
		quality:      100,
		meta:         meta,
	}
}

// Meta returns a copy of the symbol's provenance metadata.
func (s *SymbolSessionData) Meta() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Metrics returns a copy of the symbol's session metrics.
func (s *SymbolSessionData) Metrics() SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Quality returns the symbol's current scalar quality score.
func (s *SymbolSessionData) Quality() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quality
}

// SetQuality overwrites the symbol's quality score (the coordinator's
// calculate_quality provisioning step, and the lag-control quality upkeep).
func (s *SymbolSessionData) SetQuality(q float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality = q
}

// Interval returns the IntervalData for tag, creating nothing: callers must
// go through AddInterval first.
func (s *SymbolSessionData) Interval(tag string) (*bar.IntervalData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.intervals[tag]
	return d, ok
}

// Intervals returns the set of interval tags currently attached.
func (s *SymbolSessionData) Intervals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.intervals))
	for k := range s.intervals {
		out = append(out, k)
	}
	return out
}

// AddInterval attaches a fresh IntervalData for iv (the coordinator's
// add_interval_<X> provisioning step). derivedFrom is nil for the base
// interval itself. Idempotent: re-adding an existing interval is a no-op.
func (s *SymbolSessionData) AddInterval(iv bar.Interval, derivedFrom *bar.Interval) *bar.IntervalData {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := iv.String()
	if d, ok := s.intervals[tag]; ok {
		return d
	}
	d := bar.NewIntervalData(iv, derivedFrom)
	s.intervals[tag] = d
	return d
}

// SetIndicator stores (or replaces) the indicator data at key.
func (s *SymbolSessionData) SetIndicator(key string, data indicator.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[key] = data
}

// GetIndicator returns the indicator data at key, if present.
func (s *SymbolSessionData) GetIndicator(key string) (indicator.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.indicators[key]
	return d, ok
}

// HasIndicator reports whether key is already registered, used by the
// coordinator's duplicate-indicator validation.
func (s *SymbolSessionData) HasIndicator(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indicators[key]
	return ok
}

// IndicatorKeys returns every registered indicator key.
func (s *SymbolSessionData) IndicatorKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.indicators))
	for k := range s.indicators {
		out = append(out, k)
	}
	return out
}

// MarkUpgraded flips the provenance flags an upgrade_symbol provisioning
// step applies to a previously-adhoc symbol.
func (s *SymbolSessionData) MarkUpgraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.UpgradedFromAdhoc = true
	s.meta.MeetsSessionConfigRequirements = true
}

// SetLocked records whether the execution adapter reports an open
// position/pending order for this symbol (consulted by scanner teardown).
func (s *SymbolSessionData) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Locked = locked
}

// appendBaseBar appends b to the base interval and folds it into session
// metrics (cumulative volume, session high/low, bar count). Returns an error
// if the base interval hasn't been attached yet or the append itself fails
// (e.g. a monotonicity violation).
func (s *SymbolSessionData) appendBaseBar(b bar.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := s.BaseInterval.String()
	d, ok := s.intervals[tag]
	if !ok {
		d = bar.NewIntervalData(s.BaseInterval, nil)
		s.intervals[tag] = d
	}
	if err := d.Append(b); err != nil {
		return err
	}
	s.metrics.BarCount++
	s.metrics.CumulativeVolume += b.Volume
	if s.metrics.BarCount == 1 {
		s.metrics.SessionHigh = b.High
		s.metrics.SessionLow = b.Low
	} else {
		if b.High > s.metrics.SessionHigh {
			s.metrics.SessionHigh = b.High
		}
		if b.Low < s.metrics.SessionLow {
			s.metrics.SessionLow = b.Low
		}
	}
	return nil
}

// appendDerivedBar appends b to a non-base interval without touching session
// metrics (those are defined over the base interval only).
func (s *SymbolSessionData) appendDerivedBar(tag string, b bar.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.intervals[tag]
	if !ok {
		return errIntervalNotAttached(tag)
	}
	return d.Append(b)
}

// SessionData is the global store: a mapping from symbol to
// SymbolSessionData, a session-active flag, and the current session date.
// It holds a single mutex guarding the symbol map itself; each
// SymbolSessionData guards its own fields so concurrent writers to
// different symbols never contend.
//
// The coordinator releases its write lock before handing off to the
// processor over a channel, so reads never recurse into a held write lock
// and a plain mutex suffices.
type SessionData struct {
	mu      sync.RWMutex
	symbols map[string]*SymbolSessionData
	active  bool
	date    time.Time
}

// New constructs an empty, inactive SessionData store.
func New() *SessionData {
	return &SessionData{symbols: make(map[string]*SymbolSessionData)}
}

// RegisterSymbol inserts a new SymbolSessionData or returns the existing
// entry: idempotent, serialized by the store's lock. The base interval and
// metadata are only applied on first registration; a symbol's base interval
// never changes afterward.
func (sd *SessionData) RegisterSymbol(symbol string, base bar.Interval, meta Metadata) *SymbolSessionData {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if existing, ok := sd.symbols[symbol]; ok {
		return existing
	}
	if meta.AddedAt.IsZero() {
		meta.AddedAt = time.Now()
	}
	s := newSymbolSessionData(symbol, base, meta)
	sd.symbols[symbol] = s
	return s
}

// lookup returns the SymbolSessionData for symbol without gating (used by
// internal callers and by the gated accessors below after the gate check).
func (sd *SessionData) lookup(symbol string) (*SymbolSessionData, bool) {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	s, ok := sd.symbols[symbol]
	return s, ok
}

// GetSymbolData returns the SymbolSessionData for symbol. When internal is
// false and the session is inactive, it returns (nil, false) regardless of
// whether the symbol exists.
func (sd *SessionData) GetSymbolData(symbol string, internal bool) (*SymbolSessionData, bool) {
	if !internal && !sd.IsActive() {
		return nil, false
	}
	return sd.lookup(symbol)
}

// AppendBar appends b to (symbol, interval) and, for the base interval,
// folds it into session metrics. This is a writer-only operation: callers
// must never invoke it concurrently for the same (symbol, interval) pair;
// SessionData does not itself serialize across bars for one interval beyond
// the per-symbol lock.
func (sd *SessionData) AppendBar(symbol string, iv bar.Interval, b bar.Bar) error {
	s, ok := sd.lookup(symbol)
	if !ok {
		return errSymbolNotRegistered(symbol)
	}
	if iv == s.BaseInterval {
		return s.appendBaseBar(b)
	}
	return s.appendDerivedBar(iv.String(), b)
}

// BackfillBar inserts b at its timestamp-ordered position on (symbol,
// interval), used by gap repair when the missing bar's window has already
// been passed by live appends. Base-interval backfills fold into session
// metrics the same way Append does, keeping the metrics consistent with the
// repaired sequence. Internal-only: gap repair runs inside the core.
func (sd *SessionData) BackfillBar(symbol string, iv bar.Interval, b bar.Bar) error {
	s, ok := sd.lookup(symbol)
	if !ok {
		return errSymbolNotRegistered(symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.intervals[iv.String()]
	if !ok {
		return errIntervalNotAttached(iv.String())
	}
	if err := d.Insert(b); err != nil {
		return err
	}
	if iv == s.BaseInterval {
		s.metrics.BarCount++
		s.metrics.CumulativeVolume += b.Volume
		if s.metrics.BarCount == 1 {
			s.metrics.SessionHigh = b.High
			s.metrics.SessionLow = b.Low
		} else {
			if b.High > s.metrics.SessionHigh {
				s.metrics.SessionHigh = b.High
			}
			if b.Low < s.metrics.SessionLow {
				s.metrics.SessionLow = b.Low
			}
		}
	}
	return nil
}

// GetLatestBar returns the most recent bar on (symbol, interval).
func (sd *SessionData) GetLatestBar(symbol string, iv bar.Interval, internal bool) (bar.Bar, bool) {
	s, ok := sd.GetSymbolData(symbol, internal)
	if !ok {
		return bar.Bar{}, false
	}
	d, ok := s.Interval(iv.String())
	if !ok {
		return bar.Bar{}, false
	}
	return d.Latest()
}

// GetLastNBars returns the last n bars on (symbol, interval), oldest first.
func (sd *SessionData) GetLastNBars(symbol string, iv bar.Interval, n int, internal bool) []bar.Bar {
	s, ok := sd.GetSymbolData(symbol, internal)
	if !ok {
		return nil
	}
	d, ok := s.Interval(iv.String())
	if !ok {
		return nil
	}
	return d.LastN(n)
}

// GetBarsSince returns every bar strictly after ts on (symbol, interval).
func (sd *SessionData) GetBarsSince(symbol string, iv bar.Interval, ts time.Time, internal bool) []bar.Bar {
	s, ok := sd.GetSymbolData(symbol, internal)
	if !ok {
		return nil
	}
	d, ok := s.Interval(iv.String())
	if !ok {
		return nil
	}
	return d.Since(ts)
}

// GetBarCount returns the number of bars held on (symbol, interval).
func (sd *SessionData) GetBarCount(symbol string, iv bar.Interval, internal bool) int {
	s, ok := sd.GetSymbolData(symbol, internal)
	if !ok {
		return 0
	}
	d, ok := s.Interval(iv.String())
	if !ok {
		return 0
	}
	return d.Count()
}

// GetActiveSymbols returns every registered symbol, or empty when the
// session is inactive and the caller is external.
func (sd *SessionData) GetActiveSymbols(internal bool) []string {
	if !internal && !sd.IsActive() {
		return nil
	}
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	out := make([]string, 0, len(sd.symbols))
	for sym := range sd.symbols {
		out = append(out, sym)
	}
	return out
}

// SetIndicator stores indicator data for symbol at key.
func (sd *SessionData) SetIndicator(symbol, key string, data indicator.Data) error {
	s, ok := sd.lookup(symbol)
	if !ok {
		return errSymbolNotRegistered(symbol)
	}
	s.SetIndicator(key, data)
	return nil
}

// GetIndicator returns indicator data for symbol at key.
func (sd *SessionData) GetIndicator(symbol, key string, internal bool) (indicator.Data, bool) {
	s, ok := sd.GetSymbolData(symbol, internal)
	if !ok {
		return indicator.Data{}, false
	}
	return s.GetIndicator(key)
}

// RemoveSymbol drops one symbol's entire state, used by scanner teardown to
// demote adhoc symbols that were neither promoted to full config membership
// nor locked by the execution layer.
func (sd *SessionData) RemoveSymbol(symbol string) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	delete(sd.symbols, symbol)
}

// IsActive reports the session-active gate.
func (sd *SessionData) IsActive() bool {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.active
}

// ActivateSession opens the gate: external reads and notifications resume.
func (sd *SessionData) ActivateSession() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.active = true
}

// DeactivateSession closes the gate: external reads return empty/none;
// internal reads and mutations are unaffected.
func (sd *SessionData) DeactivateSession() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.active = false
}

// SessionDate returns the current session date.
func (sd *SessionData) SessionDate() time.Time {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return sd.date
}

// SetSessionDate sets the current session date, called at session roll.
func (sd *SessionData) SetSessionDate(d time.Time) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.date = d
}

// Clear drops every symbol and indicator, used only at session teardown.
// After Clear, GetActiveSymbols(true) is empty.
func (sd *SessionData) Clear() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.symbols = make(map[string]*SymbolSessionData)
	sd.active = false
}
