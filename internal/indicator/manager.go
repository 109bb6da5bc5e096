package indicator

import (
	"fmt"
	"sync"

	"github.com/aristath/marketsession/internal/bar"
)

// Manager owns the live,
// stateful Indicator instances (the incremental running values), separate
// from the scalar Data snapshots SessionData publishes. The processor calls
// Update per bar and then writes the resulting Data() snapshot back into
// SessionData.
type Manager struct {
	mu   sync.Mutex
	live map[string]map[string]Indicator // symbol -> key -> instance
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{live: make(map[string]map[string]Indicator)}
}

// Register constructs the indicator implementation for cfg and attaches it
// to symbol under cfg.Key(). If historical is non-empty, Warmup runs
// immediately so the indicator may already be valid on first use. Duplicate
// registration (same symbol+key) is a no-op that returns the existing
// instance's Data.
func (m *Manager) Register(symbol string, cfg Config, historical []bar.Bar) (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySymbol, ok := m.live[symbol]
	if !ok {
		bySymbol = make(map[string]Indicator)
		m.live[symbol] = bySymbol
	}
	key := cfg.Key()
	if existing, ok := bySymbol[key]; ok {
		return existing.Data(), nil
	}

	impl, err := New(cfg)
	if err != nil {
		return Data{}, fmt.Errorf("indicator: register %s/%s: %w", symbol, key, err)
	}
	if len(historical) > 0 {
		impl.Warmup(historical)
	}
	bySymbol[key] = impl
	return impl.Data(), nil
}

// Update feeds b to every indicator attached to symbol whose Interval
// matches iv, returning the updated (key, Data) pairs so the caller can
// write them back into SessionData and decide which notifications to fire.
func (m *Manager) Update(symbol string, iv bar.Interval, b bar.Bar) map[string]Data {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Data)
	for key, impl := range m.live[symbol] {
		data := impl.Data()
		if data.Config.Interval != iv {
			continue
		}
		impl.Update(b)
		out[key] = impl.Data()
	}
	return out
}

// Has reports whether symbol already has key registered.
func (m *Manager) Has(symbol, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[symbol][key]
	return ok
}

// Remove drops every indicator instance for symbol, used at session
// teardown alongside SessionData.Clear.
func (m *Manager) Remove(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, symbol)
}
