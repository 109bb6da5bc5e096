// Package feed defines the live feed adapter contract: a push
// interface delivering (symbol, bar) events with wall-clock arrival.
package feed

import (
	"context"

	"github.com/aristath/marketsession/internal/bar"
)

// Event is one (symbol, bar) delivery from the feed.
type Event struct {
	Symbol string
	Bar    bar.Bar
}

// Adapter is the external live feed collaborator.
// Subscribe returns a channel of Events for the requested symbols; the
// channel closes when ctx is cancelled or the adapter's connection ends.
type Adapter interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan Event, error)
	// KnowsSymbol reports whether the adapter's data source recognizes the
	// symbol at all, used by the coordinator's Phase 2 validation
	// ("the feed adapter knows it").
	KnowsSymbol(symbol string) bool
}

// FakeAdapter is an in-memory Adapter for tests and local runs: it knows
// whatever symbols were registered via Seed and replays events pushed onto
// its channel via Emit.
type FakeAdapter struct {
	known map[string]bool
	ch    chan Event
}

// NewFakeAdapter constructs a FakeAdapter with the given channel capacity.
func NewFakeAdapter(capacity int) *FakeAdapter {
	if capacity <= 0 {
		capacity = 64
	}
	return &FakeAdapter{known: make(map[string]bool), ch: make(chan Event, capacity)}
}

// Seed registers symbols as known to the fake feed.
func (f *FakeAdapter) Seed(symbols ...string) {
	for _, s := range symbols {
		f.known[s] = true
	}
}

// Emit pushes an event onto the fake feed's channel; it blocks if the
// channel is full, mirroring the pipeline's bounded-channel backpressure.
func (f *FakeAdapter) Emit(e Event) { f.ch <- e }

// Close closes the fake feed's channel, ending all active Subscribe ranges.
func (f *FakeAdapter) Close() { close(f.ch) }

func (f *FakeAdapter) Subscribe(ctx context.Context, symbols []string) (<-chan Event, error) {
	return f.ch, nil
}

func (f *FakeAdapter) KnowsSymbol(symbol string) bool { return f.known[symbol] }
