package driver

import (
	"context"
	"time"

	"github.com/aristath/marketsession/internal/coordinator"
	"github.com/aristath/marketsession/internal/feed"
	"github.com/rs/zerolog"
)

// maxFeedBackoff caps the reconnect back-off when the feed drops.
const maxFeedBackoff = time.Minute

// LiveDriver bridges an external feed adapter onto the coordinator's input
// queue. Bars arrive with wall-clock timestamps; the driver adds nothing of
// its own beyond reconnect-with-back-off when the adapter's stream ends.
type LiveDriver struct {
	coord   *coordinator.Coordinator
	adapter feed.Adapter
	symbols []string
	log     zerolog.Logger
}

// NewLive constructs a LiveDriver subscribing to the given symbols.
func NewLive(coord *coordinator.Coordinator, adapter feed.Adapter, symbols []string, log zerolog.Logger) *LiveDriver {
	norm := make([]string, len(symbols))
	for i, s := range symbols {
		norm[i] = coordinator.NormalizeSymbol(s)
	}
	return &LiveDriver{
		coord:   coord,
		adapter: adapter,
		symbols: norm,
		log:     log.With().Str("component", "live_driver").Logger(),
	}
}

// Run subscribes and forwards events until ctx is cancelled. A closed event
// channel (connection loss, adapter shutdown) triggers a resubscribe with
// exponential back-off.
func (d *LiveDriver) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := d.adapter.Subscribe(ctx, d.symbols)
		if err != nil {
			d.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxFeedBackoff {
				backoff = maxFeedBackoff
			}
			continue
		}
		backoff = time.Second

		if err := d.consume(ctx, events); err != nil {
			return err
		}
		d.log.Warn().Msg("feed stream ended, resubscribing")
	}
}

func (d *LiveDriver) consume(ctx context.Context, events <-chan feed.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			symbol := coordinator.NormalizeSymbol(e.Symbol)
			if err := d.coord.Submit(ctx, coordinator.BarInput{Symbol: symbol, Interval: d.coord.BaseInterval(), Bar: e.Bar}); err != nil {
				return err
			}
		}
	}
}
