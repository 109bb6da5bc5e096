package notify

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/marketsession/internal/bar"
	"github.com/stretchr/testify/assert"
)

func TestStream_PublishAndSubscribe(t *testing.T) {
	s := New(4)
	sub := s.Subscribe(context.Background())

	s.Publish(Notification{Symbol: "AAPL", Interval: bar.MustParseInterval("1m"), Kind: KindBar})

	select {
	case n := <-sub:
		assert.Equal(t, "AAPL", n.Symbol)
		assert.Equal(t, KindBar, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestStream_DropsWhenFull(t *testing.T) {
	s := New(1)
	s.Publish(Notification{Symbol: "A"})
	s.Publish(Notification{Symbol: "B"}) // dropped: channel full, nobody draining

	assert.Equal(t, int64(1), s.Dropped())
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	s := New(1)
	s.Close()
	assert.NotPanics(t, func() { s.Close() })
	assert.NotPanics(t, func() { s.Publish(Notification{Symbol: "A"}) })
}
