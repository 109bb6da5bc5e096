package store

import (
	"context"
	"sort"
	"time"

	"github.com/aristath/marketsession/internal/bar"
)

// FakeStore is an in-memory BarStore for tests and local runs that don't
// want a SQLite fixture, mirroring calendar.FakeStore.
type FakeStore struct {
	bars map[string][]bar.Bar // keyed by symbol+"|"+interval
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{bars: make(map[string][]bar.Bar)}
}

func fakeKey(symbol string, iv bar.Interval) string { return symbol + "|" + iv.String() }

// Seed preloads bars for (symbol, interval), keeping the set sorted and
// deduplicated on timestamp (last write wins), matching idempotent-upsert
// semantics.
func (f *FakeStore) Seed(symbol string, iv bar.Interval, bars ...bar.Bar) {
	_ = f.BulkUpsert(context.Background(), symbol, iv, bars)
}

func (f *FakeStore) GetBars(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) ([]bar.Bar, error) {
	var out []bar.Bar
	for _, b := range f.bars[fakeKey(symbol, iv)] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *FakeStore) BulkUpsert(ctx context.Context, symbol string, iv bar.Interval, bars []bar.Bar) error {
	key := fakeKey(symbol, iv)
	byTS := make(map[int64]bar.Bar)
	for _, b := range f.bars[key] {
		byTS[b.Timestamp.Unix()] = b
	}
	for _, b := range bars {
		byTS[b.Timestamp.Unix()] = b
	}
	merged := make([]bar.Bar, 0, len(byTS))
	for _, b := range byTS {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	f.bars[key] = merged
	return nil
}

func (f *FakeStore) DateRange(ctx context.Context, symbol string, iv bar.Interval) (time.Time, time.Time, bool, error) {
	bars := f.bars[fakeKey(symbol, iv)]
	if len(bars) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return bars[0].Timestamp, bars[len(bars)-1].Timestamp, true, nil
}

func (f *FakeStore) HasData(ctx context.Context, symbol string, iv bar.Interval, start, end time.Time) (bool, error) {
	bars, err := f.GetBars(ctx, symbol, iv, start, end)
	if err != nil {
		return false, err
	}
	return len(bars) > 0, nil
}
