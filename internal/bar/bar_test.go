package bar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(ts time.Time, o, h, l, c, v float64) Bar {
	return Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestBar_Validate(t *testing.T) {
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	assert.NoError(t, mkBar(base, 10, 11, 9, 10.5, 100).Validate())
	assert.Error(t, mkBar(base, 10, 9, 9, 10, 100).Validate(), "open above high")
	assert.Error(t, mkBar(base, 10, 11, 9, 12, 100).Validate(), "close above high")
	assert.Error(t, mkBar(base, 10, 11, 9, 10, -1).Validate(), "negative volume")
}

func TestIntervalData_AppendMonotonic(t *testing.T) {
	iv := MustParseInterval("1m")
	d := NewIntervalData(iv, nil)
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	require.NoError(t, d.Append(mkBar(base, 1, 1, 1, 1, 10)))
	require.NoError(t, d.Append(mkBar(base.Add(time.Minute), 1, 1, 1, 1, 10)))

	err := d.Append(mkBar(base.Add(time.Minute), 1, 1, 1, 1, 10))
	require.Error(t, err, "equal timestamp must be rejected as duplicate")
	assert.Equal(t, 1, d.Duplicates())

	err = d.Append(mkBar(base.Add(-time.Minute), 1, 1, 1, 1, 10))
	require.Error(t, err, "regression must be rejected")
}

func TestAggregateOHLCV(t *testing.T) {
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []Bar{
		mkBar(base, 10, 12, 9, 11, 100),
		mkBar(base.Add(time.Minute), 11, 13, 10, 12, 150),
		mkBar(base.Add(2*time.Minute), 12, 12.5, 11, 11.5, 50),
	}
	agg := AggregateOHLCV(base, bars)
	assert.Equal(t, base, agg.Timestamp)
	assert.Equal(t, 10.0, agg.Open)
	assert.Equal(t, 13.0, agg.High)
	assert.Equal(t, 9.0, agg.Low)
	assert.Equal(t, 11.5, agg.Close)
	assert.Equal(t, 300.0, agg.Volume)
}

func TestIntervalData_LastNAndSince(t *testing.T) {
	iv := MustParseInterval("1m")
	d := NewIntervalData(iv, nil)
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Append(mkBar(base.Add(time.Duration(i)*time.Minute), 1, 1, 1, 1, 1)))
	}

	last2 := d.LastN(2)
	require.Len(t, last2, 2)
	assert.Equal(t, base.Add(3*time.Minute), last2[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Minute), last2[1].Timestamp)

	since := d.Since(base.Add(2 * time.Minute))
	require.Len(t, since, 2)
}

func TestIntervalData_InsertBackfillsInOrder(t *testing.T) {
	iv := MustParseInterval("1m")
	d := NewIntervalData(iv, nil)
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

	require.NoError(t, d.Append(mkBar(base, 1, 1, 1, 1, 1)))
	require.NoError(t, d.Append(mkBar(base.Add(2*time.Minute), 1, 1, 1, 1, 1)))

	// Backfill the missing 09:31 bar between the two.
	require.NoError(t, d.Insert(mkBar(base.Add(time.Minute), 2, 2, 2, 2, 2)))
	require.Equal(t, 3, d.Count())
	assert.Equal(t, base.Add(time.Minute), d.Bars[1].Timestamp)

	// Re-inserting the same timestamp is a duplicate.
	err := d.Insert(mkBar(base.Add(time.Minute), 2, 2, 2, 2, 2))
	require.Error(t, err)
	assert.Equal(t, 1, d.Duplicates())

	// Inserting past the tail degrades to a plain append.
	require.NoError(t, d.Insert(mkBar(base.Add(3*time.Minute), 1, 1, 1, 1, 1)))
	assert.Equal(t, 4, d.Count())
}

func TestIntervalData_Range(t *testing.T) {
	iv := MustParseInterval("1m")
	d := NewIntervalData(iv, nil)
	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Append(mkBar(base.Add(time.Duration(i)*time.Minute), 1, 1, 1, 1, 1)))
	}
	got := d.Range(base.Add(time.Minute), base.Add(3*time.Minute))
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(time.Minute), got[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Minute), got[2].Timestamp)
}
