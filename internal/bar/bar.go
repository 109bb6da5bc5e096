package bar

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateTimestamp and ErrTimestampRegression distinguish the two ways
// Append can reject a bar, so callers can treat a resubmitted duplicate
// (data-plane, non-fatal) differently from a true out-of-order
// regression (a Fatal invariant violation).
var (
	ErrDuplicateTimestamp  = errors.New("bar: duplicate timestamp")
	ErrTimestampRegression = errors.New("bar: timestamp regression")
)

// Bar is one OHLCV record, timestamped at its interval boundary.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate enforces the per-bar invariants from the data model: low/open/high
// ordering and non-negative volume. Timestamp monotonicity is a sequence-level
// invariant enforced by the caller (SessionData.AppendBar), not here.
func (b Bar) Validate() error {
	if b.Low > b.Open || b.Open > b.High {
		return fmt.Errorf("bar: low <= open <= high violated (low=%v open=%v high=%v)", b.Low, b.Open, b.High)
	}
	if b.Low > b.Close || b.Close > b.High {
		return fmt.Errorf("bar: low <= close <= high violated (low=%v close=%v high=%v)", b.Low, b.Close, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar: volume must be >= 0, got %v", b.Volume)
	}
	return nil
}

// WindowStart aligns t down to the start of the interval window containing it.
// Second and minute windows are clock arithmetic; a day window starts at
// midnight of t's date and a week window at midnight of the Monday of t's
// week. The N of a day or week interval is not applied: every day tag aligns
// to a single day and every week tag to a single week.
func WindowStart(t time.Time, iv Interval) time.Time {
	switch iv.Unit {
	case UnitSecond:
		secs := int64(iv.N)
		epoch := t.Unix()
		aligned := (epoch / secs) * secs
		return time.Unix(aligned, 0).In(t.Location())
	case UnitMinute:
		mins := iv.N
		minuteOfDay := t.Hour()*60 + t.Minute()
		alignedMinute := (minuteOfDay / mins) * mins
		return time.Date(t.Year(), t.Month(), t.Day(), alignedMinute/60, alignedMinute%60, 0, 0, t.Location())
	case UnitWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// AggregateOHLCV folds an ordered, non-empty run of base bars that all fall
// within one derived window into a single derived bar:
// O=first.open, H=max(high), L=min(low), C=last.close, V=sum(volume).
func AggregateOHLCV(windowStart time.Time, bars []Bar) Bar {
	out := Bar{
		Timestamp: windowStart,
		Open:      bars[0].Open,
		High:      bars[0].High,
		Low:       bars[0].Low,
		Close:     bars[len(bars)-1].Close,
	}
	for _, b := range bars {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Volume += b.Volume
	}
	return out
}

// GapSpan records a detected run of missing bars on one interval.
type GapSpan struct {
	Start time.Time
	End   time.Time
}

// IntervalData holds the ordered bar sequence and quality bookkeeping for one
// (symbol, interval) pair.
type IntervalData struct {
	Interval     Interval
	Bars         []Bar
	Quality      float64
	Gaps         []GapSpan
	Derived      bool
	DerivedBase  *Interval
	Updated      bool
	duplicates   int
}

// NewIntervalData constructs an empty IntervalData for the given interval.
// If base is non-nil the interval is marked derived from it.
func NewIntervalData(iv Interval, base *Interval) *IntervalData {
	return &IntervalData{
		Interval:    iv,
		Quality:     100,
		Derived:     base != nil,
		DerivedBase: base,
	}
}

// Append enforces strict timestamp monotonicity and marks the
// interval dirty. Callers hold SessionData's write path; Append itself does
// no locking; it's invoked under SessionData's mutex.
func (d *IntervalData) Append(b Bar) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if len(d.Bars) > 0 {
		last := d.Bars[len(d.Bars)-1].Timestamp
		if !b.Timestamp.After(last) {
			if b.Timestamp.Equal(last) {
				d.duplicates++
				return fmt.Errorf("%w: %s for interval %s", ErrDuplicateTimestamp, b.Timestamp, d.Interval)
			}
			return fmt.Errorf("%w: %s <= %s for interval %s", ErrTimestampRegression, b.Timestamp, last, d.Interval)
		}
	}
	d.Bars = append(d.Bars, b)
	d.Updated = true
	return nil
}

// Insert places b at its timestamp-ordered position, used by gap repair to
// backfill a bar that arrived after later bars were already appended. The
// sequence stays strictly increasing: a timestamp already present is rejected
// as a duplicate. Like Append, callers invoke it under SessionData's mutex.
func (d *IntervalData) Insert(b Bar) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if len(d.Bars) == 0 || b.Timestamp.After(d.Bars[len(d.Bars)-1].Timestamp) {
		return d.Append(b)
	}
	pos := 0
	for pos < len(d.Bars) && d.Bars[pos].Timestamp.Before(b.Timestamp) {
		pos++
	}
	if pos < len(d.Bars) && d.Bars[pos].Timestamp.Equal(b.Timestamp) {
		d.duplicates++
		return fmt.Errorf("%w: %s for interval %s", ErrDuplicateTimestamp, b.Timestamp, d.Interval)
	}
	d.Bars = append(d.Bars, Bar{})
	copy(d.Bars[pos+1:], d.Bars[pos:])
	d.Bars[pos] = b
	d.Updated = true
	return nil
}

// RecordGap appends a detected gap span for quality bookkeeping.
func (d *IntervalData) RecordGap(g GapSpan) { d.Gaps = append(d.Gaps, g) }

// Range returns (a copy of) all bars with timestamps in [start, end].
func (d *IntervalData) Range(start, end time.Time) []Bar {
	var out []Bar
	for _, b := range d.Bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}

// Duplicates returns the number of rejected duplicate-timestamp appends seen
// so far, used by QualityChecker's completeness scoring.
func (d *IntervalData) Duplicates() int { return d.duplicates }

// Latest returns the most recent bar, if any.
func (d *IntervalData) Latest() (Bar, bool) {
	if len(d.Bars) == 0 {
		return Bar{}, false
	}
	return d.Bars[len(d.Bars)-1], true
}

// LastN returns (a copy of) the last n bars, oldest first.
func (d *IntervalData) LastN(n int) []Bar {
	if n <= 0 || len(d.Bars) == 0 {
		return nil
	}
	if n > len(d.Bars) {
		n = len(d.Bars)
	}
	out := make([]Bar, n)
	copy(out, d.Bars[len(d.Bars)-n:])
	return out
}

// Since returns (a copy of) all bars strictly after ts.
func (d *IntervalData) Since(ts time.Time) []Bar {
	var out []Bar
	for _, b := range d.Bars {
		if b.Timestamp.After(ts) {
			out = append(out, b)
		}
	}
	return out
}

// Count returns the number of bars held.
func (d *IntervalData) Count() int { return len(d.Bars) }

// ClearUpdated resets the dirty bit once the processor has consumed it.
func (d *IntervalData) ClearUpdated() { d.Updated = false }
