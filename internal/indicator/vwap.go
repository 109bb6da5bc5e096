package indicator

import "github.com/aristath/marketsession/internal/bar"

// vwap is the session volume-weighted average price:
//
//	VWAP = sum(typicalPrice * volume) / sum(volume)
//	typicalPrice = (high + low + close) / 3
//
// It accumulates every bar it is given, warm-up bars included and whatever
// their trading day, until Reset. At session teardown the coordinator does
// not call Reset; it drops every indicator instance (Manager.Remove), and
// the next session registers fresh ones.
type vwap struct {
	cfg          Config
	cumPV        float64
	cumVol       float64
	barsSeen     int
	data         Data
}

func newVWAP(cfg Config) *vwap {
	i := &vwap{cfg: cfg}
	i.Reset()
	return i
}

func (i *vwap) Reset() {
	i.cumPV, i.cumVol = 0, 0
	i.barsSeen = 0
	i.data = Data{Config: i.cfg}
}

func (i *vwap) Warmup(bars []bar.Bar) {
	for _, b := range bars {
		i.accumulate(b)
	}
}

func (i *vwap) Update(b bar.Bar) {
	i.accumulate(b)
}

func (i *vwap) accumulate(b bar.Bar) {
	typicalPrice := (b.High + b.Low + b.Close) / 3
	i.cumPV += typicalPrice * b.Volume
	i.cumVol += b.Volume
	i.barsSeen++
	if i.cumVol > 0 {
		i.data.Value = Value{Scalar: i.cumPV / i.cumVol}
	}
	requirement := i.cfg.Period
	if requirement < 1 {
		requirement = 1
	}
	i.data.Valid = i.barsSeen >= requirement
	i.data.UpdatedAt = b.Timestamp
}

func (i *vwap) Data() Data { return i.data }
