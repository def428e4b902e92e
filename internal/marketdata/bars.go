package marketdata

import (
	"math"
	"time"
)

// Bar is a single OHLCV observation. Timestamps are timezone-aware and
// converted to the market timezone before any window logic runs.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered bar window for one symbol.
type Series []Bar

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// LastClose returns the most recent close, or 0 for an empty series.
func (s Series) LastClose() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Close
}

// Returns computes bar-to-bar percentage changes, skipping zero
// denominators and non-finite values.
func (s Series) Returns() []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s)-1)
	for i := 1; i < len(s); i++ {
		prev := s[i-1].Close
		if prev == 0 {
			continue
		}
		r := (s[i].Close - prev) / prev
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ATRPct estimates average true range as a fraction of the last close.
// With usable high/low columns it averages true ranges over the last
// period bars; otherwise it falls back to the standard deviation of
// returns. Returns 0 when the series is too short.
func (s Series) ATRPct(period int) float64 {
	if period <= 0 || len(s) < 2 {
		return 0
	}
	last := s.LastClose()
	if last <= 0 {
		return 0
	}

	hasRange := false
	for _, b := range s {
		if b.High > b.Low {
			hasRange = true
			break
		}
	}

	if hasRange {
		start := len(s) - period
		if start < 1 {
			start = 1
		}
		sum, n := 0.0, 0
		for i := start; i < len(s); i++ {
			tr := math.Max(s[i].High-s[i].Low,
				math.Max(math.Abs(s[i].High-s[i-1].Close), math.Abs(s[i].Low-s[i-1].Close)))
			if tr > 0 && !math.IsNaN(tr) {
				sum += tr
				n++
			}
		}
		if n > 0 {
			return sum / float64(n) / last
		}
	}

	// Return-std proxy when high/low are flat or missing.
	rets := s.Returns()
	if len(rets) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	v := 0.0
	for _, r := range rets {
		v += (r - mean) * (r - mean)
	}
	return math.Sqrt(v / float64(len(rets)))
}

// FilterTradingWindow keeps only bars whose local time in loc falls within
// [startH:startM, endH:endM] inclusive.
func FilterTradingWindow(s Series, loc *time.Location, startH, startM, endH, endM int) Series {
	lo := startH*60 + startM
	hi := endH*60 + endM
	out := make(Series, 0, len(s))
	for _, b := range s {
		local := b.Timestamp.In(loc)
		m := local.Hour()*60 + local.Minute()
		if m >= lo && m <= hi {
			bb := b
			bb.Timestamp = local
			out = append(out, bb)
		}
	}
	return out
}
