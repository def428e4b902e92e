package signals

import (
	"math"
	"sync"
)

const minSamplesForZ = 10

// Normalizer maps raw signal scores to [-1, +1] using a rolling z-score
// per signal family. With fewer than ten samples, or a degenerate
// zero-variance window, it falls back to tanh scaling.
type Normalizer struct {
	mu       sync.Mutex
	lookback int
	history  map[string][]float64
}

// NewNormalizer creates a normalizer with the given per-family buffer size.
func NewNormalizer(lookback int) *Normalizer {
	if lookback <= 0 {
		lookback = 100
	}
	return &Normalizer{
		lookback: lookback,
		history:  make(map[string][]float64),
	}
}

// Normalize records raw for the family and returns the normalized score.
func (n *Normalizer) Normalize(family string, raw float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	buf := append(n.history[family], raw)
	if len(buf) > n.lookback {
		buf = buf[len(buf)-n.lookback:]
	}
	n.history[family] = buf

	if len(buf) < minSamplesForZ {
		return tanhScale(raw)
	}

	m := mean(buf)
	variance := 0.0
	for _, x := range buf {
		variance += (x - m) * (x - m)
	}
	std := math.Sqrt(variance / float64(len(buf)))
	if std < 1e-10 {
		return tanhScale(raw)
	}

	z := (raw - m) / std
	return clamp(z/3, -1, 1) // ±3σ maps to ±1
}

// tanhScale maps any raw range into (-1, +1); the ×100 keeps typical
// intraday return magnitudes (~0.005) in the responsive part of the curve.
func tanhScale(raw float64) float64 {
	return math.Tanh(raw * 100)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
