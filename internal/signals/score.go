package signals

// Components holds the normalized per-signal scores for one symbol,
// loosely in [-1, +1]. Raw counterparts are retained for logging.
type Components struct {
	Momentum float64 `json:"momentum"`
	Meanrev  float64 `json:"meanrev"`
	Breakout float64 `json:"breakout"`
	News     float64 `json:"news"`
}

// Momentum scores distance of the last close from its short SMA.
// Returns 0 with insufficient history or a zero SMA.
func Momentum(closes []float64, short int) float64 {
	if short <= 0 || len(closes) < short {
		return 0
	}
	sma := mean(closes[len(closes)-short:])
	if sma == 0 {
		return 0
	}
	return (closes[len(closes)-1] - sma) / sma
}

// MeanReversion scores distance of the long SMA from the last close;
// positive means oversold (upward mean-reversion pressure).
func MeanReversion(closes []float64, long int) float64 {
	if long <= 0 || len(closes) < long {
		return 0
	}
	sma := mean(closes[len(closes)-long:])
	if sma == 0 {
		return 0
	}
	return (sma - closes[len(closes)-1]) / sma
}

// Breakout maps the last close's position within the prior lookback bars'
// high-low range onto [-1, +1]. The current bar is excluded from the range
// when history permits, so the defining bar cannot pin the score at ±1.
func Breakout(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) < lookback {
		return 0
	}

	last := closes[len(closes)-1]
	window := closes[len(closes)-lookback:]
	if len(closes) > lookback {
		window = closes[len(closes)-lookback-1 : len(closes)-1]
	}

	lo, hi := window[0], window[0]
	for _, c := range window[1:] {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	if hi == lo {
		return 0
	}

	pos := (last - lo) / (hi - lo) // 0..1 inside the range
	score := pos*2 - 1
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
