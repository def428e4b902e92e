package regime

// Simple is the coarse SPY/VIX market regime consulted by the PM filters.
type Simple struct {
	SPYTrend string `json:"spy_trend"` // bull | bear | sideways
	VIXLevel string `json:"vix_level"` // low | high
	Label    string `json:"label"`     // e.g. "bull_low_vol"
}

// IsDowntrend reports whether BUY candidates should be suppressed.
func (s Simple) IsDowntrend() bool { return s.SPYTrend == "bear" }

// IsFear reports whether position sizes should be halved.
func (s Simple) IsFear() bool { return s.VIXLevel == "high" }

// DetectSimple classifies the market from SPY closes (20-period SMA
// distance) and the latest VIX reading (fear above 25). A missing VIX
// series defaults to calm.
func DetectSimple(spyCloses []float64, vix []float64) Simple {
	trend := "sideways"
	if len(spyCloses) > 0 {
		window := spyCloses
		if len(window) > 20 {
			window = window[len(window)-20:]
		}
		ma := 0.0
		for _, c := range window {
			ma += c
		}
		ma /= float64(len(window))

		current := spyCloses[len(spyCloses)-1]
		if ma != 0 {
			pct := (current - ma) / ma
			if pct > 0.01 {
				trend = "bull"
			} else if pct < -0.01 {
				trend = "bear"
			}
		}
	}

	vixLevel := "low"
	if len(vix) > 0 && vix[len(vix)-1] > 25 {
		vixLevel = "high"
	}

	return Simple{
		SPYTrend: trend,
		VIXLevel: vixLevel,
		Label:    trend + "_" + vixLevel + "_vol",
	}
}
