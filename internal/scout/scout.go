package scout

import (
	"math"
	"sort"

	"github.com/quantfloor/engine/internal/marketdata"
)

// Ranked is one universe entry ordered by scan priority.
type Ranked struct {
	Symbol string  `json:"symbol"`
	Trend  float64 `json:"trend"`
	Vol    float64 `json:"vol"` // annualized return volatility
}

// Rank orders symbols by (trend descending, vol ascending) to gate heavy
// signal computation to the most promising names. Empty or single-bar
// series are skipped.
func Rank(windows map[string]marketdata.Series) []Ranked {
	ranked := make([]Ranked, 0, len(windows))
	for sym, series := range windows {
		if len(series) < 2 {
			continue
		}

		first := series[0].Close
		trend := 0.0
		if first != 0 {
			trend = (series.LastClose() - first) / first
		}

		ranked = append(ranked, Ranked{
			Symbol: sym,
			Trend:  trend,
			Vol:    annualizedVol(series.Returns()),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Trend != ranked[j].Trend {
			return ranked[i].Trend > ranked[j].Trend
		}
		return ranked[i].Vol < ranked[j].Vol
	})
	return ranked
}

// TopN truncates a ranking to its first n entries.
func TopN(ranked []Ranked, n int) []Ranked {
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

func annualizedVol(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	m := 0.0
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(252)
}
