package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
)

func TestEffectiveWeightsRenormalizesWithoutNews(t *testing.T) {
	weights := config.Weights{Momentum: 0.4, Meanrev: 0.2, Breakout: 0.3, News: 0.1}
	components := Components{Momentum: 0.6, Meanrev: -0.1, Breakout: 0.5, News: 0}

	used, composite := EffectiveWeights(components, weights)

	require.InDelta(t, 0.4111111, composite, 1e-6)
	assert.True(t, composite >= 0.15, "renormalized score should clear the trade threshold")

	assert.InDelta(t, 0.4/0.9, used.Momentum, 1e-9)
	assert.InDelta(t, 0.2/0.9, used.Meanrev, 1e-9)
	assert.InDelta(t, 0.3/0.9, used.Breakout, 1e-9)
	assert.Zero(t, used.News)
}

func TestEffectiveWeightsKeepsNewsWhenPresent(t *testing.T) {
	weights := config.Weights{Momentum: 0.4, Meanrev: 0.2, Breakout: 0.3, News: 0.1}
	components := Components{Momentum: 0.5, Meanrev: 0.5, Breakout: 0.5, News: 0.5}

	used, composite := EffectiveWeights(components, weights)

	assert.Equal(t, weights, used)
	assert.InDelta(t, 0.5, composite, 1e-9)
}

func TestEffectiveWeightsZeroNewsWeight(t *testing.T) {
	weights := config.Weights{Momentum: 0.5, Meanrev: 0.25, Breakout: 0.25, News: 0}
	components := Components{Momentum: 1, Meanrev: 1, Breakout: 1, News: 0.9}

	used, composite := EffectiveWeights(components, weights)

	// News carries data but zero weight: remaining weights stay normalized.
	assert.Zero(t, used.News)
	assert.InDelta(t, 1.0, composite, 1e-9)
}

func TestMomentumScore(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 110}
	// SMA(10) = 101, last = 110.
	got := Momentum(closes, 10)
	assert.InDelta(t, (110.0-101.0)/101.0, got, 1e-9)

	assert.Zero(t, Momentum([]float64{100, 101}, 10), "insufficient history is neutral")
}

func TestMeanReversionScore(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[19] = 90
	// Oversold: positive upward pressure.
	assert.Greater(t, MeanReversion(closes, 20), 0.0)
}

func TestBreakoutExcludesCurrentBar(t *testing.T) {
	// Prior range [90, 110]; current bar spikes to 120. Without excluding
	// the current bar the score would pin at the defining bar.
	closes := []float64{90, 95, 100, 105, 110, 100, 95, 90, 100, 105, 120}
	got := Breakout(closes, 10)
	assert.InDelta(t, 1.0, got, 1e-9, "close above the prior range clamps to +1")

	closes[len(closes)-1] = 100 // midpoint of prior [90, 110]
	assert.InDelta(t, 0.0, Breakout(closes, 10), 1e-9)
}
