package signals

import "github.com/quantfloor/engine/internal/config"

// EffectiveWeights is the single renormalization point for partially
// applied weights. When the news component is absent (exactly zero) or
// zero-weighted, the remaining weights are rescaled so the composite stays
// calibrated against the trade threshold. Persistence logging and sizing
// must consume the same weights this returns.
func EffectiveWeights(c Components, w config.Weights) (config.Weights, float64) {
	used := w
	if c.News == 0 || w.News == 0 {
		used.News = 0
		rest := w.Momentum + w.Meanrev + w.Breakout
		if rest > 0 {
			used.Momentum = w.Momentum / rest
			used.Meanrev = w.Meanrev / rest
			used.Breakout = w.Breakout / rest
		}
	}

	composite := c.Momentum*used.Momentum +
		c.Meanrev*used.Meanrev +
		c.Breakout*used.Breakout +
		c.News*used.News
	return used, composite
}
