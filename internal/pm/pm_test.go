package pm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/portfolio"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/scout"
)

func pmConfig() *config.Config {
	cfg := config.Default()
	cfg.Signals.TradeThreshold = 0.15
	cfg.Signals.MaxTradesPerCycle = 3
	cfg.Signals.CorrelationThreshold = 0.7
	cfg.Signals.SizingMethod = config.SizingVolatility
	return cfg
}

func scored(composite float64) Scored {
	return Scored{Composite: composite}
}

func TestThresholdAdmitsAtExactly(t *testing.T) {
	p := New(pmConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "AT"}, {Symbol: "BELOW"}, {Symbol: "SHORT"}},
		Scores: map[string]Scored{
			"AT":    scored(0.15),
			"BELOW": scored(0.149),
			"SHORT": scored(-0.15),
		},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	require.Len(t, plans, 2)
	bySym := map[string]Plan{}
	for _, pl := range plans {
		bySym[pl.Symbol] = pl
	}
	assert.Equal(t, "BUY", bySym["AT"].Side, "score at the threshold enters")
	assert.Equal(t, "SELL", bySym["SHORT"].Side)
	assert.NotContains(t, bySym, "BELOW")
}

func TestDowntrendDropsBuys(t *testing.T) {
	p := New(pmConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "LONG"}, {Symbol: "SHORT"}},
		Scores: map[string]Scored{
			"LONG":  scored(0.5),
			"SHORT": scored(-0.5),
		},
		Regime: regime.Simple{SPYTrend: "bear"},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	require.Len(t, plans, 1)
	assert.Equal(t, "SHORT", plans[0].Symbol, "only the short survives a downtrend")
}

func TestNoPyramidingOnExistingLong(t *testing.T) {
	p := New(pmConfig(), nil)
	pf := portfolio.New(10000, 0, 0)
	_, err := pf.Execute("HELD", "BUY", 10, 50)
	require.NoError(t, err)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "HELD"}},
		Scores: map[string]Scored{"HELD": scored(0.6)},
	}
	assert.Empty(t, p.BuildPlans(context.Background(), in, pf))

	// A short signal on the held long is still allowed through.
	in.Scores["HELD"] = scored(-0.6)
	plans := p.BuildPlans(context.Background(), in, pf)
	require.Len(t, plans, 1)
	assert.Equal(t, "SELL", plans[0].Side)
}

func TestConvictionOrderingAndTradeCap(t *testing.T) {
	p := New(pmConfig(), nil) // max 3 per cycle
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}, {Symbol: "D"}},
		Scores: map[string]Scored{
			"A": scored(0.2),
			"B": scored(-0.8),
			"C": scored(0.5),
			"D": scored(0.3),
		},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	require.Len(t, plans, 3)
	assert.Equal(t, "B", plans[0].Symbol)
	assert.Equal(t, "C", plans[1].Symbol)
	assert.Equal(t, "D", plans[2].Symbol)
}

func TestCorrelationFilterDropsTwin(t *testing.T) {
	p := New(pmConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	base := []float64{100, 101, 99.5, 102, 101, 103.5, 104}
	twin := make([]float64, len(base)) // scaled copy, identical returns
	for i, c := range base {
		twin[i] = c * 2
	}
	flat := []float64{50, 50, 50, 50, 50, 50, 50} // zero-variance returns

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}},
		Scores: map[string]Scored{
			"A": scored(0.6),
			"B": scored(0.5),
			"C": scored(0.4),
		},
		Closes: map[string][]float64{"A": base, "B": twin, "C": flat},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	require.Len(t, plans, 2)
	assert.Equal(t, "A", plans[0].Symbol)
	assert.Equal(t, "C", plans[1].Symbol, "the perfectly correlated twin is dropped")
}

func TestCorrelationShortOverlapIsUncorrelated(t *testing.T) {
	p := New(pmConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	// Identical series, but only three overlapping returns.
	short := []float64{100, 101, 99.5, 102}
	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A"}, {Symbol: "B"}},
		Scores: map[string]Scored{"A": scored(0.6), "B": scored(0.5)},
		Closes: map[string][]float64{"A": short, "B": short},
	}
	plans := p.BuildPlans(context.Background(), in, pf)
	assert.Len(t, plans, 2)
}

func TestVolatilitySizing(t *testing.T) {
	cfg := pmConfig()
	cfg.Signals.MaxTradesPerCycle = 2
	p := New(cfg, nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A", Vol: 0.40}},
		Scores: map[string]Scored{"A": scored(0.5)},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	// Base 5000 scaled by clamp(0.20/0.40) = 0.5.
	require.Len(t, plans, 1)
	assert.InDelta(t, 2500, plans[0].TargetValue, 1e-9)
}

func TestFearHalvesSizing(t *testing.T) {
	cfg := pmConfig()
	cfg.Signals.MaxTradesPerCycle = 2
	p := New(cfg, nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A", Vol: 0.40}},
		Scores: map[string]Scored{"A": scored(-0.5)},
		Regime: regime.Simple{VIXLevel: "high"},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	require.Len(t, plans, 1)
	assert.InDelta(t, 1250, plans[0].TargetValue, 1e-9)
}

func TestFixedFractionalSizing(t *testing.T) {
	cfg := pmConfig()
	cfg.Signals.SizingMethod = config.SizingFixedFractional
	cfg.Signals.FixedFraction = 0.01
	cfg.Risk.StopLoss = 0.02
	p := New(cfg, nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A", Vol: 0.20}},
		Scores: map[string]Scored{"A": scored(0.5)},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	// Risk 1% of equity against a 2% stop.
	require.Len(t, plans, 1)
	assert.InDelta(t, 5000, plans[0].TargetValue, 1e-9)
}

func TestKellySizingIsCappedAndHalved(t *testing.T) {
	cfg := pmConfig()
	cfg.Signals.SizingMethod = config.SizingKelly
	cfg.Signals.MaxTradesPerCycle = 2
	p := New(cfg, nil)
	pf := portfolio.New(10000, 0, 0)

	in := Input{
		Ranked: []scout.Ranked{{Symbol: "A", Vol: 0.20}},
		Scores: map[string]Scored{"A": scored(0.5)},
	}
	plans := p.BuildPlans(context.Background(), in, pf)

	// Raw Kelly fraction clips at 0.25; half-Kelly gives 12.5% of equity.
	require.Len(t, plans, 1)
	assert.InDelta(t, 1250, plans[0].TargetValue, 1e-9)
	assert.False(t, plans[0].MemoryInfluenced)
}
