package exits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
)

func riskDefaults() config.RiskConfig {
	return config.RiskConfig{
		Equity:            5000,
		MaxPositions:      2,
		StopLoss:          0.02,
		ATRStopMultiplier: 2.0,
		ATRPeriod:         14,
		BreakevenTrigger:  0.02,
		TrailTrigger:      0.025,
		TrailPct:          0.012,
		WideTrailTrigger:  0.50,
		WideTrailPct:      0.025,
		TakeProfit:        0.06,
		PortfolioKillPct:  0.03,
	}
}

func TestKillSwitchClosesEverything(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 100)
	require.NoError(t, err)
	_, err = pf.Execute("BBB", "BUY", 20, 50)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 92, "BBB": 46})

	// Unrealized -160 against equity 4840 is a 3.3% drawdown.
	m := New(riskDefaults())
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.Equal(t, "SELL", p.Side)
		assert.Equal(t, pm.KindExit, p.Kind)
		assert.Contains(t, p.Reason, "kill switch")
	}
}

func TestKillSwitchNotTrippedBelowThreshold(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 99.5})

	m := New(riskDefaults())
	assert.Empty(t, m.ForcedExits(pf, nil))
}

func TestHardStopLoss(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 97})

	// No bar data: the 2% hard stop applies and -3% breaches it.
	m := New(riskDefaults())
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 1)
	assert.Equal(t, "SELL", plans[0].Side)
	assert.Contains(t, plans[0].Reason, "stop loss")
}

func TestTrailingStopAfterPeakGain(t *testing.T) {
	cfg := riskDefaults()
	cfg.TakeProfit = 0.50 // keep take profit out of the way

	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 50)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 60})
	pf.MarkToMarket(map[string]float64{"AAA": 58.5})

	// Peak gain 20% armed the trail; -2.5% off the high watermark breaches
	// the 1.2% trail.
	m := New(cfg)
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 1)
	assert.Equal(t, "SELL", plans[0].Side)
	assert.Contains(t, plans[0].Reason, "trailing")
}

func TestWideTrailVariant(t *testing.T) {
	cfg := riskDefaults()
	cfg.WideTrailTrigger = 0.10
	cfg.TakeProfit = 0.50 // keep take profit out of the way

	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 50)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 60})
	pf.MarkToMarket(map[string]float64{"AAA": 59})

	// Peak 20% is past the wide trigger, so the wider 2.5% trail applies
	// and a 1.67% pullback survives.
	m := New(cfg)
	assert.Empty(t, m.ForcedExits(pf, nil))

	pf.MarkToMarket(map[string]float64{"AAA": 58})
	plans := m.ForcedExits(pf, nil)
	require.Len(t, plans, 1)
	assert.Contains(t, plans[0].Reason, "trailing")
}

func TestTakeProfit(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 107})

	m := New(riskDefaults())
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 1)
	assert.Contains(t, plans[0].Reason, "take profit")
}

func TestBreakevenStop(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 100, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 102.4}) // peak 2.4%, below trail trigger
	pf.MarkToMarket(map[string]float64{"AAA": 99.5})  // back under water, above the stop

	m := New(riskDefaults())
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 1)
	assert.Contains(t, plans[0].Reason, "breakeven")
}

func TestShortTrailingStop(t *testing.T) {
	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "SELL", 10, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 95})   // peak gain 5%
	pf.MarkToMarket(map[string]float64{"AAA": 96.5}) // +1.58% off the low

	m := New(riskDefaults())
	plans := m.ForcedExits(pf, nil)

	require.Len(t, plans, 1)
	assert.Equal(t, "BUY", plans[0].Side, "short exits buy to cover")
}

func TestATRStopFromBars(t *testing.T) {
	cfg := riskDefaults()
	cfg.ATRStopMultiplier = 1.0
	cfg.ATRPeriod = 5

	bars := make(marketdata.Series, 10)
	for i := range bars {
		bars[i] = marketdata.Bar{Open: 100, High: 101, Low: 99, Close: 100}
	}
	// ATR 2% of price, clamped band keeps it; stop = 2%.

	pf := portfolio.New(5000, 0, 0)
	_, err := pf.Execute("AAA", "BUY", 10, 100)
	require.NoError(t, err)
	pf.MarkToMarket(map[string]float64{"AAA": 97.5})

	m := New(cfg)
	plans := m.ForcedExits(pf, map[string]marketdata.Series{"AAA": bars})
	require.Len(t, plans, 1)
	assert.Contains(t, plans[0].Reason, "stop loss")
}

func TestCapEntriesKeepsHighestConviction(t *testing.T) {
	m := New(riskDefaults()) // max positions 2

	plans := []pm.Plan{
		{Symbol: "EXIT1", Kind: pm.KindExit, Side: "SELL"},
		{Symbol: "LOW", Score: 0.2, Side: "BUY"},
		{Symbol: "HIGH", Score: -0.9, Side: "SELL"},
		{Symbol: "MID", Score: 0.5, Side: "BUY"},
	}

	got := m.CapEntries(plans, 1) // one slot left

	require.Len(t, got, 2)
	assert.Equal(t, "EXIT1", got[0].Symbol, "exits always pass")
	assert.Equal(t, "HIGH", got[1].Symbol, "highest |score| wins the slot")
}

func TestCapEntriesAtMaxPositions(t *testing.T) {
	m := New(riskDefaults())
	plans := []pm.Plan{
		{Symbol: "EXIT1", Kind: pm.KindExit, Side: "SELL"},
		{Symbol: "NEW", Score: 0.9, Side: "BUY"},
	}

	got := m.CapEntries(plans, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "EXIT1", got[0].Symbol, "forced exits execute even at max positions")
}
