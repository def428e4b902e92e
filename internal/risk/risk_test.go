package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
)

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositions:          2,
		ATRPeriod:             5,
		MinATRPct:             0.003,
		MaxATRPct:             0.08,
		SectorFilterThreshold: -0.15,
	}
}

func barsWithRange(high, low float64) marketdata.Series {
	s := make(marketdata.Series, 10)
	for i := range s {
		s[i] = marketdata.Bar{Open: 100, High: high, Low: low, Close: 100}
	}
	return s
}

func TestATRBandDropsOutliers(t *testing.T) {
	e := New(riskConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	plans := []pm.Plan{
		{Symbol: "CALM", Side: "BUY", Score: 0.5},
		{Symbol: "WILD", Side: "BUY", Score: 0.6},
	}
	bars := map[string]marketdata.Series{
		"CALM": barsWithRange(101, 99),   // ATR 2%
		"WILD": barsWithRange(110, 90),   // ATR 20%, above the band
	}

	res := e.Evaluate(context.Background(), plans, pf, bars)
	assert.True(t, res.OK)
	require.Len(t, res.Plans, 1)
	assert.Equal(t, "CALM", res.Plans[0].Symbol)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "ATR")
}

func TestMissingBarsSkipATRCheck(t *testing.T) {
	e := New(riskConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	res := e.Evaluate(context.Background(), []pm.Plan{{Symbol: "NOBARS", Side: "BUY", Score: 0.5}}, pf, nil)
	assert.True(t, res.OK)
	assert.Len(t, res.Plans, 1, "zero ATR means no bar data, not a violation")
}

func TestExitsAndShortsSkipChecks(t *testing.T) {
	e := New(riskConfig(), nil)
	pf := portfolio.New(10000, 0, 0)

	plans := []pm.Plan{
		{Symbol: "WILD", Side: "SELL", Kind: pm.KindExit},
		{Symbol: "WILD2", Side: "SELL", Score: -0.5},
	}
	bars := map[string]marketdata.Series{
		"WILD":  barsWithRange(110, 90),
		"WILD2": barsWithRange(110, 90),
	}

	res := e.Evaluate(context.Background(), plans, pf, bars)
	assert.True(t, res.OK)
	assert.Len(t, res.Plans, 2)
}

func TestNetPositionCapFailsBatch(t *testing.T) {
	e := New(riskConfig(), nil) // max 2
	pf := portfolio.New(10000, 0, 0)
	_, err := pf.Execute("HELD1", "BUY", 10, 50)
	require.NoError(t, err)
	_, err = pf.Execute("HELD2", "BUY", 10, 50)
	require.NoError(t, err)

	plans := []pm.Plan{{Symbol: "NEW", Side: "BUY", Score: 0.5}}
	bars := map[string]marketdata.Series{"NEW": barsWithRange(101, 99)}

	res := e.Evaluate(context.Background(), plans, pf, bars)
	assert.False(t, res.OK)
	assert.Nil(t, res.Plans, "a failed batch clears every plan")
	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[len(res.Notes)-1], "max_positions")
}

func TestExitFreesASlot(t *testing.T) {
	e := New(riskConfig(), nil)
	pf := portfolio.New(10000, 0, 0)
	_, err := pf.Execute("HELD1", "BUY", 10, 50)
	require.NoError(t, err)
	_, err = pf.Execute("HELD2", "BUY", 10, 50)
	require.NoError(t, err)

	plans := []pm.Plan{
		{Symbol: "HELD1", Side: "SELL", Kind: pm.KindExit},
		{Symbol: "NEW", Side: "BUY", Score: 0.5},
	}
	bars := map[string]marketdata.Series{"NEW": barsWithRange(101, 99)}

	res := e.Evaluate(context.Background(), plans, pf, bars)
	assert.True(t, res.OK)
	assert.Len(t, res.Plans, 2, "the exit offsets the new entry")
}
