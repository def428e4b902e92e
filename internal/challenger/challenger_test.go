package challenger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/signals"
)

type fakeHistory struct {
	pnls   []float64
	exited bool
}

func (f fakeHistory) RecentPnLs(_ context.Context, _ string, n int) ([]float64, error) {
	if len(f.pnls) > n {
		return f.pnls[:n], nil
	}
	return f.pnls, nil
}

func (f fakeHistory) ExitedToday(_ context.Context, _ string, _ time.Time) (bool, error) {
	return f.exited, nil
}

func challengesDefaults() config.ChallengesConfig {
	return config.ChallengesConfig{
		DisagreementThreshold: 1.0,
		MaxConsecutiveLosses:  3,
	}
}

func allWeights() config.Weights {
	return config.Weights{Momentum: 0.4, Meanrev: 0.2, Breakout: 0.3, News: 0.1}
}

func bullHMM() regime.HMMPrediction {
	return regime.HMMPrediction{
		StateLabel:    "bull",
		Probabilities: []float64{0.8, 0.1, 0.1},
		Confidence:    0.8,
	}
}

func TestConsecutiveLossesBlock(t *testing.T) {
	history := fakeHistory{pnls: []float64{-12, -7, -4}}
	c := New(challengesDefaults(), allWeights(), history)

	plan := pm.Plan{
		Symbol: "X", Side: "BUY", Score: 0.40,
		Components: signals.Components{Momentum: 0.4, Meanrev: 0.3, Breakout: 0.5, News: 0.2},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())

	assert.Equal(t, VerdictReject, verdict)
	found := false
	for _, ch := range challenges {
		if ch.Agent == "loss_streak" {
			found = true
			assert.Equal(t, SeverityBlock, ch.Severity)
		}
	}
	assert.True(t, found, "loss streak challenge must be raised")
}

func TestLossStreakNotBlockedWithAWin(t *testing.T) {
	history := fakeHistory{pnls: []float64{-12, 5, -4}}
	c := New(challengesDefaults(), allWeights(), history)

	plan := pm.Plan{
		Symbol: "X", Side: "BUY", Score: 0.40,
		Components: signals.Components{Momentum: 0.4, Meanrev: 0.3, Breakout: 0.5, News: 0.2},
	}
	verdict, _ := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictPass, verdict)
}

func TestCleanCandidatePasses(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.5, Meanrev: 0.2, Breakout: 0.4, News: 0.3},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictPass, verdict)
	assert.Empty(t, challenges)
}

func TestSingleWarnIsCaution(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})
	// Only the news-absence warning should fire.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.5, Meanrev: 0.2, Breakout: 0.4, News: 0},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictCaution, verdict)
	require.Len(t, challenges, 1)
	assert.Equal(t, "news", challenges[0].Agent)
}

func TestTwoWarnsReject(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})
	// News absent plus mean reversion opposing the long.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.7, Meanrev: -0.6, Breakout: 0.4, News: 0},
	}
	verdict, _ := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictReject, verdict)
}

func TestDisagreementSeverity(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})

	// Spread 1.6 between momentum and meanrev escalates to block.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.8, Meanrev: -0.8, Breakout: 0.1, News: 0.2},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictReject, verdict)

	blocked := false
	for _, ch := range challenges {
		if ch.Agent == "disagreement" && ch.Severity == SeverityBlock {
			blocked = true
		}
	}
	assert.True(t, blocked)
}

func TestZeroNewsCountsTowardSpread(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})
	// Strong momentum against a flat news reading stretches the spread to
	// exactly the threshold; with the news-absence warn the pair rejects.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 1.0, Meanrev: 0.6, Breakout: 0.5, News: 0},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictReject, verdict)

	raised := false
	for _, ch := range challenges {
		if ch.Agent == "disagreement" {
			raised = true
			assert.Equal(t, SeverityWarn, ch.Severity)
		}
	}
	assert.True(t, raised, "flat news joins the active spread")
}

func TestRegimeMismatchWarns(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{})
	bear := regime.HMMPrediction{
		StateLabel:    "bear",
		Probabilities: []float64{0.1, 0.8, 0.1},
		Confidence:    0.8,
	}
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.5, Meanrev: 0.2, Breakout: 0.4, News: 0.3},
	}
	verdict, challenges := c.Review(context.Background(), plan, bear, time.Now())
	assert.Equal(t, VerdictCaution, verdict)
	require.Len(t, challenges, 1)
	assert.Equal(t, "regime", challenges[0].Agent)
}

func TestReentryWarns(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{exited: true})
	// All components agree and news is present: only the re-entry warn.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.5, Meanrev: 0.2, Breakout: 0.4, News: 0.3},
	}
	verdict, challenges := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictCaution, verdict)
	require.Len(t, challenges, 1)
	assert.Equal(t, "reentry", challenges[0].Agent)
}

func TestReentryWithoutAgreementRejects(t *testing.T) {
	c := New(challengesDefaults(), allWeights(), fakeHistory{exited: true})
	// Meanrev disagrees with the long: re-entry quality warn joins the
	// re-entry warn and the pair rejects.
	plan := pm.Plan{
		Symbol: "AAPL", Side: "BUY", Score: 0.5,
		Components: signals.Components{Momentum: 0.5, Meanrev: -0.2, Breakout: 0.4, News: 0.3},
	}
	verdict, _ := c.Review(context.Background(), plan, bullHMM(), time.Now())
	assert.Equal(t, VerdictReject, verdict)
}
