package challenger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/regime"
)

// Severity of a single challenge.
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityBlock
)

func (s Severity) String() string {
	if s == SeverityBlock {
		return "block"
	}
	return "warn"
}

// Challenge is one objection raised against a candidate.
type Challenge struct {
	Agent    string
	Severity Severity
	Reason   string
}

// Verdict is the aggregate decision over all challenges.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictCaution // exactly one warn: route to finance sub-review
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictCaution:
		return "caution"
	case VerdictReject:
		return "reject"
	default:
		return "pass"
	}
}

// History is the slice of the trade log the challenger consults.
type History interface {
	RecentPnLs(ctx context.Context, symbol string, n int) ([]float64, error)
	ExitedToday(ctx context.Context, symbol string, day time.Time) (bool, error)
}

// Challenger runs the rule-based veto set against each entry candidate.
type Challenger struct {
	cfg     config.ChallengesConfig
	weights config.Weights
	history History
}

// New builds a challenger over the configured rules and trade history.
func New(cfg config.ChallengesConfig, weights config.Weights, history History) *Challenger {
	return &Challenger{cfg: cfg, weights: weights, history: history}
}

// Review raises challenges against one candidate and folds them into a
// verdict: any block rejects, two or more warns reject, exactly one warn
// is a caution for the finance sub-review.
func (c *Challenger) Review(ctx context.Context, plan pm.Plan, hmm regime.HMMPrediction, now time.Time) (Verdict, []Challenge) {
	var challenges []Challenge
	add := func(agent string, sev Severity, reason string) {
		challenges = append(challenges, Challenge{Agent: agent, Severity: sev, Reason: reason})
	}

	active := c.activeComponents(plan)

	// 1. Signal disagreement among active components.
	if len(active) >= 2 {
		lo, hi := active[0], active[0]
		for _, v := range active[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if spread := hi - lo; spread >= c.cfg.DisagreementThreshold {
			sev := SeverityWarn
			if spread >= 1.5 {
				sev = SeverityBlock
			}
			add("disagreement", sev, fmt.Sprintf("signal spread %.2f", spread))
		}
	}

	// 2 + 3. Re-entry, and signal quality on re-entry.
	reentered := false
	if c.history != nil {
		exited, err := c.history.ExitedToday(ctx, plan.Symbol, now)
		if err != nil {
			log.Warn().Err(err).Str("symbol", plan.Symbol).Msg("re-entry check failed")
		} else if exited {
			reentered = true
			add("reentry", SeverityWarn, "symbol already exited today")
		}
	}
	if reentered {
		dir := 1.0
		if plan.Side == "SELL" {
			dir = -1
		}
		aligned := plan.Components.News != 0
		for _, v := range active {
			if v*dir <= 0 {
				aligned = false
			}
		}
		if !aligned {
			add("reentry_quality", SeverityWarn, "re-entry without full signal agreement and news")
		}
	}

	// 4. Regime mismatch against the HMM posterior.
	if len(hmm.Probabilities) > regime.StateBear {
		if plan.Side == "BUY" && hmm.Probabilities[regime.StateBear] > 0.75 {
			add("regime", SeverityWarn, fmt.Sprintf("buying with bear probability %.2f", hmm.Probabilities[regime.StateBear]))
		}
		if plan.Side == "SELL" && hmm.Probabilities[regime.StateBull] > 0.75 {
			add("regime", SeverityWarn, fmt.Sprintf("shorting with bull probability %.2f", hmm.Probabilities[regime.StateBull]))
		}
	}

	// 5. News absence.
	if plan.Components.News == 0 {
		add("news", SeverityWarn, "no news signal")
	}

	// 6. Consecutive losses.
	if c.history != nil && c.cfg.MaxConsecutiveLosses > 0 {
		pnls, err := c.history.RecentPnLs(ctx, plan.Symbol, c.cfg.MaxConsecutiveLosses)
		if err != nil {
			log.Warn().Err(err).Str("symbol", plan.Symbol).Msg("loss streak check failed")
		} else if len(pnls) == c.cfg.MaxConsecutiveLosses && allNegative(pnls) {
			add("loss_streak", SeverityBlock,
				fmt.Sprintf("last %d trades all losses", c.cfg.MaxConsecutiveLosses))
		}
	}

	// 7. Mean-reversion opposition, longs only.
	if plan.Side == "BUY" && plan.Components.Meanrev < -0.5 {
		add("meanrev", SeverityWarn, fmt.Sprintf("mean reversion opposes long (%.2f)", plan.Components.Meanrev))
	}

	return decide(challenges), challenges
}

func (c *Challenger) activeComponents(plan pm.Plan) []float64 {
	var active []float64
	if c.weights.Momentum != 0 {
		active = append(active, plan.Components.Momentum)
	}
	if c.weights.Meanrev != 0 {
		active = append(active, plan.Components.Meanrev)
	}
	if c.weights.Breakout != 0 {
		active = append(active, plan.Components.Breakout)
	}
	// A zero news reading still counts toward the spread; only a zero
	// weight disables the component.
	if c.weights.News != 0 {
		active = append(active, plan.Components.News)
	}
	return active
}

func decide(challenges []Challenge) Verdict {
	warns := 0
	for _, ch := range challenges {
		if ch.Severity == SeverityBlock {
			return VerdictReject
		}
		warns++
	}
	switch {
	case warns == 0:
		return VerdictPass
	case warns == 1:
		return VerdictCaution
	default:
		return VerdictReject
	}
}

func allNegative(pnls []float64) bool {
	for _, p := range pnls {
		if p >= 0 {
			return false
		}
	}
	return len(pnls) > 0
}
