package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// DecisionKind tags what a weight suggestion means; callers switch on the
// kind instead of probing optional fields.
type DecisionKind int

const (
	// DecisionInsufficient: not enough resolved history to say anything.
	DecisionInsufficient DecisionKind = iota
	// DecisionAdjust: apply NewWeight.
	DecisionAdjust
	// DecisionDisable: memory influence is hurting; stop consulting it.
	DecisionDisable
)

// Decision is the outcome of SuggestWeightAdjustment.
type Decision struct {
	Kind       DecisionKind
	NewWeight  float64
	Adjustment float64
	Reason     string
}

// SuggestWeightAdjustment proposes a bounded multiplicative change to the
// agent's current signal weight based on its decay-weighted win rate.
//
// The auto-disable guard compares memory-influenced trades against the
// default cohort: when both have enough samples and the default cohort is
// profitable while the memory cohort underperforms it by more than
// underperform_threshold, memory disables itself for the rest of the run.
func (m *AgentMemory) SuggestWeightAdjustment(ctx context.Context, currentWeight float64) (Decision, error) {
	if m.disabled {
		return Decision{Kind: DecisionInsufficient, Reason: "memory disabled"}, nil
	}

	obs, err := m.Recall(ctx, "", "", m.cfg.RollingWindow)
	if err != nil {
		return Decision{}, err
	}

	var memPnL, memTotal, defPnL, defTotal float64
	var memN, defN, wins, resolved int
	var winW, totalW float64
	for _, o := range obs {
		if o.Outcome != OutcomeWin && o.Outcome != OutcomeLoss {
			continue
		}
		resolved++
		totalW += o.Weight
		if o.Outcome == OutcomeWin {
			wins++
			winW += o.Weight
		}
		if o.MemoryInfluenced {
			memN++
			memTotal += o.Weight
			memPnL += o.PnL * o.Weight
		} else {
			defN++
			defTotal += o.Weight
			defPnL += o.PnL * o.Weight
		}
	}

	if resolved < m.cfg.MinSamples || totalW == 0 {
		return Decision{Kind: DecisionInsufficient, Reason: "insufficient history"}, nil
	}

	if memN >= m.cfg.MinSamples && defN >= m.cfg.MinSamples && memTotal > 0 && defTotal > 0 {
		memAvg := memPnL / memTotal
		defAvg := defPnL / defTotal
		if defAvg > 0 && (defAvg-memAvg)/defAvg > m.cfg.UnderperformThresh {
			m.disabled = true
			reason := fmt.Sprintf("memory cohort avg pnl %.2f underperforms default %.2f", memAvg, defAvg)
			log.Warn().Str("agent", m.agent).Str("reason", reason).Msg("agent memory auto-disabled")
			return Decision{Kind: DecisionDisable, Reason: reason}, nil
		}
	}

	winRate := winW / totalW
	adjustment := (winRate - 0.5) * 2
	if adjustment > m.cfg.MaxAdjustment {
		adjustment = m.cfg.MaxAdjustment
	}
	if adjustment < -m.cfg.MaxAdjustment {
		adjustment = -m.cfg.MaxAdjustment
	}

	newWeight := currentWeight * (1 + adjustment)
	if newWeight < 0.01 {
		newWeight = 0.01
	}

	return Decision{
		Kind:       DecisionAdjust,
		NewWeight:  newWeight,
		Adjustment: adjustment,
		Reason:     fmt.Sprintf("win rate %.2f over %d resolved trades", winRate, resolved),
	}, nil
}

// Stats summarizes an agent's stored history for operator review.
type Stats struct {
	Agent      string
	Total      int
	Wins       int
	Losses     int
	Pending    int
	Influenced int
}

// AgentStats counts the agent's observations by outcome.
func (m *AgentMemory) AgentStats(ctx context.Context) (Stats, error) {
	obs, err := m.Recall(ctx, "", "", m.cfg.RollingWindow)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Agent: m.agent, Total: len(obs)}
	for _, o := range obs {
		switch o.Outcome {
		case OutcomeWin:
			st.Wins++
		case OutcomeLoss:
			st.Losses++
		default:
			st.Pending++
		}
		if o.MemoryInfluenced {
			st.Influenced++
		}
	}
	return st, nil
}
