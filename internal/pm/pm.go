package pm

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/memory"
	"github.com/quantfloor/engine/internal/portfolio"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/scout"
	"github.com/quantfloor/engine/internal/signals"
)

// Scored is one symbol's composite signal with the components and weights
// actually applied.
type Scored struct {
	Components  signals.Components
	WeightsUsed config.Weights
	Composite   float64
}

// Input carries everything candidate construction needs for one cycle.
type Input struct {
	Ranked []scout.Ranked
	Scores map[string]Scored
	Closes map[string][]float64
	Regime regime.Simple
}

// PM turns ranked, scored symbols into sized entry plans. Sizing method
// and all thresholds come from configuration; agent memory, when enabled,
// gets a bounded say in the final score.
type PM struct {
	cfg *config.Config
	mem *memory.AgentMemory // nil when memory is disabled
}

// New builds a PM. mem may be nil.
func New(cfg *config.Config, mem *memory.AgentMemory) *PM {
	return &PM{cfg: cfg, mem: mem}
}

// BuildPlans runs candidate construction: threshold, regime filter,
// conviction ordering, correlation filter, sizing, memory adjustment.
func (p *PM) BuildPlans(ctx context.Context, in Input, pf *portfolio.Portfolio) []Plan {
	threshold := p.cfg.Signals.TradeThreshold
	maxTrades := p.cfg.Signals.MaxTradesPerCycle
	if maxTrades <= 0 {
		maxTrades = p.cfg.Risk.MaxPositions
	}

	var candidates []Plan
	for _, r := range in.Ranked {
		sc, ok := in.Scores[r.Symbol]
		if !ok {
			continue
		}
		score := sc.Composite

		// Suppress longs in a downtrend.
		if in.Regime.IsDowntrend() && score > 0 {
			continue
		}
		// Already long: no pyramiding; shorts may still open.
		if pos := pf.Positions[r.Symbol]; pos != nil && pos.Quantity > 0 && score > 0 {
			continue
		}

		side := ""
		switch {
		case score >= threshold:
			side = "BUY"
		case score <= -threshold:
			side = "SELL"
		default:
			continue
		}

		candidates = append(candidates, Plan{
			Symbol:     r.Symbol,
			Side:       side,
			Kind:       KindEntry,
			Score:      score,
			Components: sc.Components,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].Score) > math.Abs(candidates[j].Score)
	})

	selected := p.correlationFilter(candidates, in.Closes, maxTrades)

	volBySym := make(map[string]float64, len(in.Ranked))
	for _, r := range in.Ranked {
		volBySym[r.Symbol] = r.Vol
	}

	equity := pf.Equity()
	for i := range selected {
		selected[i].TargetValue = p.size(selected[i], equity, volBySym[selected[i].Symbol], in.Regime)
	}

	p.applyMemory(ctx, selected)
	return selected
}

// correlationFilter walks candidates in conviction order and drops any
// whose return correlation with an already-selected symbol exceeds the
// configured threshold. Fewer than five overlapping returns counts as
// uncorrelated.
func (p *PM) correlationFilter(candidates []Plan, closes map[string][]float64, maxTrades int) []Plan {
	threshold := p.cfg.Signals.CorrelationThreshold
	var selected []Plan
	for _, c := range candidates {
		if len(selected) >= maxTrades {
			break
		}
		tooCorrelated := false
		for _, s := range selected {
			corr := pearson(pctChanges(closes[c.Symbol]), pctChanges(closes[s.Symbol]))
			if math.Abs(corr) > threshold {
				log.Debug().Str("symbol", c.Symbol).Str("against", s.Symbol).
					Float64("corr", corr).Msg("candidate dropped by correlation filter")
				tooCorrelated = true
				break
			}
		}
		if !tooCorrelated {
			selected = append(selected, c)
		}
	}
	return selected
}

func (p *PM) size(plan Plan, equity, annualVol float64, reg regime.Simple) float64 {
	if annualVol <= 0 {
		annualVol = 0.20
	}
	maxTrades := float64(p.cfg.Signals.MaxTradesPerCycle)
	if maxTrades <= 0 {
		maxTrades = float64(p.cfg.Risk.MaxPositions)
	}

	var dollars float64
	switch p.cfg.Signals.SizingMethod {
	case config.SizingFixedFractional:
		stop := p.cfg.Risk.StopLoss
		if stop <= 0 {
			stop = 0.02
		}
		dollars = equity * p.cfg.Signals.FixedFraction / stop

	case config.SizingKelly:
		// Half-Kelly on a synthetic edge from conviction.
		edge := math.Min(math.Abs(plan.Score), 1) * 0.1
		pWin := 0.5 + edge
		b := 1 / annualVol
		f := (pWin*b - (1 - pWin)) / b
		if f < 0 {
			f = 0
		}
		if f > 0.25 {
			f = 0.25
		}
		dollars = math.Min(equity*f*0.5, equity/maxTrades)

	default: // volatility
		base := equity / maxTrades
		factor := 0.20 / annualVol
		if factor < 0.5 {
			factor = 0.5
		}
		if factor > 1.5 {
			factor = 1.5
		}
		dollars = base * factor
	}

	if reg.IsFear() {
		dollars *= 0.5
	}
	return dollars
}

// applyMemory consults agent memory for a weight suggestion and applies a
// bounded multiplicative score adjustment to every surviving plan. A
// disable decision stops memory influence for the rest of the run.
func (p *PM) applyMemory(ctx context.Context, plans []Plan) {
	if p.mem == nil || p.mem.Disabled() || len(plans) == 0 {
		return
	}

	dec, err := p.mem.SuggestWeightAdjustment(ctx, 1.0)
	if err != nil {
		log.Warn().Err(err).Msg("memory suggestion failed")
		return
	}
	switch dec.Kind {
	case memory.DecisionDisable:
		log.Warn().Str("reason", dec.Reason).Msg("memory influence disabled for this run")
	case memory.DecisionAdjust:
		for i := range plans {
			plans[i].Score *= 1 + dec.Adjustment
			plans[i].MemoryInfluenced = true
		}
		log.Info().Float64("adjustment", dec.Adjustment).Str("reason", dec.Reason).
			Msg("memory-adjusted plan scores")
	}
}

func pctChanges(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// pearson computes the correlation over the overlapping tail of two
// return series. Fewer than five overlapping points returns 0.
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 5 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)

	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
