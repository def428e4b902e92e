package risk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
	"github.com/quantfloor/engine/internal/sector"
)

// Result is the risk verdict for one plan batch.
type Result struct {
	Plans []pm.Plan
	Notes []string
	OK    bool
}

// Evaluator drops entry candidates with out-of-band volatility or sour
// sector sentiment, then verifies the batch cannot exceed max_positions.
type Evaluator struct {
	cfg     config.RiskConfig
	sectors *sector.Filter // nil disables the sector check
}

// New builds a risk evaluator. sectors may be nil.
func New(cfg config.RiskConfig, sectors *sector.Filter) *Evaluator {
	return &Evaluator{cfg: cfg, sectors: sectors}
}

// Evaluate filters the batch. Forced exits and SELL entries skip the
// per-candidate checks. A net position count over max_positions fails the
// whole evaluation; the caller clears the plan and logs an event.
func (e *Evaluator) Evaluate(ctx context.Context, plans []pm.Plan, pf *portfolio.Portfolio, bars map[string]marketdata.Series) Result {
	res := Result{OK: true}

	for _, p := range plans {
		if p.IsExit() || p.Side == "SELL" {
			res.Plans = append(res.Plans, p)
			continue
		}

		atr := bars[p.Symbol].ATRPct(e.cfg.ATRPeriod)
		if atr > 0 && (atr < e.cfg.MinATRPct || atr > e.cfg.MaxATRPct) {
			note := fmt.Sprintf("%s dropped: ATR %.2f%% outside [%.2f%%, %.2f%%]",
				p.Symbol, atr*100, e.cfg.MinATRPct*100, e.cfg.MaxATRPct*100)
			res.Notes = append(res.Notes, note)
			log.Info().Str("symbol", p.Symbol).Float64("atr_pct", atr).Msg("risk: ATR band drop")
			continue
		}

		if e.sectors != nil {
			if sent := e.sectors.Sentiment(ctx, p.Symbol); sent < e.cfg.SectorFilterThreshold {
				note := fmt.Sprintf("%s dropped: sector sentiment %.2f below %.2f",
					p.Symbol, sent, e.cfg.SectorFilterThreshold)
				res.Notes = append(res.Notes, note)
				log.Info().Str("symbol", p.Symbol).Float64("sentiment", sent).Msg("risk: sector drop")
				continue
			}
		}

		res.Plans = append(res.Plans, p)
	}

	exits, entries := 0, 0
	for _, p := range res.Plans {
		if p.IsExit() {
			exits++
		} else {
			entries++
		}
	}
	net := len(pf.Positions) - exits + entries
	if net > e.cfg.MaxPositions {
		res.OK = false
		res.Notes = append(res.Notes, fmt.Sprintf(
			"net position count %d would exceed max_positions %d", net, e.cfg.MaxPositions))
		res.Plans = nil
	}
	return res
}
