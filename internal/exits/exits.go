package exits

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
)

// ATR-derived stops stay inside this band regardless of configuration.
const (
	minStopPct = 0.005
	maxStopPct = 0.05
)

// Manager re-evaluates open positions each cycle and emits forced exits.
// Forced exits bypass entry-side gates and execute ahead of new entries.
type Manager struct {
	cfg config.RiskConfig
}

// New builds an exit manager from the risk section.
func New(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// ForcedExits walks the stop ladder for every open position. The portfolio
// kill switch short-circuits everything: when aggregate unrealized loss
// reaches portfolio_kill_pct of equity, every position closes this cycle.
func (m *Manager) ForcedExits(pf *portfolio.Portfolio, bars map[string]marketdata.Series) []pm.Plan {
	if len(pf.Positions) == 0 {
		return nil
	}

	if m.killSwitch(pf) {
		plans := make([]pm.Plan, 0, len(pf.Positions))
		for sym := range pf.Positions {
			if p, ok := m.closePlan(pf, sym, "portfolio kill switch"); ok {
				plans = append(plans, p)
			}
		}
		sortPlans(plans)
		log.Warn().Int("positions", len(plans)).Msg("portfolio kill switch tripped")
		return plans
	}

	var plans []pm.Plan
	for sym, pos := range pf.Positions {
		reason, exit := m.evaluate(pos, bars[sym])
		if !exit {
			continue
		}
		if p, ok := m.closePlan(pf, sym, reason); ok {
			plans = append(plans, p)
		}
	}
	sortPlans(plans)
	return plans
}

func (m *Manager) killSwitch(pf *portfolio.Portfolio) bool {
	unreal := pf.TotalUnrealized()
	if unreal >= 0 {
		return false
	}
	equity := pf.Equity()
	if equity <= 0 {
		return true
	}
	return -unreal/equity >= m.cfg.PortfolioKillPct
}

// evaluate runs the per-position stop ladder in priority order: take
// profit, ATR stop, trailing, breakeven.
func (m *Manager) evaluate(pos *portfolio.Position, bars marketdata.Series) (string, bool) {
	entryPnL := pos.EntryPnLPct()
	peak := pos.PeakGain()

	if entryPnL >= m.cfg.TakeProfit {
		return fmt.Sprintf("take profit at %+.1f%%", entryPnL*100), true
	}

	stop := m.stopPct(bars)
	if entryPnL <= -stop {
		return fmt.Sprintf("stop loss at %+.1f%% (stop %.1f%%)", entryPnL*100, stop*100), true
	}

	if peak >= m.cfg.TrailTrigger {
		trail := m.cfg.TrailPct
		if peak >= m.cfg.WideTrailTrigger {
			trail = m.cfg.WideTrailPct
		}
		if pos.Quantity > 0 {
			if pos.HighestPrice > 0 {
				dd := (pos.CurrentPrice - pos.HighestPrice) / pos.HighestPrice
				if dd <= -trail {
					return fmt.Sprintf("trailing stop, %+.1f%% off high watermark", dd*100), true
				}
			}
		} else if pos.LowestPrice > 0 {
			up := (pos.CurrentPrice - pos.LowestPrice) / pos.LowestPrice
			if up >= trail {
				return fmt.Sprintf("trailing stop, %+.1f%% off low watermark", up*100), true
			}
		}
	} else if peak >= m.cfg.BreakevenTrigger && entryPnL <= 0 {
		return "breakeven stop after giving back gains", true
	}

	return "", false
}

// stopPct derives the effective stop distance: ATR-scaled when bar data
// allows, clamped to [0.5%, 5%], otherwise the configured hard stop.
func (m *Manager) stopPct(bars marketdata.Series) float64 {
	atr := bars.ATRPct(m.cfg.ATRPeriod)
	if atr <= 0 {
		return m.cfg.StopLoss
	}
	stop := atr * m.cfg.ATRStopMultiplier
	if stop < minStopPct {
		stop = minStopPct
	}
	if stop > maxStopPct {
		stop = maxStopPct
	}
	return stop
}

func (m *Manager) closePlan(pf *portfolio.Portfolio, symbol, reason string) (pm.Plan, bool) {
	qty, side := pf.ClosingQuantity(symbol)
	if qty == 0 {
		return pm.Plan{}, false
	}
	return pm.Plan{
		Symbol:   symbol,
		Side:     side,
		Kind:     pm.KindExit,
		Quantity: qty,
		Reason:   reason,
	}, true
}

func sortPlans(plans []pm.Plan) {
	sort.Slice(plans, func(i, j int) bool { return plans[i].Symbol < plans[j].Symbol })
}

// CapEntries keeps at most max_positions minus currently-held entries,
// highest conviction first. Exit plans always pass through.
func (m *Manager) CapEntries(plans []pm.Plan, currentPositions int) []pm.Plan {
	slots := m.cfg.MaxPositions - currentPositions
	if slots < 0 {
		slots = 0
	}

	var exits, entries []pm.Plan
	for _, p := range plans {
		if p.IsExit() {
			exits = append(exits, p)
		} else {
			entries = append(entries, p)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return math.Abs(entries[i].Score) > math.Abs(entries[j].Score)
	})
	if len(entries) > slots {
		log.Debug().Int("dropped", len(entries)-slots).Msg("entry plans over max positions dropped")
		entries = entries[:slots]
	}

	return append(exits, entries...)
}
