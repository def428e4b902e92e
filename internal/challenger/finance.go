package challenger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
)

// Sub-review thresholds. A caution verdict gets one more look before the
// candidate proceeds.
const (
	minCashRatio     = 0.15
	maxDailySymbolDD = -50.0 // dollars
)

// DailyPnL reports realized PnL for a symbol on a calendar day.
type DailyPnL interface {
	SymbolPnLOn(ctx context.Context, symbol string, day time.Time) (float64, error)
}

// FinanceReview is the deterministic rule bundle applied to single-warn
// cautions.
type FinanceReview struct {
	cautionMinScore float64
	maxPositions    int
	pnl             DailyPnL
}

// NewFinanceReview builds the sub-review.
func NewFinanceReview(cautionMinScore float64, maxPositions int, pnl DailyPnL) *FinanceReview {
	return &FinanceReview{cautionMinScore: cautionMinScore, maxPositions: maxPositions, pnl: pnl}
}

// Approve decides whether a caution candidate may proceed. Rejections name
// the rule that fired.
func (f *FinanceReview) Approve(ctx context.Context, plan pm.Plan, pf *portfolio.Portfolio, now time.Time) (bool, string) {
	if equity := pf.Equity(); equity > 0 && pf.Cash/equity < minCashRatio {
		return false, fmt.Sprintf("cash ratio %.2f below %.2f", pf.Cash/equity, minCashRatio)
	}

	if plan.Side == "BUY" && len(pf.Positions) >= f.maxPositions {
		return false, "buying at max positions"
	}

	if math.Abs(plan.Score) < f.cautionMinScore {
		return false, fmt.Sprintf("conviction %.2f below caution floor %.2f", math.Abs(plan.Score), f.cautionMinScore)
	}

	if f.pnl != nil {
		pnl, err := f.pnl.SymbolPnLOn(ctx, plan.Symbol, now)
		if err == nil && pnl < maxDailySymbolDD {
			return false, fmt.Sprintf("symbol already down $%.0f today", -pnl)
		}
	}

	return true, ""
}
