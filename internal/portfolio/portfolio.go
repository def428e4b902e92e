package portfolio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPrice marks an execution skipped for a non-positive or
// non-finite price. Callers warn and continue with the remaining plans.
var ErrInvalidPrice = errors.New("invalid execution price")

// Position is signed inventory in one symbol. Quantity > 0 is long,
// < 0 short. Watermarks track the extreme prices seen over the position's
// lifetime and feed the trailing and breakeven stops.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	HighestPrice float64 `json:"highest_price"`
	LowestPrice  float64 `json:"lowest_price"`
}

// UnrealizedPnL is marked-to-market profit. The signed quantity makes the
// same expression correct for shorts.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgPrice) * float64(p.Quantity)
}

// EntryPnLPct is the gain fraction relative to cost basis, positive when
// the position is winning.
func (p *Position) EntryPnLPct() float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	pct := (p.CurrentPrice - p.AvgPrice) / p.AvgPrice
	if p.Quantity < 0 {
		return -pct
	}
	return pct
}

// PeakGain is the best gain fraction the position has seen: for longs the
// high watermark against cost, for shorts the low watermark.
func (p *Position) PeakGain() float64 {
	if p.AvgPrice == 0 {
		return 0
	}
	if p.Quantity < 0 {
		return (p.AvgPrice - p.LowestPrice) / p.AvgPrice
	}
	return (p.HighestPrice - p.AvgPrice) / p.AvgPrice
}

// Fill reports what one execution actually did after slippage and
// commission.
type Fill struct {
	Symbol      string
	Side        string // BUY | SELL
	Quantity    int64
	FillPrice   float64
	RealizedPnL float64
	Commission  float64
}

// Portfolio is the simulated broker: cash, signed positions, and the
// execution frictions applied to every fill.
type Portfolio struct {
	Cash        float64
	Positions   map[string]*Position
	SlippageBps float64
	Commission  float64 // per share
}

// New creates an empty portfolio with the given starting cash.
func New(cash, slippageBps, commissionPerShare float64) *Portfolio {
	return &Portfolio{
		Cash:        cash,
		Positions:   make(map[string]*Position),
		SlippageBps: slippageBps,
		Commission:  commissionPerShare,
	}
}

// Equity is cash plus the signed market value of every position.
func (pf *Portfolio) Equity() float64 {
	eq := pf.Cash
	for _, p := range pf.Positions {
		eq += float64(p.Quantity) * p.CurrentPrice
	}
	return eq
}

// TotalUnrealized sums mark-to-market PnL across positions, for the
// portfolio kill switch.
func (pf *Portfolio) TotalUnrealized() float64 {
	total := 0.0
	for _, p := range pf.Positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// MarkToMarket refreshes current prices and advances watermarks for every
// symbol present in prices. Watermarks only move outward while the
// position's sign is unchanged.
func (pf *Portfolio) MarkToMarket(prices map[string]float64) {
	for sym, p := range pf.Positions {
		price, ok := prices[sym]
		if !ok || price <= 0 || math.IsNaN(price) {
			continue
		}
		p.CurrentPrice = price
		if price > p.HighestPrice {
			p.HighestPrice = price
		}
		if price < p.LowestPrice {
			p.LowestPrice = price
		}
	}
}

// fillPrice applies side-adverse slippage: buys fill above the quote,
// sells below.
func (pf *Portfolio) fillPrice(side string, price float64) float64 {
	slip := price * pf.SlippageBps / 10000
	if side == "BUY" {
		return price + slip
	}
	return price - slip
}

// Execute fills quantity shares at the quoted price. Cost basis excludes
// commission; commission is deducted from cash on both sides. A fill that
// crosses zero closes the old position at the fill price and opens the
// remainder fresh, resetting watermarks.
func (pf *Portfolio) Execute(symbol, side string, quantity int64, price float64) (Fill, error) {
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("execute %s %s: non-positive quantity %d", side, symbol, quantity)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Fill{}, fmt.Errorf("execute %s %s at %v: %w", side, symbol, price, ErrInvalidPrice)
	}
	if side != "BUY" && side != "SELL" {
		return Fill{}, fmt.Errorf("execute %s: unknown side %q", symbol, side)
	}

	fill := pf.fillPrice(side, price)
	signed := quantity
	if side == "SELL" {
		signed = -quantity
	}

	commission := pf.Commission * float64(quantity)
	realized := 0.0

	pos := pf.Positions[symbol]
	switch {
	case pos == nil || pos.Quantity == 0:
		pf.Positions[symbol] = &Position{
			Symbol:       symbol,
			Quantity:     signed,
			AvgPrice:     fill,
			CurrentPrice: fill,
			HighestPrice: fill,
			LowestPrice:  fill,
		}

	case (pos.Quantity > 0) == (signed > 0):
		// Same direction: extend at weighted average cost.
		oldQty := pos.Quantity
		newQty := oldQty + signed
		pos.AvgPrice = (pos.AvgPrice*math.Abs(float64(oldQty)) + fill*float64(quantity)) / math.Abs(float64(newQty))
		pos.Quantity = newQty
		pos.CurrentPrice = fill
		if fill > pos.HighestPrice {
			pos.HighestPrice = fill
		}
		if fill < pos.LowestPrice {
			pos.LowestPrice = fill
		}

	default:
		// Opposite direction: close toward zero, then maybe flip.
		closing := quantity
		held := pos.Quantity
		if held < 0 {
			held = -held
		}
		if closing > held {
			closing = held
		}
		if pos.Quantity > 0 {
			realized = (fill - pos.AvgPrice) * float64(closing)
		} else {
			realized = (pos.AvgPrice - fill) * float64(closing)
		}

		remaining := quantity - closing
		pos.Quantity += signed
		if pos.Quantity == 0 {
			delete(pf.Positions, symbol)
		}
		if remaining > 0 {
			// Flip: the surviving leg opens at the fill price.
			pf.Positions[symbol] = &Position{
				Symbol:       symbol,
				Quantity:     pos.Quantity,
				AvgPrice:     fill,
				CurrentPrice: fill,
				HighestPrice: fill,
				LowestPrice:  fill,
			}
		} else if pos.Quantity != 0 {
			pos.CurrentPrice = fill
		}
	}

	// Cash flow: buys pay, sells receive; commission always debits.
	pf.Cash -= float64(signed) * fill
	pf.Cash -= commission

	return Fill{
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		FillPrice:   fill,
		RealizedPnL: realized,
		Commission:  commission,
	}, nil
}

// ClosingQuantity returns the share count and side that flattens the
// position, or zero when nothing is held.
func (pf *Portfolio) ClosingQuantity(symbol string) (int64, string) {
	pos := pf.Positions[symbol]
	if pos == nil || pos.Quantity == 0 {
		return 0, ""
	}
	if pos.Quantity > 0 {
		return pos.Quantity, "SELL"
	}
	return -pos.Quantity, "BUY"
}
