package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Trade is one executed fill. PnL is realized PnL for closing fills and
// zero for opens. StrategyData carries the free-form JSON blob the PM
// attaches (scores, sizing method, memory influence).
type Trade struct {
	ID           int64          `db:"id"`
	Timestamp    string         `db:"timestamp"`
	Symbol       string         `db:"symbol"`
	Side         string         `db:"side"` // BUY | SELL
	Quantity     int64          `db:"quantity"`
	Price        float64        `db:"price"`
	PnL          float64        `db:"pnl"`
	Score        float64        `db:"score"`
	StrategyData sql.NullString `db:"strategy_data"`
}

// InsertTrade appends a fill to the trade log.
func (s *Store) InsertTrade(ctx context.Context, t Trade) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(cctx, `
		INSERT INTO trades (timestamp, symbol, side, quantity, price, pnl, score, strategy_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp, t.Symbol, t.Side, t.Quantity, t.Price, t.PnL, t.Score, t.StrategyData)
	if err != nil {
		return fmt.Errorf("insert trade %s %s: %w", t.Side, t.Symbol, err)
	}
	return nil
}

// MarshalStrategyData encodes the PM's metadata blob for persistence.
func MarshalStrategyData(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

// RecentPnLs returns the PnL of the last n trades on symbol, most recent
// first. Used by the challenger's consecutive-loss check.
func (s *Store) RecentPnLs(ctx context.Context, symbol string, n int) ([]float64, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var pnls []float64
	err := s.db.SelectContext(cctx, &pnls, `
		SELECT pnl FROM trades
		WHERE symbol = ? AND pnl != 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("recent pnls for %s: %w", symbol, err)
	}
	return pnls, nil
}

// ExitedToday reports whether symbol already has a closing fill dated day
// (the challenger's re-entry warning).
func (s *Store) ExitedToday(ctx context.Context, symbol string, day time.Time) (bool, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var count int
	err := s.db.GetContext(cctx, &count, `
		SELECT COUNT(*) FROM trades
		WHERE symbol = ? AND pnl != 0 AND timestamp LIKE ?`,
		symbol, day.UTC().Format("2006-01-02")+"%")
	if err != nil {
		return false, fmt.Errorf("exited-today check for %s: %w", symbol, err)
	}
	return count > 0, nil
}

// SymbolPnLOn sums realized PnL for symbol on the given calendar day.
func (s *Store) SymbolPnLOn(ctx context.Context, symbol string, day time.Time) (float64, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var pnl sql.NullFloat64
	err := s.db.GetContext(cctx, &pnl, `
		SELECT SUM(pnl) FROM trades
		WHERE symbol = ? AND timestamp LIKE ?`,
		symbol, day.UTC().Format("2006-01-02")+"%")
	if err != nil {
		return 0, fmt.Errorf("daily pnl for %s: %w", symbol, err)
	}
	return pnl.Float64, nil
}

// TradesOn returns every fill dated day in chronological order.
func (s *Store) TradesOn(ctx context.Context, day time.Time) ([]Trade, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var trades []Trade
	err := s.db.SelectContext(cctx, &trades, `
		SELECT * FROM trades
		WHERE timestamp LIKE ?
		ORDER BY timestamp ASC, id ASC`,
		day.UTC().Format("2006-01-02")+"%")
	if err != nil {
		return nil, fmt.Errorf("trades on %s: %w", day.Format("2006-01-02"), err)
	}
	return trades, nil
}

// DailyMetrics aggregates one day's closing fills into review numbers.
type DailyMetrics struct {
	Trades       int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	MaxDrawdown  float64
}

// MetricsFor computes win rate, profit factor and intraday max drawdown
// over the cumulative realized PnL curve for the given day.
func (s *Store) MetricsFor(ctx context.Context, day time.Time) (DailyMetrics, error) {
	trades, err := s.TradesOn(ctx, day)
	if err != nil {
		return DailyMetrics{}, err
	}

	var m DailyMetrics
	cum, peak := 0.0, 0.0
	for _, t := range trades {
		if t.PnL == 0 {
			continue
		}
		m.Trades++
		m.TotalPnL += t.PnL
		if t.PnL > 0 {
			m.Wins++
			m.GrossProfit += t.PnL
		} else {
			m.Losses++
			m.GrossLoss += -t.PnL
		}
		cum += t.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	return m, nil
}
