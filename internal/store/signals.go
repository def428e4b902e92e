package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SignalRow is the per-symbol scoring record written every cycle for the
// surviving top-N symbols.
type SignalRow struct {
	ID         int64   `db:"id"`
	Timestamp  string  `db:"timestamp"`
	Symbol     string  `db:"symbol"`
	ScoreMom   float64 `db:"score_mom"`
	ScoreMean  float64 `db:"score_mean"`
	ScoreBreak float64 `db:"score_break"`
	ScoreNews  float64 `db:"score_news"`
	WeightMom  float64 `db:"weight_mom"`
	WeightMean float64 `db:"weight_mean"`
	WeightBrk  float64 `db:"weight_break"`
	WeightNews float64 `db:"weight_news"`
	FinalScore float64 `db:"final_score"`
}

// InsertSignal appends one scoring record.
func (s *Store) InsertSignal(ctx context.Context, row SignalRow) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(cctx, `
		INSERT INTO signals (timestamp, symbol,
			score_mom, score_mean, score_break, score_news,
			weight_mom, weight_mean, weight_break, weight_news, final_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.Symbol,
		row.ScoreMom, row.ScoreMean, row.ScoreBreak, row.ScoreNews,
		row.WeightMom, row.WeightMean, row.WeightBrk, row.WeightNews, row.FinalScore)
	if err != nil {
		return fmt.Errorf("insert signal for %s: %w", row.Symbol, err)
	}
	return nil
}

// PriorScoreToday returns the most recent composite logged for symbol on
// the same calendar day as now, strictly before now. ok is false when no
// prior record exists, which the persistence gate treats as a pass.
func (s *Store) PriorScoreToday(ctx context.Context, symbol string, now time.Time) (score float64, ok bool, err error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	err = s.db.GetContext(cctx, &score, `
		SELECT final_score FROM signals
		WHERE symbol = ? AND timestamp LIKE ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`,
		symbol, now.UTC().Format("2006-01-02")+"%", formatTS(now))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("prior score for %s: %w", symbol, err)
	}
	return score, true, nil
}
