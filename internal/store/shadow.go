package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ShadowRecord is one side-effect prediction from the Kalman/HMM shadow
// models. Actual returns are backfilled once enough time has passed.
type ShadowRecord struct {
	ID                int64           `db:"id"`
	Timestamp         string          `db:"timestamp"`
	Symbol            sql.NullString  `db:"symbol"`
	KalmanSignal      float64         `db:"kalman_signal"`
	KalmanLevel       float64         `db:"kalman_level"`
	KalmanTrend       float64         `db:"kalman_trend"`
	KalmanUncertainty float64         `db:"kalman_uncertainty"`
	ExistingSignal    float64         `db:"existing_signal"`
	HMMState          sql.NullString  `db:"hmm_state"`
	HMMBullProb       float64         `db:"hmm_bull_prob"`
	HMMBearProb       float64         `db:"hmm_bear_prob"`
	HMMTransitionProb float64         `db:"hmm_transition_prob"`
	HMMTransitionRisk float64         `db:"hmm_transition_risk"`
	ExistingRegime    sql.NullString  `db:"existing_regime"`
	ActualReturn1H    sql.NullFloat64 `db:"actual_return_1h"`
	ActualReturn1D    sql.NullFloat64 `db:"actual_return_1d"`
	OutcomeFilled     bool            `db:"outcome_filled"`
}

// InsertShadowPrediction appends one shadow record with outcomes unfilled.
func (s *Store) InsertShadowPrediction(ctx context.Context, r ShadowRecord) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(cctx, `
		INSERT INTO shadow_predictions (timestamp, symbol,
			kalman_signal, kalman_level, kalman_trend, kalman_uncertainty, existing_signal,
			hmm_state, hmm_bull_prob, hmm_bear_prob, hmm_transition_prob, hmm_transition_risk,
			existing_regime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Symbol,
		r.KalmanSignal, r.KalmanLevel, r.KalmanTrend, r.KalmanUncertainty, r.ExistingSignal,
		r.HMMState, r.HMMBullProb, r.HMMBearProb, r.HMMTransitionProb, r.HMMTransitionRisk,
		r.ExistingRegime)
	if err != nil {
		return fmt.Errorf("insert shadow prediction: %w", err)
	}
	return nil
}

// PendingShadowOutcomes returns unfilled records old enough for their
// realized returns to exist.
func (s *Store) PendingShadowOutcomes(ctx context.Context, olderThan time.Time) ([]ShadowRecord, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []ShadowRecord
	err := s.db.SelectContext(cctx, &rows, `
		SELECT * FROM shadow_predictions
		WHERE outcome_filled = 0 AND timestamp <= ?
		ORDER BY timestamp ASC`, formatTS(olderThan))
	if err != nil {
		return nil, fmt.Errorf("pending shadow outcomes: %w", err)
	}
	return rows, nil
}

// FillShadowOutcome backfills realized returns for one record.
func (s *Store) FillShadowOutcome(ctx context.Context, id int64, ret1h, ret1d float64) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(cctx, `
		UPDATE shadow_predictions
		SET actual_return_1h = ?, actual_return_1d = ?, outcome_filled = 1
		WHERE id = ?`, ret1h, ret1d, id)
	if err != nil {
		return fmt.Errorf("fill shadow outcome %d: %w", id, err)
	}
	return nil
}

// FilledShadowRecords returns records with realized outcomes since the
// given time, for the shadow evaluation report.
func (s *Store) FilledShadowRecords(ctx context.Context, since time.Time) ([]ShadowRecord, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []ShadowRecord
	err := s.db.SelectContext(cctx, &rows, `
		SELECT * FROM shadow_predictions
		WHERE outcome_filled = 1 AND timestamp >= ?
		ORDER BY timestamp ASC`, formatTS(since))
	if err != nil {
		return nil, fmt.Errorf("filled shadow records: %w", err)
	}
	return rows, nil
}
