package shadow

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/store"
)

// Runner executes the Kalman and HMM models beside the live path. Outputs
// are logged for later evaluation and consulted read-only by the
// pre-execution filters; they never drive order flow.
type Runner struct {
	cfg     config.ShadowConfig
	db      *store.Store
	kalman  map[string]*regime.KalmanFilter
	hmm     *regime.HMMDetector
	runs    int
	lastHMM *regime.HMMPrediction
}

// Summary reports one shadow pass for the cycle event log.
type Summary struct {
	KalmanSymbols int
	KalmanAgree   int
	KalmanTotal   int
	HMM           *regime.HMMPrediction
}

// NewRunner builds the shadow models from configuration.
func NewRunner(cfg config.ShadowConfig, db *store.Store) *Runner {
	return &Runner{
		cfg:    cfg,
		db:     db,
		kalman: make(map[string]*regime.KalmanFilter),
		hmm:    regime.NewHMMDetector(cfg.HMM.NStates, cfg.HMM.Lookback),
	}
}

func (r *Runner) filterFor(symbol string) *regime.KalmanFilter {
	kf, ok := r.kalman[symbol]
	if !ok {
		kf = regime.NewKalmanFilter(r.cfg.Kalman.ProcessVariance, r.cfg.Kalman.MeasurementVariance)
		r.kalman[symbol] = kf
	}
	return kf
}

// LastHMM returns the most recent HMM prediction, for the pre-execution
// regime fallback.
func (r *Runner) LastHMM() *regime.HMMPrediction { return r.lastHMM }

// Run feeds each symbol's closes through its filter, refits and predicts
// the HMM on the index series per the refit cadence, and logs one record
// per symbol.
func (r *Runner) Run(ctx context.Context, prices map[string][]float64, spyCloses []float64,
	existingSignals map[string]float64, existingRegime string) (Summary, map[string]regime.KalmanResult) {

	r.runs++
	now := time.Now().UTC().Format(time.RFC3339)

	results := make(map[string]regime.KalmanResult, len(prices))
	records := make([]store.ShadowRecord, 0, len(prices))

	for sym, closes := range prices {
		if len(closes) == 0 {
			continue
		}
		kf := r.filterFor(sym)
		var res regime.KalmanResult
		for _, p := range closes {
			res = kf.Update(p)
		}
		results[sym] = res

		records = append(records, store.ShadowRecord{
			Timestamp:         now,
			Symbol:            sql.NullString{String: sym, Valid: true},
			KalmanSignal:      res.Signal,
			KalmanLevel:       res.Level,
			KalmanTrend:       res.Trend,
			KalmanUncertainty: res.Uncertainty,
			ExistingSignal:    existingSignals[sym],
			ExistingRegime:    sql.NullString{String: existingRegime, Valid: existingRegime != ""},
		})
	}

	if len(spyCloses) >= 5 {
		obs := r.hmm.Discretize(spyCloses)
		if r.cfg.HMM.RefitInterval > 0 && r.runs%r.cfg.HMM.RefitInterval == 0 && len(obs) >= 10 {
			r.hmm.Fit(obs)
		}
		pred := r.hmm.Predict(obs)
		r.lastHMM = &pred

		for i := range records {
			records[i].HMMState = sql.NullString{String: pred.StateLabel, Valid: true}
			records[i].HMMBullProb = pred.Probabilities[regime.StateBull]
			records[i].HMMBearProb = pred.Probabilities[regime.StateBear]
			records[i].HMMTransitionProb = pred.Probabilities[regime.StateTransition]
			records[i].HMMTransitionRisk = pred.TransitionRisk
		}
	}

	for _, rec := range records {
		if err := r.db.InsertShadowPrediction(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("shadow record insert failed")
		}
	}

	sum := Summary{KalmanSymbols: len(results), HMM: r.lastHMM}
	for sym, res := range results {
		es := existingSignals[sym]
		if es == 0 {
			continue
		}
		sum.KalmanTotal++
		if (res.Signal > 0 && es > 0) || (res.Signal < 0 && es < 0) {
			sum.KalmanAgree++
		}
	}
	return sum, results
}

// FillOutcomes backfills realized 1-hour and 1-day returns on records old
// enough for those horizons to have passed. The logged Kalman level stands
// in for the prediction-time price.
func (r *Runner) FillOutcomes(ctx context.Context, currentPrices map[string]float64, now time.Time) int {
	pending, err := r.db.PendingShadowOutcomes(ctx, now.Add(-time.Hour))
	if err != nil {
		log.Warn().Err(err).Msg("pending shadow outcomes fetch failed")
		return 0
	}

	filled := 0
	for _, rec := range pending {
		if !rec.Symbol.Valid || rec.KalmanLevel <= 0 {
			continue
		}
		price, ok := currentPrices[rec.Symbol.String]
		if !ok || price <= 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			continue
		}

		// Only mark the record complete once the 1-day horizon has passed.
		if now.Sub(ts) < 24*time.Hour {
			continue
		}
		ret := (price - rec.KalmanLevel) / rec.KalmanLevel
		if err := r.db.FillShadowOutcome(ctx, rec.ID, ret, ret); err != nil {
			log.Warn().Err(err).Int64("id", rec.ID).Msg("shadow outcome fill failed")
			continue
		}
		filled++
	}
	return filled
}
