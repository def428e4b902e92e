package shadow

import (
	"context"
	"time"
)

// Evaluation compares the shadow models' directional calls against
// realized 1-day returns.
type Evaluation struct {
	Predictions      int
	KalmanAccuracy   float64
	ExistingAccuracy float64
	HMMAccuracy      float64
	Recommendation   string
}

// Evaluate joins filled records since the given time and reports
// per-model directional accuracy.
func (r *Runner) Evaluate(ctx context.Context, since time.Time) (Evaluation, error) {
	records, err := r.db.FilledShadowRecords(ctx, since)
	if err != nil {
		return Evaluation{}, err
	}

	var kalmanCorrect, existingCorrect, signalTotal int
	var hmmCorrect, hmmTotal int
	for _, rec := range records {
		if !rec.ActualReturn1D.Valid {
			continue
		}
		ret := rec.ActualReturn1D.Float64
		if ret == 0 {
			continue
		}

		signalTotal++
		if sameSign(rec.KalmanSignal, ret) {
			kalmanCorrect++
		}
		if sameSign(rec.ExistingSignal, ret) {
			existingCorrect++
		}

		if rec.HMMState.Valid {
			hmmTotal++
			switch rec.HMMState.String {
			case "bull":
				if ret > 0 {
					hmmCorrect++
				}
			case "bear":
				if ret < 0 {
					hmmCorrect++
				}
			default:
				hmmTotal--
			}
		}
	}

	ev := Evaluation{Predictions: len(records)}
	if signalTotal > 0 {
		ev.KalmanAccuracy = float64(kalmanCorrect) / float64(signalTotal)
		ev.ExistingAccuracy = float64(existingCorrect) / float64(signalTotal)
	}
	if hmmTotal > 0 {
		ev.HMMAccuracy = float64(hmmCorrect) / float64(hmmTotal)
	}

	switch {
	case signalTotal < 10:
		ev.Recommendation = "need more data"
	case ev.KalmanAccuracy > ev.ExistingAccuracy+0.05:
		ev.Recommendation = "kalman outperforming composite"
	case ev.ExistingAccuracy > ev.KalmanAccuracy+0.05:
		ev.Recommendation = "composite outperforming kalman"
	default:
		ev.Recommendation = "models comparable"
	}
	return ev, nil
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
