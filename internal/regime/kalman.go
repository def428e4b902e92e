package regime

import "math"

// KalmanResult is the filter output after one observation.
type KalmanResult struct {
	Level       float64 `json:"level"`
	Trend       float64 `json:"trend"`
	Upper       float64 `json:"upper"`
	Lower       float64 `json:"lower"`
	Uncertainty float64 `json:"uncertainty"`
	Signal      float64 `json:"signal"` // standardized residual (z - level)/uncertainty
}

// KalmanFilter tracks a [level, trend] state from close observations.
// It replaces static moving averages with an adaptive estimate carrying
// uncertainty bounds; process noise adapts toward recent innovation
// magnitude so the filter loosens in fast markets.
type KalmanFilter struct {
	processVar     float64
	measurementVar float64

	// State [level, trend] and covariance.
	x0, x1             float64
	p00, p01, p10, p11 float64
	// Process noise diagonal (off-diagonal stays zero).
	q00, q11 float64

	initialized bool
	updates     int
}

// NewKalmanFilter creates a filter with the configured noise variances.
func NewKalmanFilter(processVar, measurementVar float64) *KalmanFilter {
	kf := &KalmanFilter{
		processVar:     processVar,
		measurementVar: measurementVar,
	}
	kf.Reset()
	return kf
}

// Reset returns the filter to its uninitialized state.
func (kf *KalmanFilter) Reset() {
	kf.x0, kf.x1 = 0, 0
	kf.p00, kf.p01, kf.p10, kf.p11 = 1, 0, 0, 1
	kf.q00 = kf.processVar
	kf.q11 = kf.processVar * 0.1
	kf.initialized = false
	kf.updates = 0
}

// Updates returns the number of observations processed.
func (kf *KalmanFilter) Updates() int { return kf.updates }

// Update processes one price observation. NaN observations return the
// last state with a neutral signal.
func (kf *KalmanFilter) Update(z float64) KalmanResult {
	if math.IsNaN(z) {
		if kf.initialized {
			unc := math.Sqrt(math.Max(kf.p00, 1e-12))
			return KalmanResult{
				Level: kf.x0, Trend: kf.x1,
				Upper: kf.x0 + 2*unc, Lower: kf.x0 - 2*unc,
				Uncertainty: unc,
			}
		}
		return KalmanResult{}
	}

	if !kf.initialized {
		kf.x0, kf.x1 = z, 0
		kf.p00, kf.p01, kf.p10, kf.p11 = kf.measurementVar, 0, 0, kf.measurementVar
		kf.initialized = true
		kf.updates = 1
		return KalmanResult{
			Level: z, Upper: z, Lower: z,
			Uncertainty: math.Sqrt(kf.measurementVar),
		}
	}

	// Predict: x' = Fx, P' = FPF^T + Q with F = [[1,1],[0,1]].
	x0p := kf.x0 + kf.x1
	x1p := kf.x1
	p00p := kf.p00 + kf.p01 + kf.p10 + kf.p11 + kf.q00
	p01p := kf.p01 + kf.p11
	p10p := kf.p10 + kf.p11
	p11p := kf.p11 + kf.q11

	// Update with observation H = [1,0].
	y := z - x0p
	s := p00p + kf.measurementVar
	k0 := p00p / s
	k1 := p10p / s

	kf.x0 = x0p + k0*y
	kf.x1 = x1p + k1*y
	kf.p00 = (1 - k0) * p00p
	kf.p01 = (1 - k0) * p01p
	kf.p10 = p10p - k1*p00p
	kf.p11 = p11p - k1*p01p

	// Adapt Q toward recent innovation magnitude.
	const alpha = 0.05
	scale := math.Max(1, y*y/s)
	kf.q00 = kf.q00*(1-alpha) + alpha*scale*kf.processVar
	kf.q11 = kf.q11*(1-alpha) + alpha*scale*kf.processVar*0.1

	kf.updates++

	unc := math.Sqrt(math.Max(kf.p00, 1e-12))
	signal := 0.0
	if unc > 1e-12 {
		signal = (z - kf.x0) / unc
	}

	return KalmanResult{
		Level:       kf.x0,
		Trend:       kf.x1,
		Upper:       kf.x0 + 2*unc,
		Lower:       kf.x0 - 2*unc,
		Uncertainty: unc,
		Signal:      signal,
	}
}
