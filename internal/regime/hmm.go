package regime

import "math"

// HMM states. State order matters: transition risk sums flow into bear.
const (
	StateBull = iota
	StateBear
	StateTransition
)

var stateLabels = [...]string{"bull", "bear", "transition"}

const (
	hmmBins        = 7
	emissionSmooth = 0.05
)

// HMMPrediction is the filtered posterior over regimes for the latest bar.
type HMMPrediction struct {
	State          int       `json:"state"`
	StateLabel     string    `json:"state_label"`
	Probabilities  []float64 `json:"probabilities"` // bull, bear, transition
	TransitionRisk float64   `json:"transition_risk"`
	Confidence     float64   `json:"confidence"`
}

// HMMDetector is a 3-state hidden Markov model over discretized index
// returns. Parameters are seeded to favor regime persistence and refined
// by scaled Baum-Welch on a refit cadence.
type HMMDetector struct {
	nStates  int
	lookback int

	pi []float64   // initial state probabilities
	a  [][]float64 // transition matrix, rows = from
	b  [][]float64 // emission matrix, nStates x hmmBins

	fitted   bool
	fitCount int
}

// NewHMMDetector seeds priors that keep bull sticky and route bear entries
// through the transition state.
func NewHMMDetector(nStates, lookback int) *HMMDetector {
	// The seeded matrices are 3-state; any other count cannot index them.
	if nStates != 3 {
		nStates = 3
	}
	if lookback <= 0 {
		lookback = 60
	}
	return &HMMDetector{
		nStates:  nStates,
		lookback: lookback,
		pi:       []float64{0.70, 0.10, 0.20},
		a: [][]float64{
			{0.90, 0.02, 0.08},
			{0.03, 0.85, 0.12},
			{0.30, 0.25, 0.45},
		},
		b: [][]float64{
			{0.02, 0.05, 0.08, 0.20, 0.25, 0.25, 0.15}, // bull: skew positive
			{0.20, 0.25, 0.20, 0.15, 0.10, 0.05, 0.05}, // bear: skew negative
			{0.10, 0.12, 0.15, 0.26, 0.15, 0.12, 0.10}, // transition: broad
		},
	}
}

// FitCount returns how many Baum-Welch refits have completed.
func (h *HMMDetector) FitCount() int { return h.fitCount }

// Discretize converts a price series into observation bucket indices via
// return z-scores against fixed edges {-2,-1,-0.5,+0.5,+1,+2}.
func (h *HMMDetector) Discretize(prices []float64) []int {
	clean := make([]float64, 0, len(prices))
	for _, p := range prices {
		if !math.IsNaN(p) {
			clean = append(clean, p)
		}
	}
	if len(clean) < 2 {
		return []int{hmmBins / 2}
	}

	returns := make([]float64, 0, len(clean)-1)
	for i := 1; i < len(clean); i++ {
		if clean[i-1] == 0 {
			continue
		}
		r := (clean[i] - clean[i-1]) / clean[i-1]
		if !math.IsNaN(r) {
			returns = append(returns, r)
		}
	}
	if len(returns) == 0 {
		return []int{hmmBins / 2}
	}

	mu, sigma := meanStd(returns)
	if sigma < 1e-12 {
		sigma = 1e-6
	}

	edges := []float64{-2, -1, -0.5, 0.5, 1, 2}
	obs := make([]int, len(returns))
	for i, r := range returns {
		z := (r - mu) / sigma
		bucket := 0
		for _, e := range edges {
			if z >= e {
				bucket++
			}
		}
		obs[i] = bucket
	}
	return obs
}

// forward runs the scaled forward algorithm, returning the alpha matrix
// and per-step scaling factors.
func (h *HMMDetector) forward(obs []int) ([][]float64, []float64) {
	T := len(obs)
	alpha := make([][]float64, T)
	scales := make([]float64, T)

	alpha[0] = make([]float64, h.nStates)
	for i := 0; i < h.nStates; i++ {
		alpha[0][i] = h.pi[i] * h.b[i][obs[0]]
		scales[0] += alpha[0][i]
	}
	if scales[0] > 0 {
		for i := range alpha[0] {
			alpha[0][i] /= scales[0]
		}
	}

	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, h.nStates)
		for j := 0; j < h.nStates; j++ {
			sum := 0.0
			for i := 0; i < h.nStates; i++ {
				sum += alpha[t-1][i] * h.a[i][j]
			}
			alpha[t][j] = sum * h.b[j][obs[t]]
			scales[t] += alpha[t][j]
		}
		if scales[t] > 0 {
			for j := range alpha[t] {
				alpha[t][j] /= scales[t]
			}
		}
	}
	return alpha, scales
}

func (h *HMMDetector) backward(obs []int, scales []float64) [][]float64 {
	T := len(obs)
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, h.nStates)
	for i := range beta[T-1] {
		beta[T-1][i] = 1
	}

	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, h.nStates)
		for i := 0; i < h.nStates; i++ {
			sum := 0.0
			for j := 0; j < h.nStates; j++ {
				sum += h.a[i][j] * h.b[j][obs[t+1]] * beta[t+1][j]
			}
			beta[t][i] = sum
			if scales[t+1] > 0 {
				beta[t][i] /= scales[t+1]
			}
		}
	}
	return beta
}

// Fit refines pi, A and B with scaled Baum-Welch. Emissions are smoothed
// after every M-step so zero-probability pockets cannot trap the forward
// pass later.
func (h *HMMDetector) Fit(observations []int) {
	obs := clipObs(observations)
	T := len(obs)
	if T < 3 {
		return
	}

	const (
		maxIter = 20
		tol     = 1e-4
	)

	for iter := 0; iter < maxIter; iter++ {
		alpha, scales := h.forward(obs)
		beta := h.backward(obs, scales)

		// gamma[t][i] = P(state_t = i | obs)
		gamma := make([][]float64, T)
		for t := 0; t < T; t++ {
			gamma[t] = make([]float64, h.nStates)
			sum := 0.0
			for i := 0; i < h.nStates; i++ {
				gamma[t][i] = alpha[t][i] * beta[t][i]
				sum += gamma[t][i]
			}
			if sum < 1e-300 {
				sum = 1e-300
			}
			for i := range gamma[t] {
				gamma[t][i] /= sum
			}
		}

		// xi sums: expected transition counts.
		xiSum := make([][]float64, h.nStates)
		for i := range xiSum {
			xiSum[i] = make([]float64, h.nStates)
		}
		for t := 0; t < T-1; t++ {
			denom := 0.0
			numer := make([][]float64, h.nStates)
			for i := 0; i < h.nStates; i++ {
				numer[i] = make([]float64, h.nStates)
				for j := 0; j < h.nStates; j++ {
					numer[i][j] = alpha[t][i] * h.a[i][j] * h.b[j][obs[t+1]] * beta[t+1][j]
					denom += numer[i][j]
				}
			}
			if denom > 1e-300 {
				for i := 0; i < h.nStates; i++ {
					for j := 0; j < h.nStates; j++ {
						xiSum[i][j] += numer[i][j] / denom
					}
				}
			}
		}

		// M-step.
		newPi := make([]float64, h.nStates)
		piSum := 0.0
		for i := range newPi {
			newPi[i] = gamma[0][i]
			piSum += newPi[i]
		}
		if piSum > 0 {
			for i := range newPi {
				newPi[i] /= piSum
			}
		}

		newA := make([][]float64, h.nStates)
		for i := range newA {
			newA[i] = make([]float64, h.nStates)
			rowSum := 0.0
			for j := range newA[i] {
				rowSum += xiSum[i][j]
			}
			if rowSum < 1e-300 {
				rowSum = 1e-300
			}
			for j := range newA[i] {
				newA[i][j] = xiSum[i][j] / rowSum
			}
		}

		newB := make([][]float64, h.nStates)
		for i := range newB {
			newB[i] = make([]float64, hmmBins)
		}
		for t := 0; t < T; t++ {
			for i := 0; i < h.nStates; i++ {
				newB[i][obs[t]] += gamma[t][i]
			}
		}
		for i := range newB {
			rowSum := 0.0
			for k := range newB[i] {
				rowSum += newB[i][k]
			}
			if rowSum < 1e-300 {
				rowSum = 1e-300
			}
			for k := range newB[i] {
				newB[i][k] = newB[i][k]/rowSum*(1-emissionSmooth) + emissionSmooth/hmmBins
			}
		}

		delta := maxAbsDiff(newA, h.a) + maxAbsDiff(newB, h.b)
		h.pi, h.a, h.b = newPi, newA, newB

		if delta < tol {
			break
		}
	}

	h.fitted = true
	h.fitCount++
}

// Predict returns the filtered posterior for the latest observation.
func (h *HMMDetector) Predict(observations []int) HMMPrediction {
	obs := clipObs(observations)
	if len(obs) == 0 {
		return h.defaultPrediction()
	}

	alpha, _ := h.forward(obs)
	probs := make([]float64, h.nStates)
	copy(probs, alpha[len(alpha)-1])

	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if sum > 1e-300 {
		for i := range probs {
			probs[i] /= sum
		}
	} else {
		copy(probs, h.pi)
	}

	state := 0
	for i, p := range probs {
		if p > probs[state] {
			state = i
		}
	}

	// P(next = bear) marginalized over the current posterior.
	risk := 0.0
	for i, p := range probs {
		risk += p * h.a[i][StateBear]
	}

	return HMMPrediction{
		State:          state,
		StateLabel:     stateLabels[state],
		Probabilities:  probs,
		TransitionRisk: risk,
		Confidence:     probs[state],
	}
}

// PredictPrices is Predict over a raw price series.
func (h *HMMDetector) PredictPrices(prices []float64) HMMPrediction {
	return h.Predict(h.Discretize(prices))
}

func (h *HMMDetector) defaultPrediction() HMMPrediction {
	return HMMPrediction{
		State:          StateBull,
		StateLabel:     stateLabels[StateBull],
		Probabilities:  []float64{0.70, 0.10, 0.20},
		TransitionRisk: 0.10,
		Confidence:     0.70,
	}
}

func clipObs(obs []int) []int {
	out := make([]int, len(obs))
	for i, o := range obs {
		if o < 0 {
			o = 0
		}
		if o >= hmmBins {
			o = hmmBins - 1
		}
		out[i] = o
	}
	return out
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	m := 0.0
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))

	v := 0.0
	for _, x := range xs {
		v += (x - m) * (x - m)
	}
	return m, math.Sqrt(v / float64(len(xs)))
}

func maxAbsDiff(a, b [][]float64) float64 {
	maxDiff := 0.0
	for i := range a {
		for j := range a[i] {
			d := math.Abs(a[i][j] - b[i][j])
			if d > maxDiff {
				maxDiff = d
			}
		}
	}
	return maxDiff
}
