package regime

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SharedState is the regime document produced by the out-of-process
// regime monitor. The engine consumes it read-only; pre-execution filters
// prefer it over a live HMM predict because the monitor runs on a tighter
// cadence.
type SharedState struct {
	Timestamp    string         `json:"timestamp"`
	HMM          *SharedHMM     `json:"hmm,omitempty"`
	SimpleRegime string         `json:"simple_regime,omitempty"`
	BTC          *SharedBTC     `json:"btc,omitempty"`
	History      []SharedSample `json:"history,omitempty"` // last 12 readings
	RegimeChange *RegimeChange  `json:"regime_change,omitempty"`
}

type SharedHMM struct {
	StateLabel     string             `json:"state_label"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities"` // bull, bear, transition
	TransitionRisk float64            `json:"transition_risk"`
}

type SharedBTC struct {
	Price      float64 `json:"price"`
	Momentum10 float64 `json:"momentum_10"`
	Trending   string  `json:"trending"`
}

type SharedSample struct {
	TS         string  `json:"ts"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BearProb   float64 `json:"bear_prob"`
}

type RegimeChange struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

// LoadSharedState reads the monitor's regime document. A missing or
// unparseable file returns nil without error; the caller falls back to a
// live predict.
func LoadSharedState(path string) *SharedState {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var state SharedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	return &state
}

// ChangedRecently reports whether the document records a regime change
// within the given window of now.
func (s *SharedState) ChangedRecently(now time.Time, window time.Duration) bool {
	if s == nil || s.RegimeChange == nil {
		return false
	}
	at, err := time.Parse(time.RFC3339, s.RegimeChange.At)
	if err != nil {
		// An unparseable change timestamp still signals a change.
		return true
	}
	return now.Sub(at) <= window
}

// BearProbSpike reports whether bear probability rose more than delta over
// the last n history readings.
func (s *SharedState) BearProbSpike(n int, delta float64) (bool, string) {
	if s == nil || len(s.History) < n {
		return false, ""
	}
	recent := s.History[len(s.History)-n:]
	rise := recent[len(recent)-1].BearProb - recent[0].BearProb
	if rise > delta {
		return true, fmt.Sprintf("bear probability rose %.0f%%→%.0f%% over last %d readings",
			recent[0].BearProb*100, recent[len(recent)-1].BearProb*100, n)
	}
	return false, ""
}
