package preexec

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/sector"
)

// monitorCycle is how far back a recorded regime change still blocks.
const monitorCycle = 10 * time.Minute

// bearProbSpikeWindow/Delta detect a rapid deterioration in the monitor's
// recent readings.
const (
	bearProbSpikeWindow = 3
	bearProbSpikeDelta  = 0.20
)

// Input is everything the filter stack needs for one candidate.
type Input struct {
	Symbol string
	Side   string // BUY | SELL
	Score  float64
	Price  float64

	Bars      marketdata.Series   // candidate's bar window (volume source)
	Kalman    *regime.KalmanResult // nil when the shadow runner has no state
	Shared    *regime.SharedState  // regime monitor document; may be nil
	LiveHMM   func() regime.HMMPrediction
	BTCCloses []float64

	Now time.Time // market-local
}

// Result is the combined outcome: whether the candidate proceeds and the
// per-filter notes, pass or fail.
type Result struct {
	Proceed bool
	Reasons []string
}

// Filters is the final per-candidate gate before execution. Forced exits
// never pass through here.
type Filters struct {
	cfg   config.PreExecConfig
	hours config.HoursConfig
}

// New builds the filter stack.
func New(cfg config.PreExecConfig, hours config.HoursConfig) *Filters {
	return &Filters{cfg: cfg, hours: hours}
}

// Check runs every filter; any failure blocks the candidate. All notes are
// collected so the event log shows the full picture.
func (f *Filters) Check(in Input) Result {
	res := Result{Proceed: true}
	fail := func(tag, msg string) {
		res.Proceed = false
		res.Reasons = append(res.Reasons, tag+": "+msg)
	}
	pass := func(tag, msg string) {
		res.Reasons = append(res.Reasons, tag+": "+msg)
	}

	// 1. Regime recheck against the monitor, live HMM as fallback.
	if ok, msg := f.checkRegime(in); ok {
		pass("regime", msg)
	} else {
		fail("regime", msg)
	}

	// 2. Volume confirmation.
	if ok, msg := f.checkVolume(in.Bars); ok {
		pass("volume", msg)
	} else {
		fail("volume", msg)
	}

	// 5. Kalman agreement runs early so the morning filter can consult it.
	kalmanAgrees, kalmanKnown := false, false
	if ok, msg, agrees, known := f.checkKalman(in); ok {
		pass("kalman", msg)
		kalmanAgrees, kalmanKnown = agrees, known
	} else {
		fail("kalman", msg)
	}

	// 3. Time-of-day.
	if ok, msg := f.checkMorning(in, kalmanAgrees, kalmanKnown); ok {
		pass("time", msg)
	} else {
		fail("time", msg)
	}

	// 4. Crypto correlation.
	if ok, msg := f.checkCrypto(in); ok {
		pass("crypto", msg)
	} else {
		fail("crypto", msg)
	}

	// 6. Minimum price.
	if in.Price > 0 {
		if in.Price < f.cfg.MinPrice {
			fail("min_price", fmt.Sprintf("price $%.2f below $%.2f minimum", in.Price, f.cfg.MinPrice))
		} else {
			pass("min_price", fmt.Sprintf("price OK: $%.2f", in.Price))
		}
	}

	// 7. Last-entry cutoff.
	if ok, msg := f.checkLastEntry(in.Now); ok {
		pass("last_entry", msg)
	} else {
		fail("last_entry", msg)
	}

	if !res.Proceed {
		log.Info().Str("symbol", in.Symbol).Strs("reasons", res.Reasons).
			Msg("pre-execution filters blocked candidate")
	}
	return res
}

func (f *Filters) checkRegime(in Input) (bool, string) {
	if in.Shared != nil {
		if in.Shared.ChangedRecently(in.Now, monitorCycle) {
			rc := in.Shared.RegimeChange
			return false, fmt.Sprintf("regime changed %s→%s at %s", rc.From, rc.To, rc.At)
		}
		if hmm := in.Shared.HMM; hmm != nil {
			if in.Side == "BUY" && hmm.StateLabel == "bear" && hmm.Confidence > 0.7 {
				return false, fmt.Sprintf("BUY blocked: monitor says bear (%.0f%%)", hmm.Confidence*100)
			}
			if in.Side == "SELL" && hmm.StateLabel == "bull" && hmm.Confidence > 0.7 {
				return false, fmt.Sprintf("SELL blocked: monitor says bull (%.0f%%)", hmm.Confidence*100)
			}
		}
		if spike, reason := in.Shared.BearProbSpike(bearProbSpikeWindow, bearProbSpikeDelta); spike {
			return false, reason
		}
		if in.Shared.HMM != nil {
			return true, "regime OK (from monitor): " + in.Shared.HMM.StateLabel
		}
	}

	if in.LiveHMM == nil {
		return true, "no regime data for recheck"
	}
	pred := in.LiveHMM()
	if in.Side == "BUY" && pred.StateLabel == "bear" && pred.Confidence > 0.7 {
		return false, fmt.Sprintf("BUY blocked: HMM says bear (%.0f%%)", pred.Confidence*100)
	}
	if in.Side == "SELL" && pred.StateLabel == "bull" && pred.Confidence > 0.7 {
		return false, fmt.Sprintf("SELL blocked: HMM says bull (%.0f%%)", pred.Confidence*100)
	}
	return true, fmt.Sprintf("regime OK: %s (%.0f%%)", pred.StateLabel, pred.Confidence*100)
}

func (f *Filters) checkVolume(bars marketdata.Series) (bool, string) {
	lookback := f.cfg.VolumeLookback
	vols := bars.Volumes()
	if len(vols) < lookback+1 {
		return true, fmt.Sprintf("insufficient volume data (%d < %d)", len(vols), lookback+1)
	}

	window := vols[len(vols)-lookback-1 : len(vols)-1]
	avg := 0.0
	for _, v := range window {
		avg += v
	}
	avg /= float64(len(window))
	if avg <= 0 {
		return true, "zero average volume"
	}

	ratio := vols[len(vols)-1] / avg
	if ratio < f.cfg.VolumeMinRatio {
		return false, fmt.Sprintf("volume ratio %.2f below %.2f over %d bars", ratio, f.cfg.VolumeMinRatio, lookback)
	}
	return true, fmt.Sprintf("volume OK: ratio %.2f", ratio)
}

// checkKalman returns (passed, msg, agrees, known).
func (f *Filters) checkKalman(in Input) (bool, string, bool, bool) {
	if in.Kalman == nil {
		if f.cfg.KalmanAgreementRequired {
			return false, "no Kalman state for " + in.Symbol + ", agreement required", false, false
		}
		return true, "no Kalman state (not required)", false, false
	}

	trend := in.Kalman.Trend
	agrees := (in.Side == "BUY" && trend > 0) || (in.Side == "SELL" && trend < 0)
	if !agrees && f.cfg.KalmanAgreementRequired {
		return false, fmt.Sprintf("Kalman trend %+.6f against %s", trend, in.Side), false, true
	}
	verdict := "disagrees"
	if agrees {
		verdict = "agrees"
	}
	return true, fmt.Sprintf("Kalman %s (trend %+.6f)", verdict, trend), agrees, true
}

func (f *Filters) checkMorning(in Input, kalmanAgrees, kalmanKnown bool) (bool, string) {
	openH, openM, err := config.ParseClock(f.hours.Start)
	if err != nil {
		return true, "unparseable window start"
	}
	nowMin := in.Now.Hour()*60 + in.Now.Minute()
	open := openH*60 + openM
	cutoff := f.cfg.MorningCutoffHour*60 + f.cfg.MorningCutoffMinute

	if nowMin < open || nowMin > cutoff {
		return true, "outside morning window"
	}

	if math.Abs(in.Score) < f.cfg.MorningMinScore {
		return false, fmt.Sprintf("|score| %.3f below morning floor %.2f", math.Abs(in.Score), f.cfg.MorningMinScore)
	}
	if f.cfg.MorningRequireKalman && kalmanKnown && !kalmanAgrees {
		return false, "Kalman disagreement during first hour"
	}
	return true, "morning filter passed"
}

func (f *Filters) checkCrypto(in Input) (bool, string) {
	if !f.isCryptoAdjacent(in.Symbol) {
		return true, "not crypto-adjacent"
	}
	periods := f.cfg.CryptoMomentumPeriods
	if len(in.BTCCloses) < periods+1 {
		return true, "insufficient BTC data"
	}

	prices := in.BTCCloses
	ref := prices[len(prices)-periods]
	if ref == 0 {
		return true, "degenerate BTC data"
	}
	momentum := (prices[len(prices)-1] - ref) / ref

	if in.Side == "SELL" && momentum > f.cfg.CryptoMomentumThreshold {
		return false, fmt.Sprintf("shorting %s while BTC trending up (%+.2f%%)", in.Symbol, momentum*100)
	}
	if in.Side == "BUY" && momentum < -f.cfg.CryptoMomentumThreshold {
		return false, fmt.Sprintf("buying %s while BTC trending down (%+.2f%%)", in.Symbol, momentum*100)
	}
	return true, fmt.Sprintf("crypto correlation OK (BTC momentum %+.2f%%)", momentum*100)
}

func (f *Filters) isCryptoAdjacent(symbol string) bool {
	for _, s := range f.cfg.CryptoSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	sec := sector.For(symbol)
	for _, s := range f.cfg.CryptoSectors {
		if strings.EqualFold(s, sec) {
			return true
		}
	}
	return false
}

func (f *Filters) checkLastEntry(now time.Time) (bool, string) {
	endH, endM, err := config.ParseClock(f.hours.End)
	if err != nil {
		return true, "unparseable window end"
	}
	nowMin := now.Hour()*60 + now.Minute()
	cutoff := endH*60 + endM - f.cfg.LastEntryMinutes

	if nowMin >= cutoff {
		return false, fmt.Sprintf("within last %d minutes of the window, no new entries", f.cfg.LastEntryMinutes)
	}
	return true, "within entry window"
}
