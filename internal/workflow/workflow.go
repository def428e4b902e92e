package workflow

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/approval"
	"github.com/quantfloor/engine/internal/challenger"
	"github.com/quantfloor/engine/internal/compliance"
	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/exits"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/memory"
	"github.com/quantfloor/engine/internal/metrics"
	"github.com/quantfloor/engine/internal/pm"
	"github.com/quantfloor/engine/internal/portfolio"
	"github.com/quantfloor/engine/internal/preexec"
	"github.com/quantfloor/engine/internal/regime"
	"github.com/quantfloor/engine/internal/risk"
	"github.com/quantfloor/engine/internal/scout"
	"github.com/quantfloor/engine/internal/sector"
	"github.com/quantfloor/engine/internal/shadow"
	"github.com/quantfloor/engine/internal/signals"
	"github.com/quantfloor/engine/internal/store"
)

// Benchmark symbols fetched alongside the universe every cycle.
const (
	benchmarkIndex = "SPY"
	benchmarkVol   = "VIX"
	benchmarkBTC   = "BTC-USD"
)

const maxScoringWorkers = 8

// Workflow owns one instance of every pipeline component and runs the
// full decision sequence per invocation. The store is the only state
// shared across invocations; all writes go through this single writer.
type Workflow struct {
	cfg      *config.Config
	provider marketdata.Provider
	db       *store.Store
	csv      *store.CSVMirror
	pf       *portfolio.Portfolio

	norm       *signals.Normalizer
	news       *signals.NewsScorer
	structured *signals.StructuredNewsProvider
	sectors    *sector.Filter
	shadow     *shadow.Runner
	exitMgr    *exits.Manager
	planner    *pm.PM
	riskEval   *risk.Evaluator
	comp       *compliance.Checker
	appr       *approval.Gate
	chall      *challenger.Challenger
	finance    *challenger.FinanceReview
	pre        *preexec.Filters
	mem        *memory.AgentMemory

	loc *time.Location
	now func() time.Time

	// cycleID correlates every row written during one invocation. Set at
	// the top of RunCycle; safe because the workflow is single-writer.
	cycleID string
}

// New wires the pipeline from configuration, restoring the portfolio
// snapshot when one exists.
func New(cfg *config.Config, provider marketdata.Provider, db *store.Store) (*Workflow, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	pf, err := portfolio.Load(cfg.Logging.Portfolio, cfg.Risk.Equity,
		cfg.Execution.SlippageBps, cfg.Execution.Commission)
	if err != nil {
		return nil, fmt.Errorf("workflow: restore portfolio: %w", err)
	}

	var mem *memory.AgentMemory
	if cfg.AgentMemory.Enabled {
		mem = memory.New(db.DB(), "pm", memory.Config{
			RollingWindow:      cfg.AgentMemory.RollingWindow,
			MaxAgeDays:         cfg.AgentMemory.MaxAgeDays,
			MinSamples:         cfg.AgentMemory.MinSamples,
			MaxAdjustment:      cfg.AgentMemory.MaxAdjustment,
			UnderperformThresh: cfg.AgentMemory.UnderperformThreshold,
			DecayHalflifeDays:  cfg.AgentMemory.DecayHalflifeDays,
			RegimeMatching:     cfg.AgentMemory.RegimeMatching,
		})
	}

	rss := signals.NewRSSHeadlineProvider("https://news.google.com")
	var newsScorer *signals.NewsScorer
	var structured *signals.StructuredNewsProvider
	if cfg.News.Structured && cfg.News.BaseURL != "" {
		structured = signals.NewStructuredNewsProvider(cfg.News.BaseURL, cfg.News.APIKey)
		newsScorer = signals.NewNewsScorer(structured)
	} else {
		newsScorer = signals.NewNewsScorer(rss)
	}

	sectors := sector.NewFilter(rss)

	w := &Workflow{
		cfg:        cfg,
		provider:   provider,
		db:         db,
		csv:        store.NewCSVMirror(cfg.Logging.TradesCSV, cfg.Logging.EventsCSV, cfg.Logging.SignalsCSV),
		pf:         pf,
		norm:       signals.NewNormalizer(cfg.Signals.NormLookback),
		news:       newsScorer,
		structured: structured,
		sectors:    sectors,
		shadow:     shadow.NewRunner(cfg.ShadowMode, db),
		exitMgr:    exits.New(cfg.Risk),
		planner:    pm.New(cfg, mem),
		riskEval:   risk.New(cfg.Risk, sectors),
		comp:       compliance.New(append(append([]string{}, cfg.Universe...), benchmarkIndex, benchmarkVol, benchmarkBTC)),
		appr:       approval.New(cfg.Approval.Required, cfg.Approval.File),
		chall:      challenger.New(cfg.Challenges, cfg.Signals.Weights, db),
		finance:    challenger.NewFinanceReview(cfg.PreExecution.CautionMinScore, cfg.Risk.MaxPositions, db),
		pre:        preexec.New(cfg.PreExecution, cfg.Hours),
		mem:        mem,
		loc:        loc,
		now:        time.Now,
	}
	return w, nil
}

// Portfolio exposes current state for the CLI summary.
func (w *Workflow) Portfolio() *portfolio.Portfolio { return w.pf }

// RunCycle executes one full invocation. It never returns an error for
// trading conditions; abnormal states manifest as empty plans plus event
// rows. Only infrastructure failures (store unreachable at open) surface.
func (w *Workflow) RunCycle(ctx context.Context) error {
	now := w.now().In(w.loc)
	w.cycleID = uuid.NewString()

	if reason, ok := w.withinTradingHours(now); !ok {
		metrics.CyclesSkipped.Inc()
		log.Info().Str("reason", reason).Msg("outside trading hours, skipping cycle")
		return nil
	}

	// 1. Fetch the universe plus benchmarks.
	symbols := append(append([]string{}, w.cfg.Universe...), benchmarkIndex, benchmarkVol, benchmarkBTC)
	raw, err := w.provider.Fetch(ctx, symbols)
	if err != nil {
		metrics.FetchFailures.Inc()
		w.event(ctx, store.EventWarning, "market data fetch failed", map[string]any{"error": err.Error()})
		return nil
	}

	startH, startM := w.cfg.WindowStart()
	endH, endM := w.cfg.WindowEnd()
	bars := make(map[string]marketdata.Series, len(raw))
	for sym, s := range raw {
		filtered := marketdata.FilterTradingWindow(s, w.loc, startH, startM, endH, endM)
		if len(filtered) > 0 {
			bars[sym] = filtered
		}
	}

	spyCloses := bars[benchmarkIndex].Closes()
	vixCloses := bars[benchmarkVol].Closes()
	btcCloses := bars[benchmarkBTC].Closes()

	// 2. Simple regime, mark-to-market, forced exits.
	simple := regime.DetectSimple(spyCloses, vixCloses)

	lastPrices := make(map[string]float64, len(bars))
	for sym, s := range bars {
		if c := s.LastClose(); c > 0 {
			lastPrices[sym] = c
		}
	}
	w.pf.MarkToMarket(lastPrices)

	forced := w.exitMgr.ForcedExits(w.pf, bars)

	// 3. Scout-rank the universe and score the top N in parallel.
	universeBars := make(map[string]marketdata.Series, len(bars))
	for _, sym := range w.cfg.Universe {
		if s, ok := bars[sym]; ok {
			universeBars[sym] = s
		}
	}
	ranked := scout.TopN(scout.Rank(universeBars), w.cfg.ScoutTopN)

	scores := w.scoreParallel(ctx, ranked, universeBars)

	// 4. Log every computed signal, then apply the persistence gate.
	nowUTC := now.UTC()
	for sym, sc := range scores {
		row := store.SignalRow{
			Timestamp:  nowUTC.Format(time.RFC3339),
			Symbol:     sym,
			ScoreMom:   sc.Components.Momentum,
			ScoreMean:  sc.Components.Meanrev,
			ScoreBreak: sc.Components.Breakout,
			ScoreNews:  sc.Components.News,
			WeightMom:  sc.WeightsUsed.Momentum,
			WeightMean: sc.WeightsUsed.Meanrev,
			WeightBrk:  sc.WeightsUsed.Breakout,
			WeightNews: sc.WeightsUsed.News,
			FinalScore: sc.Composite,
		}
		if err := w.db.InsertSignal(ctx, row); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("signal row insert failed")
		}
		w.csv.AppendSignal(row)
	}
	w.applyPersistenceGate(ctx, scores, nowUTC)

	// 5. Shadow models: side-effect logging plus pre-exec inputs.
	shadowPrices := make(map[string][]float64, len(ranked))
	existingSignals := make(map[string]float64, len(scores))
	for _, r := range ranked {
		shadowPrices[r.Symbol] = universeBars[r.Symbol].Closes()
	}
	for sym, sc := range scores {
		existingSignals[sym] = sc.Composite
	}
	var kalmanResults map[string]regime.KalmanResult
	if w.cfg.ShadowMode.Enabled {
		_, kalmanResults = w.shadow.Run(ctx, shadowPrices, spyCloses, existingSignals, simple.Label)
		w.shadow.FillOutcomes(ctx, lastPrices, nowUTC)
	}

	// 6. PM plan, forced exits first, then the entry cap.
	planInput := pm.Input{Ranked: ranked, Scores: scores, Closes: shadowPrices, Regime: simple}
	entries := w.planner.BuildPlans(ctx, planInput, w.pf)
	plans := append(append([]pm.Plan{}, forced...), entries...)
	plans = w.exitMgr.CapEntries(plans, len(w.pf.Positions))

	// 7. Batch gates: risk, compliance, approval.
	plans = w.batchGates(ctx, plans, bars, now)

	// 8. Per-plan gates and execution.
	fills := w.executePlans(ctx, plans, bars, btcCloses, kalmanResults, now)

	// 9. Persist and summarize.
	if fills > 0 {
		if err := w.pf.Save(w.cfg.Logging.Portfolio); err != nil {
			log.Error().Err(err).Msg("portfolio snapshot save failed")
		}
	}

	metrics.Cycles.Inc()
	w.event(ctx, store.EventInfo, "cycle complete", map[string]any{
		"cycle":   w.cycleID,
		"ranked":  len(ranked),
		"scored":  len(scores),
		"planned": len(plans),
		"fills":   fills,
		"equity":  w.pf.Equity(),
		"regime":  simple.Label,
	})
	return nil
}

func (w *Workflow) withinTradingHours(now time.Time) (string, bool) {
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return "weekend", false
	}
	if w.cfg.IsHoliday(now) {
		return "holiday", false
	}
	startH, startM := w.cfg.WindowStart()
	endH, endM := w.cfg.WindowEnd()
	m := now.Hour()*60 + now.Minute()
	if m < startH*60+startM || m > endH*60+endM {
		return "outside window", false
	}
	return "", true
}

// scoreParallel fans signal scoring out over a bounded worker pool. Only
// the coordinator writes the results map.
func (w *Workflow) scoreParallel(ctx context.Context, ranked []scout.Ranked, bars map[string]marketdata.Series) map[string]pm.Scored {
	start := time.Now()
	defer func() { metrics.SignalLatency.Observe(time.Since(start).Seconds()) }()

	workers := len(ranked)
	if workers > maxScoringWorkers {
		workers = maxScoringWorkers
	}
	if workers == 0 {
		return nil
	}

	type result struct {
		symbol string
		scored pm.Scored
	}
	jobs := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				results <- result{symbol: sym, scored: w.scoreSymbol(ctx, sym, bars[sym])}
			}
		}()
	}
	go func() {
		for _, r := range ranked {
			jobs <- r.Symbol
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	scores := make(map[string]pm.Scored, len(ranked))
	for r := range results {
		scores[r.symbol] = r.scored
	}
	return scores
}

func (w *Workflow) scoreSymbol(ctx context.Context, sym string, bars marketdata.Series) pm.Scored {
	closes := bars.Closes()
	sc := w.cfg.Signals

	raw := signals.Components{
		Momentum: signals.Momentum(closes, sc.MomentumShort),
		Meanrev:  signals.MeanReversion(closes, sc.MeanrevLong),
		Breakout: signals.Breakout(closes, sc.BreakoutLookback),
	}
	if w.structured != nil {
		if score, ok := w.structured.Score(ctx, sym); ok {
			raw.News = score
		} else {
			raw.News = w.news.Score(ctx, sym)
		}
	} else if w.news != nil {
		raw.News = w.news.Score(ctx, sym)
	}

	normalized := signals.Components{
		Momentum: w.norm.Normalize("momentum", raw.Momentum),
		Meanrev:  w.norm.Normalize("meanrev", raw.Meanrev),
		Breakout: w.norm.Normalize("breakout", raw.Breakout),
		News:     raw.News, // already scored into [-1, +1]
	}

	used, composite := signals.EffectiveWeights(normalized, sc.Weights)
	return pm.Scored{Components: normalized, WeightsUsed: used, Composite: composite}
}

// applyPersistenceGate drops scores whose sign flipped against the
// previous composite logged today for the same symbol.
func (w *Workflow) applyPersistenceGate(ctx context.Context, scores map[string]pm.Scored, now time.Time) {
	if !w.cfg.Signals.PersistenceGate {
		return
	}
	for sym, sc := range scores {
		prior, ok, err := w.db.PriorScoreToday(ctx, sym, now)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("persistence gate read failed")
			continue
		}
		if !ok {
			continue // first reading today passes
		}
		if (sc.Composite > 0) != (prior > 0) && sc.Composite != 0 && prior != 0 {
			metrics.GateRejections.WithLabelValues("persistence").Inc()
			log.Info().Str("symbol", sym).Float64("score", sc.Composite).Float64("prior", prior).
				Msg("persistence gate dropped candidate")
			delete(scores, sym)
		}
	}
}

func (w *Workflow) batchGates(ctx context.Context, plans []pm.Plan, bars map[string]marketdata.Series, now time.Time) []pm.Plan {
	if len(plans) == 0 {
		return plans
	}

	res := w.riskEval.Evaluate(ctx, plans, w.pf, bars)
	for _, note := range res.Notes {
		w.event(ctx, store.EventInfo, "risk: "+note, nil)
	}
	if !res.OK {
		metrics.GateRejections.WithLabelValues("risk").Inc()
		w.event(ctx, store.EventWarning, "risk evaluation failed, plan cleared", nil)
		return nil
	}
	plans = res.Plans

	symbols := make([]string, 0, len(plans))
	for _, p := range plans {
		symbols = append(symbols, p.Symbol)
	}
	if err := w.comp.Check(symbols); err != nil {
		metrics.GateRejections.WithLabelValues("compliance").Inc()
		w.event(ctx, store.EventWarning, err.Error(), nil)
		return nil
	}

	if ok, reason := w.appr.Check(now); !ok {
		metrics.GateRejections.WithLabelValues("approval").Inc()
		w.event(ctx, store.EventWarning, "approval gate: "+reason, nil)
		return nil
	}
	return plans
}

// executePlans runs the per-plan gate chain and fills survivors. Forced
// exits skip challenger, finance and pre-execution entirely.
func (w *Workflow) executePlans(ctx context.Context, plans []pm.Plan, bars map[string]marketdata.Series,
	btcCloses []float64, kalmanResults map[string]regime.KalmanResult, now time.Time) int {

	shared := regime.LoadSharedState(w.cfg.Logging.RegimeFile)
	fills := 0

	for _, plan := range plans {
		if !plan.IsExit() {
			if !w.gateEntry(ctx, plan, bars, btcCloses, kalmanResults, shared, now) {
				continue
			}
		}
		if w.executeOne(ctx, plan, bars, now) {
			fills++
		}
	}
	return fills
}

func (w *Workflow) gateEntry(ctx context.Context, plan pm.Plan, bars map[string]marketdata.Series,
	btcCloses []float64, kalmanResults map[string]regime.KalmanResult, shared *regime.SharedState, now time.Time) bool {

	hmm := w.currentHMM()
	verdict, challenges := w.chall.Review(ctx, plan, hmm, now)
	if verdict == challenger.VerdictReject {
		metrics.GateRejections.WithLabelValues("challenger").Inc()
		w.event(ctx, store.EventWarning, fmt.Sprintf("challenger rejected %s %s", plan.Side, plan.Symbol),
			map[string]any{"challenges": describeChallenges(challenges)})
		return false
	}
	if verdict == challenger.VerdictCaution {
		ok, reason := w.finance.Approve(ctx, plan, w.pf, now)
		if !ok {
			metrics.GateRejections.WithLabelValues("finance").Inc()
			w.event(ctx, store.EventWarning,
				fmt.Sprintf("finance review rejected %s %s: %s", plan.Side, plan.Symbol, reason), nil)
			return false
		}
	}

	var kalman *regime.KalmanResult
	if kr, ok := kalmanResults[plan.Symbol]; ok {
		kalman = &kr
	}
	res := w.pre.Check(preexec.Input{
		Symbol:    plan.Symbol,
		Side:      plan.Side,
		Score:     plan.Score,
		Price:     bars[plan.Symbol].LastClose(),
		Bars:      bars[plan.Symbol],
		Kalman:    kalman,
		Shared:    shared,
		LiveHMM:   w.currentHMMFunc(),
		BTCCloses: btcCloses,
		Now:       now,
	})
	if !res.Proceed {
		metrics.GateRejections.WithLabelValues("preexec").Inc()
		w.event(ctx, store.EventWarning,
			fmt.Sprintf("pre-execution blocked %s %s", plan.Side, plan.Symbol),
			map[string]any{"reasons": res.Reasons})
		return false
	}
	return true
}

func (w *Workflow) executeOne(ctx context.Context, plan pm.Plan, bars map[string]marketdata.Series, now time.Time) bool {
	price := bars[plan.Symbol].LastClose()
	qty := plan.Quantity
	if !plan.IsExit() {
		if price <= 0 || math.IsNaN(plan.TargetValue) || math.IsInf(plan.TargetValue, 0) {
			w.event(ctx, store.EventWarning, fmt.Sprintf("skipping %s: invalid price or target", plan.Symbol), nil)
			return false
		}
		qty = int64(plan.TargetValue / price)
	}
	if qty <= 0 {
		return false
	}

	fill, err := w.pf.Execute(plan.Symbol, plan.Side, qty, price)
	if err != nil {
		w.event(ctx, store.EventWarning, "execution skipped: "+err.Error(), nil)
		return false
	}
	metrics.TradesExecuted.WithLabelValues(fill.Side).Inc()

	trade := store.Trade{
		Timestamp: now.UTC().Format(time.RFC3339),
		Symbol:    fill.Symbol,
		Side:      fill.Side,
		Quantity:  fill.Quantity,
		Price:     fill.FillPrice,
		PnL:       fill.RealizedPnL,
		Score:     plan.Score,
		StrategyData: store.MarshalStrategyData(map[string]any{
			"cycle":             w.cycleID,
			"kind":              plan.Kind.String(),
			"reason":            plan.Reason,
			"target_value":      plan.TargetValue,
			"memory_influenced": plan.MemoryInfluenced,
			"components":        plan.Components,
		}),
	}
	if err := w.db.InsertTrade(ctx, trade); err != nil {
		log.Error().Err(err).Str("symbol", fill.Symbol).Msg("trade row insert failed")
	}
	w.csv.AppendTrade(trade)

	w.recordMemory(ctx, plan, fill, now)

	log.Info().Str("symbol", fill.Symbol).Str("side", fill.Side).Int64("qty", fill.Quantity).
		Float64("price", fill.FillPrice).Float64("pnl", fill.RealizedPnL).Str("kind", plan.Kind.String()).
		Msg("executed")
	return true
}

// recordMemory writes the reward annotation: pending on entries, win/loss
// on realized exits.
func (w *Workflow) recordMemory(ctx context.Context, plan pm.Plan, fill portfolio.Fill, now time.Time) {
	if w.mem == nil {
		return
	}
	obs := memory.Observation{
		Symbol:           fill.Symbol,
		SignalType:       "composite",
		SignalValue:      plan.Score,
		Outcome:          memory.OutcomePending,
		MemoryInfluenced: plan.MemoryInfluenced,
		Timestamp:        now.UTC().Format(time.RFC3339),
	}
	if plan.IsExit() {
		obs.PnL = fill.RealizedPnL
		if fill.RealizedPnL >= 0 {
			obs.Outcome = memory.OutcomeWin
		} else {
			obs.Outcome = memory.OutcomeLoss
		}
	}
	if err := w.mem.Record(ctx, obs); err != nil {
		log.Warn().Err(err).Msg("memory record failed")
	}
}

func (w *Workflow) currentHMM() regime.HMMPrediction {
	if pred := w.shadow.LastHMM(); pred != nil {
		return *pred
	}
	return regime.NewHMMDetector(0, 0).Predict(nil)
}

func (w *Workflow) currentHMMFunc() func() regime.HMMPrediction {
	return func() regime.HMMPrediction { return w.currentHMM() }
}

func (w *Workflow) event(ctx context.Context, level, message string, metadata any) {
	if err := w.db.LogEvent(ctx, level, message, metadata); err != nil {
		log.Warn().Err(err).Str("message", message).Msg("event row insert failed")
	}
	w.csv.AppendEvent(level, message)
}

func describeChallenges(challenges []challenger.Challenge) []string {
	out := make([]string, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, fmt.Sprintf("%s(%s): %s", c.Agent, c.Severity, c.Reason))
	}
	return out
}
