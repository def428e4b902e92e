package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single hierarchical configuration document for the engine.
// Every knob the decision pipeline consults lives here; components receive
// the sections they need rather than the whole document.
type Config struct {
	Data         DataConfig       `yaml:"data"`
	Hours        HoursConfig      `yaml:"hours"`
	Universe     []string         `yaml:"universe"`
	ScoutTopN    int              `yaml:"scout_top_n"`
	Signals      SignalsConfig    `yaml:"signals"`
	Risk         RiskConfig       `yaml:"risk"`
	Execution    ExecutionConfig  `yaml:"execution"`
	PreExecution PreExecConfig    `yaml:"pre_execution"`
	Challenges   ChallengesConfig `yaml:"challenges"`
	ShadowMode   ShadowConfig     `yaml:"shadow_mode"`
	AgentMemory  MemoryConfig     `yaml:"agent_memory"`
	Approval     ApprovalConfig   `yaml:"approval"`
	News         NewsConfig       `yaml:"news"`
	Logging      LoggingConfig    `yaml:"logging"`
}

// DataConfig controls the bar interval and lookback window for fetches.
type DataConfig struct {
	Interval string `yaml:"interval"` // bar size, e.g. "5m"
	Lookback string `yaml:"lookback"` // e.g. "5d"
}

// HoursConfig defines the trading window in the market's local timezone.
type HoursConfig struct {
	TZ       string   `yaml:"tz"`
	Start    string   `yaml:"start"` // "HH:MM"
	End      string   `yaml:"end"`   // "HH:MM"
	Holidays []string `yaml:"holidays"`
}

// Recognized sizing methods.
const (
	SizingVolatility      = "volatility"
	SizingFixedFractional = "fixed_fractional"
	SizingKelly           = "kelly"
)

// SignalsConfig holds per-signal parameters, composite weights and sizing.
type SignalsConfig struct {
	Weights              Weights `yaml:"weights"`
	TradeThreshold       float64 `yaml:"trade_threshold"`
	MomentumShort        int     `yaml:"momentum_short"`
	BreakoutLookback     int     `yaml:"breakout_lookback"`
	MeanrevLong          int     `yaml:"meanrev_long"`
	NormLookback         int     `yaml:"norm_lookback"`
	SizingMethod         string  `yaml:"sizing_method"` // see Sizing* constants
	FixedFraction        float64 `yaml:"fixed_fraction"`
	CorrelationThreshold float64 `yaml:"correlation_threshold"`
	MaxTradesPerCycle    int     `yaml:"max_trades_per_cycle"`
	PersistenceGate      bool    `yaml:"persistence_gate"`
}

// Weights are the configured per-signal composite weights. When news is
// absent or zero-weighted the remaining weights are renormalized at the
// single point in signals.EffectiveWeights.
type Weights struct {
	Momentum float64 `yaml:"momentum"`
	Meanrev  float64 `yaml:"meanrev"`
	Breakout float64 `yaml:"breakout"`
	News     float64 `yaml:"news"`
}

// RiskConfig holds position, stop and exit thresholds.
type RiskConfig struct {
	Equity                 float64 `yaml:"equity"` // starting cash
	MaxPositions           int     `yaml:"max_positions"`
	MaxPositionPct         float64 `yaml:"max_position_pct"`
	StopLoss               float64 `yaml:"stop_loss"` // hard fallback
	ATRStopMultiplier      float64 `yaml:"atr_stop_multiplier"`
	ATRPeriod              int     `yaml:"atr_period"`
	MinATRPct              float64 `yaml:"min_atr_pct"`
	MaxATRPct              float64 `yaml:"max_atr_pct"`
	BreakevenTrigger       float64 `yaml:"trailing_breakeven_trigger"`
	TrailTrigger           float64 `yaml:"trailing_trigger"`
	TrailPct               float64 `yaml:"trailing_pct"`
	WideTrailTrigger       float64 `yaml:"wide_trail_trigger"`
	WideTrailPct           float64 `yaml:"wide_trail_pct"`
	TakeProfit             float64 `yaml:"take_profit"`
	PortfolioKillPct       float64 `yaml:"portfolio_kill_pct"`
	SectorFilterThreshold  float64 `yaml:"sector_filter_threshold"`
}

// ExecutionConfig models simulated fill costs.
type ExecutionConfig struct {
	SlippageBps float64 `yaml:"slippage_bps"`
	Commission  float64 `yaml:"commission"` // per share
}

// PreExecConfig holds the final pre-trade gate thresholds.
type PreExecConfig struct {
	VolumeLookback          int      `yaml:"volume_lookback"`
	VolumeMinRatio          float64  `yaml:"volume_min_ratio"`
	MorningCutoffHour       int      `yaml:"morning_cutoff_hour"`
	MorningCutoffMinute     int      `yaml:"morning_cutoff_minute"`
	MorningMinScore         float64  `yaml:"morning_min_score"`
	MorningRequireKalman    bool     `yaml:"morning_require_kalman"`
	CryptoMomentumPeriods   int      `yaml:"crypto_momentum_periods"`
	CryptoMomentumThreshold float64  `yaml:"crypto_momentum_threshold"`
	CryptoSymbols           []string `yaml:"crypto_symbols"`
	CryptoSectors           []string `yaml:"crypto_sectors"`
	KalmanAgreementRequired bool     `yaml:"kalman_agreement_required"`
	MinPrice                float64  `yaml:"min_price"`
	LastEntryMinutes        int      `yaml:"last_entry_minutes"`
	CautionMinScore         float64  `yaml:"caution_min_score"`
}

// ChallengesConfig tunes the rule-based veto set.
type ChallengesConfig struct {
	DisagreementThreshold  float64 `yaml:"disagreement_threshold"`
	ReentryCooldownMinutes int     `yaml:"reentry_cooldown_minutes"`
	MinNewsScore           float64 `yaml:"min_news_score"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses"`
}

// ShadowConfig controls the side-effect-only Kalman/HMM runner.
type ShadowConfig struct {
	Enabled bool         `yaml:"enabled"`
	Kalman  KalmanConfig `yaml:"kalman"`
	HMM     HMMConfig    `yaml:"hmm"`
}

type KalmanConfig struct {
	ProcessVariance     float64 `yaml:"process_variance"`
	MeasurementVariance float64 `yaml:"measurement_variance"`
}

type HMMConfig struct {
	NStates       int `yaml:"n_states"`
	Lookback      int `yaml:"lookback"`
	RefitInterval int `yaml:"refit_interval"`
}

// MemoryConfig tunes per-agent memory and its guardrails.
type MemoryConfig struct {
	Enabled               bool    `yaml:"enabled"`
	RollingWindow         int     `yaml:"rolling_window"`
	MaxAgeDays            int     `yaml:"max_age_days"`
	MinSamples            int     `yaml:"min_samples"`
	MaxAdjustment         float64 `yaml:"max_adjustment"`
	UnderperformThreshold float64 `yaml:"underperform_threshold"`
	DecayHalflifeDays     float64 `yaml:"decay_halflife_days"`
	RegimeMatching        bool    `yaml:"regime_matching"`
}

// ApprovalConfig points at the external human-approval document.
type ApprovalConfig struct {
	Required bool   `yaml:"required"`
	File     string `yaml:"file"`
}

// NewsConfig selects between the structured sentiment provider and the
// keyword-lexicon fallback.
type NewsConfig struct {
	Structured bool   `yaml:"structured"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
}

// LoggingConfig locates the persistent store and CSV mirrors.
type LoggingConfig struct {
	TradesCSV  string `yaml:"trades_csv"`
	EventsCSV  string `yaml:"events_csv"`
	SignalsCSV string `yaml:"signals_csv"`
	DBPath     string `yaml:"db_path"`
	RegimeFile string `yaml:"regime_file"`
	Portfolio  string `yaml:"portfolio_file"`
}

// Default returns the baseline configuration the engine ships with.
func Default() *Config {
	return &Config{
		Data:      DataConfig{Interval: "5m", Lookback: "5d"},
		Hours:     HoursConfig{TZ: "America/New_York", Start: "09:30", End: "16:00"},
		ScoutTopN: 8,
		Signals: SignalsConfig{
			Weights:              Weights{Momentum: 0.4, Meanrev: 0.2, Breakout: 0.3, News: 0.1},
			TradeThreshold:       0.15,
			MomentumShort:        10,
			BreakoutLookback:     10,
			MeanrevLong:          20,
			NormLookback:         100,
			SizingMethod:         "volatility",
			FixedFraction:        0.01,
			CorrelationThreshold: 0.7,
			MaxTradesPerCycle:    3,
			PersistenceGate:      true,
		},
		Risk: RiskConfig{
			Equity:                5000,
			MaxPositions:          2,
			MaxPositionPct:        0.5,
			StopLoss:              0.02,
			ATRStopMultiplier:     1.5,
			ATRPeriod:             14,
			MinATRPct:             0.003,
			MaxATRPct:             0.08,
			BreakevenTrigger:      0.02,
			TrailTrigger:          0.03,
			TrailPct:              0.015,
			WideTrailTrigger:      0.10,
			WideTrailPct:          0.025,
			TakeProfit:            0.06,
			PortfolioKillPct:      0.03,
			SectorFilterThreshold: -0.15,
		},
		Execution: ExecutionConfig{SlippageBps: 5, Commission: 0.005},
		PreExecution: PreExecConfig{
			VolumeLookback:          20,
			VolumeMinRatio:          1.0,
			MorningCutoffHour:       10,
			MorningCutoffMinute:     30,
			MorningMinScore:         0.6,
			MorningRequireKalman:    true,
			CryptoMomentumPeriods:   10,
			CryptoMomentumThreshold: 0.003,
			KalmanAgreementRequired: true,
			MinPrice:                5.0,
			LastEntryMinutes:        30,
			CautionMinScore:         0.3,
		},
		Challenges: ChallengesConfig{
			DisagreementThreshold:  1.0,
			ReentryCooldownMinutes: 60,
			MaxConsecutiveLosses:   3,
		},
		ShadowMode: ShadowConfig{
			Enabled: true,
			Kalman:  KalmanConfig{ProcessVariance: 1e-5, MeasurementVariance: 1e-3},
			HMM:     HMMConfig{NStates: 3, Lookback: 60, RefitInterval: 5},
		},
		AgentMemory: MemoryConfig{
			Enabled:               true,
			RollingWindow:         50,
			MaxAgeDays:            90,
			MinSamples:            10,
			MaxAdjustment:         0.20,
			UnderperformThreshold: 0.10,
			DecayHalflifeDays:     14,
			RegimeMatching:        true,
		},
		Approval: ApprovalConfig{Required: true, File: "approval.json"},
		Logging: LoggingConfig{
			TradesCSV:  "trading_logs/trades.csv",
			EventsCSV:  "trading_logs/events.csv",
			SignalsCSV: "trading_logs/signals.csv",
			DBPath:     "trading.db",
			RegimeFile: "regime_state.json",
			Portfolio:  "portfolio.json",
		},
	}
}

// Load reads a YAML document, layering it over Default and validating.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects documents the engine cannot safely trade with.
func (c *Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("config: universe is empty")
	}
	if c.ScoutTopN <= 0 {
		return fmt.Errorf("config: scout_top_n must be positive, got %d", c.ScoutTopN)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("config: risk.max_positions must be positive, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.Equity <= 0 {
		return fmt.Errorf("config: risk.equity must be positive, got %.2f", c.Risk.Equity)
	}
	switch c.Signals.SizingMethod {
	case SizingVolatility, SizingFixedFractional, SizingKelly:
	default:
		return fmt.Errorf("config: unknown sizing_method %q", c.Signals.SizingMethod)
	}
	if n := c.ShadowMode.HMM.NStates; n != 0 && n != 3 {
		return fmt.Errorf("config: shadow_mode.hmm.n_states must be 3, got %d", n)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: hours.tz: %w", err)
	}
	if _, _, err := ParseClock(c.Hours.Start); err != nil {
		return fmt.Errorf("config: hours.start: %w", err)
	}
	if _, _, err := ParseClock(c.Hours.End); err != nil {
		return fmt.Errorf("config: hours.end: %w", err)
	}
	for _, h := range c.Hours.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("config: holiday %q: %w", h, err)
		}
	}
	return nil
}

// Location resolves the configured market timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Hours.TZ
	if tz == "" {
		tz = "America/New_York"
	}
	return time.LoadLocation(tz)
}

// WindowStart returns the trading-window open as hour/minute.
func (c *Config) WindowStart() (int, int) {
	h, m, _ := ParseClock(c.Hours.Start)
	return h, m
}

// WindowEnd returns the trading-window close as hour/minute.
func (c *Config) WindowEnd() (int, int) {
	h, m, _ := ParseClock(c.Hours.End)
	return h, m
}

// IsHoliday reports whether d falls on a configured holiday.
func (c *Config) IsHoliday(d time.Time) bool {
	day := d.Format("2006-01-02")
	for _, h := range c.Hours.Holidays {
		if h == day {
			return true
		}
	}
	return false
}

func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
