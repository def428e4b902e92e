package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

// Outcome labels for an observation.
const (
	OutcomeWin     = "win"
	OutcomeLoss    = "loss"
	OutcomePending = "pending"
)

// Observation is one entry in an agent's append-only history.
type Observation struct {
	ID               int64   `db:"id"`
	AgentName        string  `db:"agent_name"`
	Symbol           string  `db:"symbol"`
	SignalType       string  `db:"signal_type"`
	SignalValue      float64 `db:"signal_value"`
	Outcome          string  `db:"outcome"`
	PnL              float64 `db:"pnl"`
	RegimeSPY        string  `db:"regime_spy"`
	RegimeVIX        string  `db:"regime_vix"`
	RegimeLabel      string  `db:"regime_label"`
	Confidence       float64 `db:"confidence"`
	MemoryInfluenced bool    `db:"memory_influenced"`
	Timestamp        string  `db:"timestamp"`
	CreatedAt        string  `db:"created_at"`

	// Weight is the decay weight attached by Recall; not persisted.
	Weight float64 `db:"-"`
}

// Accuracy is a decay-weighted performance summary.
type Accuracy struct {
	WinRate float64
	AvgPnL  float64
	Samples int
}

// Config tunes retention and the adjustment guardrails.
type Config struct {
	RollingWindow        int
	MaxAgeDays           int
	MinSamples           int
	MaxAdjustment        float64
	UnderperformThresh   float64
	DecayHalflifeDays    float64
	RegimeMatching       bool
}

// AgentMemory gives one named agent recall over its past observations and
// a bounded say in its own signal weight. The disabled flag is in-process
// only; it resets on restart.
type AgentMemory struct {
	db       *sqlx.DB
	agent    string
	cfg      Config
	disabled bool
}

// New binds an agent name to the shared observation log.
func New(db *sqlx.DB, agent string, cfg Config) *AgentMemory {
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 50
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 90
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.DecayHalflifeDays <= 0 {
		cfg.DecayHalflifeDays = 14
	}
	return &AgentMemory{db: db, agent: agent, cfg: cfg}
}

// Disabled reports whether the auto-disable guard has tripped this run.
func (m *AgentMemory) Disabled() bool { return m.disabled }

// Record appends an observation and prunes: entries older than
// max_age_days go, then only the most recent rolling_window remain.
func (m *AgentMemory) Record(ctx context.Context, obs Observation) error {
	if obs.Timestamp == "" {
		obs.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO agent_memory (agent_name, symbol, signal_type, signal_value,
			outcome, pnl, regime_spy, regime_vix, regime_label, confidence,
			memory_influenced, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.agent, obs.Symbol, obs.SignalType, obs.SignalValue,
		obs.Outcome, obs.PnL, obs.RegimeSPY, obs.RegimeVIX, obs.RegimeLabel,
		obs.Confidence, obs.MemoryInfluenced, obs.Timestamp)
	if err != nil {
		return fmt.Errorf("record observation for %s: %w", m.agent, err)
	}
	return m.prune(ctx)
}

func (m *AgentMemory) prune(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.MaxAgeDays).Format(time.RFC3339)
	if _, err := m.db.ExecContext(ctx, `
		DELETE FROM agent_memory WHERE agent_name = ? AND timestamp < ?`,
		m.agent, cutoff); err != nil {
		return fmt.Errorf("prune aged memory for %s: %w", m.agent, err)
	}

	_, err := m.db.ExecContext(ctx, `
		DELETE FROM agent_memory
		WHERE agent_name = ? AND id NOT IN (
			SELECT id FROM agent_memory
			WHERE agent_name = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?)`,
		m.agent, m.agent, m.cfg.RollingWindow)
	if err != nil {
		return fmt.Errorf("prune rolling window for %s: %w", m.agent, err)
	}
	return nil
}

// Recall returns observations, most recent first, each tagged with an
// exponential decay weight 2^(-age/halflife). Empty symbol or regime
// matches everything.
func (m *AgentMemory) Recall(ctx context.Context, symbol, regime string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = m.cfg.RollingWindow
	}

	query := `SELECT * FROM agent_memory WHERE agent_name = ?`
	args := []any{m.agent}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if regime != "" && m.cfg.RegimeMatching {
		query += ` AND regime_label = ?`
		args = append(args, regime)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var obs []Observation
	if err := m.db.SelectContext(ctx, &obs, query, args...); err != nil {
		return nil, fmt.Errorf("recall memory for %s: %w", m.agent, err)
	}

	now := time.Now().UTC()
	for i := range obs {
		obs[i].Weight = decayWeight(obs[i].Timestamp, now, m.cfg.DecayHalflifeDays)
	}
	return obs, nil
}

func decayWeight(ts string, now time.Time, halflifeDays float64) float64 {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 1
	}
	ageDays := now.Sub(t).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(2, -ageDays/halflifeDays)
}

// SignalAccuracy returns the decay-weighted win rate and average PnL for
// resolved observations, or ok=false when fewer than min_samples exist.
func (m *AgentMemory) SignalAccuracy(ctx context.Context, signalType, regime string) (Accuracy, bool, error) {
	obs, err := m.Recall(ctx, "", regime, m.cfg.RollingWindow)
	if err != nil {
		return Accuracy{}, false, err
	}

	var wins, total, pnlSum float64
	samples := 0
	for _, o := range obs {
		if signalType != "" && o.SignalType != signalType {
			continue
		}
		if o.Outcome != OutcomeWin && o.Outcome != OutcomeLoss {
			continue
		}
		samples++
		total += o.Weight
		pnlSum += o.PnL * o.Weight
		if o.Outcome == OutcomeWin {
			wins += o.Weight
		}
	}
	if samples < m.cfg.MinSamples || total == 0 {
		return Accuracy{}, false, nil
	}
	return Accuracy{
		WinRate: wins / total,
		AvgPnL:  pnlSum / total,
		Samples: samples,
	}, true, nil
}
