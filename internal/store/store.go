package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the engine's append log: trades, signals, events, shadow
// predictions and agent memory share one local database. All writes come
// from the single-writer workflow; readers may run concurrently.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price REAL NOT NULL,
	pnl REAL NOT NULL DEFAULT 0,
	score REAL NOT NULL DEFAULT 0,
	strategy_data TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT NOT NULL,
	score_mom REAL, score_mean REAL, score_break REAL, score_news REAL,
	weight_mom REAL, weight_mean REAL, weight_break REAL, weight_news REAL,
	final_score REAL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);
CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS shadow_predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT,
	kalman_signal REAL, kalman_level REAL, kalman_trend REAL, kalman_uncertainty REAL,
	existing_signal REAL,
	hmm_state TEXT,
	hmm_bull_prob REAL, hmm_bear_prob REAL, hmm_transition_prob REAL, hmm_transition_risk REAL,
	existing_regime TEXT,
	actual_return_1h REAL,
	actual_return_1d REAL,
	outcome_filled INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_shadow_timestamp ON shadow_predictions(timestamp);
CREATE INDEX IF NOT EXISTS idx_shadow_symbol ON shadow_predictions(symbol);

CREATE TABLE IF NOT EXISTS agent_memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL,
	symbol TEXT,
	signal_type TEXT,
	signal_value REAL,
	outcome TEXT,
	pnl REAL NOT NULL DEFAULT 0,
	regime_spy TEXT,
	regime_vix TEXT,
	regime_label TEXT,
	confidence REAL,
	memory_influenced INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agent_memory_agent ON agent_memory(agent_name);
CREATE INDEX IF NOT EXISTS idx_agent_memory_regime ON agent_memory(regime_label);
CREATE INDEX IF NOT EXISTS idx_agent_memory_timestamp ON agent_memory(timestamp);
`

// Open connects to (creating if needed) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// Single-writer discipline; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &Store{db: db, timeout: 5 * time.Second}, nil
}

// DB exposes the underlying handle for collaborating repositories
// (agent memory shares the store's database).
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// Timestamps persist as ISO-8601 strings; conversion happens only here.
func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339) }
