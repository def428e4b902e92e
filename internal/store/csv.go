package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVMirror appends human-readable copies of trade, event and signal rows
// next to the store, for spreadsheet review without opening the database.
// Mirrors are best-effort: failures log a warning and never surface to the
// cycle. An empty path disables that mirror.
type CSVMirror struct {
	mu      sync.Mutex
	trades  string
	events  string
	signals string
}

// NewCSVMirror builds a mirror over the configured file paths.
func NewCSVMirror(trades, events, signals string) *CSVMirror {
	return &CSVMirror{trades: trades, events: events, signals: signals}
}

var (
	tradeHeader = []string{"timestamp", "symbol", "side", "quantity", "price", "pnl", "score"}
	eventHeader = []string{"timestamp", "level", "message"}
	// Column order matches the historical signal log consumers.
	signalHeader = []string{
		"timestamp", "symbol", "side",
		"score_mom", "score_mean", "score_break", "score_news",
		"weight_mom", "weight_mean", "weight_break", "weight_news",
		"final_score", "outcome_pnl",
	}
)

// AppendTrade mirrors one fill.
func (m *CSVMirror) AppendTrade(t Trade) {
	m.append(m.trades, tradeHeader, []string{
		t.Timestamp, t.Symbol, t.Side,
		strconv.FormatInt(t.Quantity, 10),
		formatFloat(t.Price), formatFloat(t.PnL), formatFloat(t.Score),
	})
}

// AppendEvent mirrors one audit entry.
func (m *CSVMirror) AppendEvent(level, message string) {
	m.append(m.events, eventHeader, []string{formatTS(time.Now()), level, message})
}

// AppendSignal mirrors one scoring record. The side and outcome columns
// exist for downstream joins against the trade log and stay empty and
// zero here.
func (m *CSVMirror) AppendSignal(row SignalRow) {
	m.append(m.signals, signalHeader, []string{
		row.Timestamp, row.Symbol, "",
		formatFloat(row.ScoreMom), formatFloat(row.ScoreMean),
		formatFloat(row.ScoreBreak), formatFloat(row.ScoreNews),
		formatFloat(row.WeightMom), formatFloat(row.WeightMean),
		formatFloat(row.WeightBrk), formatFloat(row.WeightNews),
		formatFloat(row.FinalScore), "0",
	})
}

// append writes the header on first touch, then the record.
func (m *CSVMirror) append(path string, header, record []string) {
	if m == nil || path == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.appendLocked(path, header, record); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("csv mirror append failed")
	}
}

func (m *CSVMirror) appendLocked(path string, header, record []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create mirror dir: %w", err)
		}
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write mirror header: %w", err)
		}
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write mirror row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
