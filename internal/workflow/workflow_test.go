package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/store"
)

// stubProvider serves canned bars and counts fetches.
type stubProvider struct {
	bars  map[string]marketdata.Series
	calls int
}

func (p *stubProvider) Fetch(_ context.Context, _ []string) (map[string]marketdata.Series, error) {
	p.calls++
	return p.bars, nil
}

// tradingDay is a Tuesday; the window checks run against clock, weekday
// and holidays in the configured timezone.
func tradingDay(t *testing.T, loc *time.Location) time.Time {
	t.Helper()
	return time.Date(2026, 8, 25, 12, 0, 0, 0, loc)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Universe = []string{"AAPL", "MSFT"}
	cfg.Approval.Required = false
	cfg.Approval.File = filepath.Join(dir, "approval.json")
	// An unreachable local endpoint keeps the news signal neutral.
	cfg.News.Structured = true
	cfg.News.BaseURL = "http://127.0.0.1:1"
	// Entries stay out of these tests; the composite cannot reach this.
	cfg.Signals.TradeThreshold = 1.5
	cfg.Logging.DBPath = filepath.Join(dir, "test.db")
	cfg.Logging.Portfolio = filepath.Join(dir, "portfolio.json")
	cfg.Logging.RegimeFile = filepath.Join(dir, "regime_state.json")
	cfg.Logging.TradesCSV = filepath.Join(dir, "trades.csv")
	cfg.Logging.EventsCSV = filepath.Join(dir, "events.csv")
	cfg.Logging.SignalsCSV = filepath.Join(dir, "signals.csv")
	require.NoError(t, cfg.Validate())
	return cfg
}

// intradayBars builds a 5m series inside the trading window ending at the
// given close, with high volume so no filter trips on thin tape.
func intradayBars(day time.Time, start, end float64, n int) marketdata.Series {
	bars := make(marketdata.Series, n)
	step := (end - start) / float64(n-1)
	base := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, day.Location())
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = marketdata.Bar{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c, High: c * 1.002, Low: c * 0.998, Close: c,
			Volume: 1e6,
		}
	}
	return bars
}

func newTestWorkflow(t *testing.T, cfg *config.Config, bars map[string]marketdata.Series) (*Workflow, *stubProvider, *store.Store) {
	t.Helper()
	db, err := store.Open(cfg.Logging.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider := &stubProvider{bars: bars}
	w, err := New(cfg, provider, db)
	require.NoError(t, err)
	return w, provider, db
}

func marketBars(day time.Time) map[string]marketdata.Series {
	return map[string]marketdata.Series{
		"AAPL":    intradayBars(day, 100, 80, 16), // 20% slide, past any stop
		"MSFT":    intradayBars(day, 300, 303, 16),
		"SPY":     intradayBars(day, 400, 402, 16),
		"VIX":     intradayBars(day, 15, 15.2, 16),
		"BTC-USD": intradayBars(day, 60000, 60500, 16),
	}
}

func TestRunCycleOutsideHoursIsNoOp(t *testing.T) {
	cfg := testConfig(t)
	w, provider, db := newTestWorkflow(t, cfg, nil)

	loc, _ := cfg.Location()
	day := tradingDay(t, loc)
	cfg.Hours.Holidays = []string{day.Format("2006-01-02")}
	w.now = func() time.Time { return day }

	cashBefore := w.pf.Cash
	require.NoError(t, w.RunCycle(context.Background()))

	assert.Equal(t, 0, provider.calls, "no fetch outside trading hours")
	assert.Equal(t, cashBefore, w.pf.Cash)

	trades, err := db.TradesOn(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, trades)
	events, err := db.EventsOn(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = os.Stat(cfg.Logging.Portfolio)
	assert.True(t, os.IsNotExist(err), "no snapshot written")
}

func TestRunCycleForcedExitExecutes(t *testing.T) {
	cfg := testConfig(t)
	loc, _ := cfg.Location()
	day := tradingDay(t, loc)

	w, provider, db := newTestWorkflow(t, cfg, marketBars(day))
	w.now = func() time.Time { return day }

	_, err := w.pf.Execute("AAPL", "BUY", 10, 100)
	require.NoError(t, err)

	require.NoError(t, w.RunCycle(context.Background()))
	assert.Equal(t, 1, provider.calls)

	// The 20% slide trips the stop ladder; the exit bypasses entry gates.
	trades, err := db.TradesOn(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "SELL", trades[0].Side)
	assert.Equal(t, int64(10), trades[0].Quantity)
	assert.Negative(t, trades[0].PnL)
	assert.Empty(t, w.pf.Positions)

	// Signal rows cover the scored universe; the CSV mirrors track the
	// store writes.
	var signalCount int
	require.NoError(t, db.DB().Get(&signalCount, `SELECT COUNT(*) FROM signals`))
	assert.Equal(t, 2, signalCount)
	for _, f := range []string{cfg.Logging.TradesCSV, cfg.Logging.SignalsCSV, cfg.Logging.EventsCSV} {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}
	_, err = os.Stat(cfg.Logging.Portfolio)
	assert.NoError(t, err, "snapshot saved after fills")

	events, err := db.EventsOn(context.Background(), time.Now())
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.Message == "cycle complete" {
			found = true
		}
	}
	assert.True(t, found, "cycle completion event logged")
}

func TestRunCycleApprovalClearsBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Approval.Required = true
	loc, _ := cfg.Location()
	day := tradingDay(t, loc)

	w, _, db := newTestWorkflow(t, cfg, marketBars(day))
	w.now = func() time.Time { return day }

	_, err := w.pf.Execute("AAPL", "BUY", 10, 100)
	require.NoError(t, err)

	require.NoError(t, w.RunCycle(context.Background()))

	// Even a pending forced exit is held when the approval document is
	// absent; the position survives the cycle.
	trades, err := db.TradesOn(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Len(t, w.pf.Positions, 1)

	events, err := db.EventsOn(context.Background(), time.Now())
	require.NoError(t, err)
	denied := false
	for _, e := range events {
		if e.Level == store.EventWarning && strings.HasPrefix(e.Message, "approval gate") {
			denied = true
		}
	}
	assert.True(t, denied, "approval denial is audited")
}
