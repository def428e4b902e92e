package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidatesWithUniverse(t *testing.T) {
	cfg := Default()
	cfg.Universe = []string{"AAPL"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "America/New_York", cfg.Hours.TZ)
	assert.Equal(t, SizingVolatility, cfg.Signals.SizingMethod)
	assert.InDelta(t, 1.0, cfg.Signals.Weights.Momentum+cfg.Signals.Weights.Meanrev+
		cfg.Signals.Weights.Breakout+cfg.Signals.Weights.News, 1e-9)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	doc := `
universe: [AAPL, NVDA]
scout_top_n: 4
signals:
  trade_threshold: 0.25
risk:
  equity: 12000
`
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "NVDA"}, cfg.Universe)
	assert.Equal(t, 4, cfg.ScoutTopN)
	assert.InDelta(t, 0.25, cfg.Signals.TradeThreshold, 1e-9)
	assert.InDelta(t, 12000, cfg.Risk.Equity, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Risk.MaxPositions)
	assert.Equal(t, "09:30", cfg.Hours.Start)
	assert.True(t, cfg.ShadowMode.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Universe = []string{"AAPL"}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty universe", func(c *Config) { c.Universe = nil }, "universe"},
		{"zero scout", func(c *Config) { c.ScoutTopN = 0 }, "scout_top_n"},
		{"zero positions", func(c *Config) { c.Risk.MaxPositions = 0 }, "max_positions"},
		{"negative equity", func(c *Config) { c.Risk.Equity = -1 }, "equity"},
		{"bad sizing", func(c *Config) { c.Signals.SizingMethod = "martingale" }, "sizing_method"},
		{"bad tz", func(c *Config) { c.Hours.TZ = "Mars/Olympus" }, "tz"},
		{"bad clock", func(c *Config) { c.Hours.Start = "9am" }, "hours.start"},
		{"bad holiday", func(c *Config) { c.Hours.Holidays = []string{"July 4"} }, "holiday"},
		{"hmm states", func(c *Config) { c.ShadowMode.HMM.NStates = 5 }, "n_states"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("930")
	assert.Error(t, err)
}

func TestIsHoliday(t *testing.T) {
	cfg := Default()
	cfg.Hours.Holidays = []string{"2026-01-01", "2026-07-03"}

	assert.True(t, cfg.IsHoliday(time.Date(2026, 7, 3, 12, 0, 0, 0, time.UTC)))
	assert.False(t, cfg.IsHoliday(time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC)))
}

func TestWindowBounds(t *testing.T) {
	cfg := Default()
	h, m := cfg.WindowStart()
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)
	h, m = cfg.WindowEnd()
	assert.Equal(t, 16, h)
	assert.Equal(t, 0, m)
}
