package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfloor/engine/internal/config"
	"github.com/quantfloor/engine/internal/marketdata"
	"github.com/quantfloor/engine/internal/store"
	"github.com/quantfloor/engine/internal/workflow"
)

var (
	configPath string
	dataURL    string
	verbose    bool
)

// rootCmd is the base command for the engine CLI.
var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Intraday multi-signal equity trading engine",
	Long: `The engine scores a configured universe of symbols each cycle, builds a
candidate order plan, routes every candidate through layered risk,
compliance, challenge and pre-execution gates, and manages exits on open
positions with adaptive stops. Trades, signals, shadow predictions and
agent memory persist to a local store.`,
}

// runCmd implements 'engine run --config <path>': one full invocation.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one decision cycle",
	Long: `Run executes a single workflow invocation: fetch bars, rank and score
the universe, plan, gate, execute and persist. Outside trading hours the
run is a no-op and still exits 0.`,
	RunE: runCycle,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "configs/engine.yaml", "path to the engine configuration")
	runCmd.Flags().StringVar(&dataURL, "data-url", "http://localhost:8900", "OHLCV source base URL")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(configPath)
	if err != nil {
		recordStartupFailure(config.Default().Logging.DBPath, err)
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Logging.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	provider := marketdata.NewHTTPProvider(dataURL, cfg.Data.Interval, cfg.Data.Lookback, loc)

	wf, err := workflow.New(cfg, provider, db)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	if err := wf.RunCycle(ctx); err != nil {
		return err
	}

	pf := wf.Portfolio()
	log.Info().Float64("cash", pf.Cash).Float64("equity", pf.Equity()).
		Int("positions", len(pf.Positions)).Msg("cycle finished")
	return nil
}

// recordStartupFailure best-effort writes a rejected startup to the audit
// trail at the default store location, so a bad config edit is visible to
// the operator after the fact. The original error still aborts the run.
func recordStartupFailure(dbPath string, cause error) {
	db, err := store.Open(dbPath)
	if err != nil {
		log.Warn().Err(err).Msg("could not open store to audit startup failure")
		return
	}
	defer db.Close()
	if err := db.LogEvent(context.Background(), store.EventCritical, "startup aborted: "+cause.Error(), nil); err != nil {
		log.Warn().Err(err).Msg("startup failure event insert failed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
