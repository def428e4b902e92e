package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters. Registered on the default registry; the run command
// exposes them only when an operator points a scraper at the process via
// the standard handler.
var (
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_cycles_total",
		Help: "Completed workflow invocations.",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_cycles_skipped_total",
		Help: "Invocations skipped by the trading-hours gate.",
	})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_total",
		Help: "Executed fills by side.",
	}, []string{"side"})

	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gate_rejections_total",
		Help: "Candidates rejected, by gate.",
	}, []string{"gate"})

	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_fetch_failures_total",
		Help: "Market data fetch failures.",
	})

	SignalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_signal_fanout_seconds",
		Help:    "Wall time of the parallel signal scoring stage.",
		Buckets: prometheus.DefBuckets,
	})
)
