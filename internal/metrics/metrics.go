// Package metrics exposes the Prometheus series the engine maintains.
// Registered once in init() and served by the REST surface's /metrics route.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MonitorExitsTotal counts exit dispatches split by reason. Grounded on
	// bot_exit_reasons_total{reason,side} from the coinbase bot in the pack;
	// this engine has no "side" label since a monitor's direction is fixed at
	// construction and carried in the reason's monitor, not per-exit.
	MonitorExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_exits_total",
			Help: "Count of position-monitor exit dispatches, split by exit reason.",
		},
		[]string{"reason"},
	)

	// TickThroughput tracks ticks applied per update_prices call, as a gauge
	// of the most recent batch size (a coarse proxy, not a rate).
	TickThroughput = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tick_throughput",
			Help: "Number of ticks applied in the most recent update_prices batch.",
		},
	)

	// RestartCount counts restarts scheduled by RestartScheduler.
	RestartCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "restart_count",
			Help: "Number of auto-restarts scheduled after a completed execution.",
		},
	)

	// BacktestDurationSeconds observes wall-clock time to run one backtest.
	BacktestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backtest_duration_seconds",
			Help:    "Wall-clock duration of a single BacktestEngine.Run call.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(MonitorExitsTotal, TickThroughput, RestartCount, BacktestDurationSeconds)
}

// IncMonitorExit increments the exit counter for reason.
func IncMonitorExit(reason string) {
	MonitorExitsTotal.WithLabelValues(reason).Inc()
}
