package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Supervisor metrics
	ProcessStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloner_process_starts_total",
			Help: "Total number of supervised process launches by result",
		},
		[]string{"result"},
	)

	ProcessRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloner_process_running",
			Help: "Whether the supervised traffic tool is running (1 = running)",
		},
	)

	ProcessExitCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloner_process_exit_code",
			Help: "Exit code of the last supervised process (-1 when killed by a signal)",
		},
	)

	TerminationStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloner_termination_steps_total",
			Help: "Termination escalation steps by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	TerminationRetries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloner_termination_retry_attempts",
			Help: "Current termination retry attempt counter",
		},
	)

	// Snapshot metrics
	SnapshotLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloner_snapshot_loads_total",
			Help: "HAProxy snapshot loads by monitor and result",
		},
		[]string{"monitor", "result"},
	)

	SnapshotHosts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloner_snapshot_hosts",
			Help: "Hosts in the last loaded snapshot by monitor, backend and status",
		},
		[]string{"monitor", "backend", "status"},
	)

	SnapshotLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloner_snapshot_load_duration_seconds",
			Help:    "Time taken to load an HAProxy snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor"},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloner_reconciliation_duration_seconds",
			Help:    "Time taken by a reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloner_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloner_reconciliation_errors_total",
			Help: "Cluster checks that failed by cluster",
		},
		[]string{"cluster"},
	)

	HostsToUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloner_hosts_to_update",
			Help: "Hosts recommended for rotation in the last pass by cluster",
		},
		[]string{"cluster"},
	)
)

func init() {
	prometheus.MustRegister(ProcessStartsTotal)
	prometheus.MustRegister(ProcessRunning)
	prometheus.MustRegister(ProcessExitCode)
	prometheus.MustRegister(TerminationStepsTotal)
	prometheus.MustRegister(TerminationRetries)
	prometheus.MustRegister(SnapshotLoadsTotal)
	prometheus.MustRegister(SnapshotHosts)
	prometheus.MustRegister(SnapshotLoadDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(HostsToUpdate)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on the histogram
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on the labelled histogram
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
