/*
Package metrics provides Prometheus metrics and health endpoints for cloner.

All collectors are package-level variables registered with the default
Prometheus registry at init time. They cover three areas:

  - Supervisor: process starts, the running gauge, the last exit code and
    termination escalation steps by outcome.
  - Snapshots: HAProxy CSV loads per monitor, their latency and the host
    count per backend and status.
  - Reconciliation: pass latency, pass count, per-cluster failures and the
    number of hosts flagged for rotation.

# Timing

Timer wraps time.Now for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

HealthChecker aggregates component health. Readiness only waits on the
critical components passed to NewHealthChecker, so optional components may
report unhealthy without failing the /ready check.

	health := metrics.NewHealthChecker("storage", "monitors")
	health.Update("storage", true, "")
	http.ListenAndServe(":9090", health.Mux())

Mux serves /metrics, /health, /ready and /live.
*/
package metrics
