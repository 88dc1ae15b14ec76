package haproxy

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cloner/pkg/events"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/metrics"
	"github.com/rs/zerolog"
)

// MonitorStatus tracks the refresh history of a monitor
type MonitorStatus struct {
	ConsecutiveFailures int
	LastRefresh         time.Time
	LastSuccess         time.Time
	LastError           string
	Loaded              bool
}

// Monitor is a named stats source holding the last good snapshot
type Monitor struct {
	name   string
	source string
	opts   Options
	logger zerolog.Logger

	snapshot atomic.Pointer[Snapshot]

	mu     sync.Mutex
	status MonitorStatus
}

// NewMonitor creates a monitor; call Refresh to load its first snapshot
func NewMonitor(name, source string, opts Options) *Monitor {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	return &Monitor{
		name:   name,
		source: source,
		opts:   opts,
		logger: log.WithMonitor(name),
	}
}

func (m *Monitor) Name() string   { return m.name }
func (m *Monitor) Source() string { return m.source }

// Snapshot returns the last successfully loaded snapshot, or nil
func (m *Monitor) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Status returns a copy of the refresh history
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Refresh reloads the source. The held snapshot is replaced only when the
// load succeeds; on failure the previous snapshot stays in place.
func (m *Monitor) Refresh(ctx context.Context) error {
	timer := metrics.NewTimer()
	snap, err := Load(ctx, m.source, m.opts)
	timer.ObserveDurationVec(metrics.SnapshotLoadDuration, m.name)

	m.mu.Lock()
	m.status.LastRefresh = time.Now()
	if err != nil {
		m.status.ConsecutiveFailures++
		m.status.LastError = err.Error()
		failures := m.status.ConsecutiveFailures
		m.mu.Unlock()

		metrics.SnapshotLoadsTotal.WithLabelValues(m.name, "error").Inc()
		m.logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("Failed to load HAProxy snapshot")
		m.opts.Publisher.Publish(events.New(events.EventSnapshotFailed, err.Error(), map[string]string{
			"monitor": m.name,
			"source":  m.source,
		}))
		return err
	}
	m.status.ConsecutiveFailures = 0
	m.status.LastError = ""
	m.status.LastSuccess = m.status.LastRefresh
	m.status.Loaded = true
	m.mu.Unlock()

	m.snapshot.Store(snap)
	m.recordHosts(snap)

	metrics.SnapshotLoadsTotal.WithLabelValues(m.name, "success").Inc()
	m.logger.Debug().
		Int("backends", len(snap.BackendNames())).
		Int("hosts", snap.Count()).
		Msg("Loaded HAProxy snapshot")
	m.opts.Publisher.Publish(events.New(events.EventSnapshotLoaded, "snapshot loaded", map[string]string{
		"monitor": m.name,
		"hosts":   strconv.Itoa(snap.Count()),
	}))
	return nil
}

func (m *Monitor) recordHosts(snap *Snapshot) {
	for _, backend := range snap.BackendNames() {
		counts := map[Status]int{StatusUp: 0, StatusDown: 0, StatusOpen: 0}
		for _, h := range snap.Hosts(backend) {
			counts[h.Status]++
		}
		for status, n := range counts {
			metrics.SnapshotHosts.WithLabelValues(m.name, backend, string(status)).Set(float64(n))
		}
	}
}
