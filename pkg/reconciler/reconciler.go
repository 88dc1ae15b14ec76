package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/metrics"
	"github.com/cuemby/cloner/pkg/storage"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultInterval is the period between passes
const DefaultInterval = time.Minute

// DefaultKeepPasses is how many passes are retained in storage
const DefaultKeepPasses = 100

// Refresher reloads monitor snapshots before a pass
type Refresher interface {
	RefreshAll(ctx context.Context) map[string]error
}

// PolicySource yields the cluster policies for a pass. It is called on
// every pass so edits to the cluster file take effect without a restart.
type PolicySource func() ([]types.ClusterHealthPolicy, error)

// Config holds the periodic reconciler settings
type Config struct {
	Interval   time.Duration
	KeepPasses int
	// Health, when set, receives "monitors" and "storage" component updates
	Health *metrics.HealthChecker
}

// Reconciler refreshes snapshots, checks clusters and persists each pass
type Reconciler struct {
	checker  *Checker
	monitors Refresher
	policies PolicySource
	store    storage.Store
	cfg      Config
	logger   zerolog.Logger

	mu       sync.Mutex
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewReconciler creates a reconciler. store may be nil to skip persistence.
func NewReconciler(checker *Checker, monitors Refresher, policies PolicySource, store storage.Store, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KeepPasses <= 0 {
		cfg.KeepPasses = DefaultKeepPasses
	}
	return &Reconciler{
		checker:  checker,
		monitors: monitors,
		policies: policies,
		store:    store,
		cfg:      cfg,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run(ctx)
}

// Stop stops the loop and waits for an in-flight pass to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runPass(ctx)
	for {
		select {
		case <-ticker.C:
			r.runPass(ctx)
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Reconciliation pass failed")
	}
}

// RunOnce performs one pass. Cluster failures are part of the returned pass;
// only policy loading and persistence errors are returned as errors.
func (r *Reconciler) RunOnce(ctx context.Context) (*types.ReconciliationPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	pass := &types.ReconciliationPass{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	if r.monitors != nil {
		failed := r.monitors.RefreshAll(ctx)
		for name, err := range failed {
			r.logger.Warn().Err(err).Str("monitor", name).Msg("Monitor refresh failed, using previous snapshot")
		}
		if r.cfg.Health != nil {
			if len(failed) > 0 {
				r.cfg.Health.Update("monitors", false, "refresh failed")
			} else {
				r.cfg.Health.Update("monitors", true, "")
			}
		}
	}

	policies, err := r.policies()
	if err != nil {
		return nil, err
	}

	report := r.checker.Check(policies)
	pass.FinishedAt = time.Now()
	pass.Clusters = report.Clusters()
	pass.Hosts = report.All()
	if len(report.Errors) > 0 {
		pass.Errors = make(map[string]string, len(report.Errors))
		for cluster, err := range report.Errors {
			pass.Errors[cluster] = err.Error()
			metrics.ReconciliationErrorsTotal.WithLabelValues(cluster).Inc()
		}
	}
	for cluster, hosts := range report.Hosts {
		metrics.HostsToUpdate.WithLabelValues(cluster).Set(float64(len(hosts)))
	}

	r.logger.Info().
		Str("pass", pass.ID).
		Int("clusters", len(pass.Clusters)).
		Int("failed", len(pass.Errors)).
		Int("hosts_to_update", len(pass.Hosts)).
		Dur("duration", pass.FinishedAt.Sub(pass.StartedAt)).
		Msg("Reconciliation pass complete")

	if r.store != nil {
		if err := r.persist(pass); err != nil {
			return pass, err
		}
	}
	return pass, nil
}

func (r *Reconciler) persist(pass *types.ReconciliationPass) error {
	err := r.store.SavePass(pass)
	if err == nil {
		var removed int
		removed, err = r.store.PrunePasses(r.cfg.KeepPasses)
		if removed > 0 {
			r.logger.Debug().Int("removed", removed).Msg("Pruned old passes")
		}
	}
	if r.cfg.Health != nil {
		if err != nil {
			r.cfg.Health.Update("storage", false, err.Error())
		} else {
			r.cfg.Health.Update("storage", true, "")
		}
	}
	return err
}
