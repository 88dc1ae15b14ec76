package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/cloner/pkg/events"
	"github.com/cuemby/cloner/pkg/haproxy"
	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/rs/zerolog"
)

// SnapshotSource resolves a monitor name to its loaded snapshot
type SnapshotSource interface {
	Snapshot(name string) (*haproxy.Snapshot, error)
}

// Report is the outcome of checking a set of clusters. A cluster appears in
// exactly one of the two maps.
type Report struct {
	Hosts  map[string][]types.HostToUpdate
	Errors map[string]error
}

// Clusters returns the successfully checked cluster names, sorted
func (r *Report) Clusters() []string {
	names := make([]string, 0, len(r.Hosts))
	for name := range r.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every flagged host ordered by cluster name
func (r *Report) All() []types.HostToUpdate {
	var out []types.HostToUpdate
	for _, name := range r.Clusters() {
		out = append(out, r.Hosts[name]...)
	}
	return out
}

// Checker compares configured cluster hosts against HAProxy snapshots
type Checker struct {
	source    SnapshotSource
	publisher events.Publisher
}

// NewChecker creates a checker reading snapshots from source
func NewChecker(source SnapshotSource, publisher events.Publisher) *Checker {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Checker{
		source:    source,
		publisher: publisher,
	}
}

func clusterLogger(cluster string) zerolog.Logger {
	return log.WithCluster(cluster).With().Str("component", "checker").Logger()
}

// CheckCluster returns the hosts of one cluster that should be rotated out.
// A missing snapshot fails the cluster; a missing host is flagged, not failed.
func (c *Checker) CheckCluster(policy types.ClusterHealthPolicy) ([]types.HostToUpdate, error) {
	snap, err := c.source.Snapshot(policy.MonitorName())
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", policy.ClusterName, err)
	}

	logger := clusterLogger(policy.ClusterName)
	hosts := []types.HostToUpdate{}
	for _, domain := range policy.HostDomains {
		reason, flagged := checkHost(&logger, snap, policy, domain)
		if !flagged {
			continue
		}
		host := types.HostToUpdate{
			ClusterName: policy.ClusterName,
			HostDomain:  domain,
			Reason:      reason,
		}
		hosts = append(hosts, host)

		logger.Info().
			Str("host", domain).
			Str("reason", reason).
			Msg("Host flagged for update")
		c.publisher.Publish(events.New(events.EventHostFlagged, reason, map[string]string{
			"cluster": policy.ClusterName,
			"host":    domain,
		}))
	}
	return hosts, nil
}

func checkHost(logger *zerolog.Logger, snap *haproxy.Snapshot, policy types.ClusterHealthPolicy, domain string) (string, bool) {
	host, err := snap.Host(policy.HAProxyBackendName, types.ShortHostname(domain))
	if err != nil {
		if !errors.Is(err, haproxy.ErrHostNotFound) {
			logger.Warn().Err(err).Str("host", domain).Msg("Host lookup failed")
		}
		return NotFoundReason(domain), true
	}
	if host.Status == haproxy.StatusDown && host.DowntimeMinutes() > policy.MaxDowntimeMinutes {
		return DownReason(domain, policy.MaxDowntimeMinutes), true
	}
	return "", false
}

// Check runs CheckCluster for every enabled policy in parallel. A failing
// cluster is recorded in Report.Errors and does not affect the others.
func (c *Checker) Check(policies []types.ClusterHealthPolicy) *Report {
	report := &Report{
		Hosts:  make(map[string][]types.HostToUpdate),
		Errors: make(map[string]error),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, policy := range policies {
		if !policy.Enabled {
			logger := clusterLogger(policy.ClusterName)
			logger.Debug().Msg("Reconciliation disabled, skipping")
			continue
		}
		wg.Add(1)
		go func(policy types.ClusterHealthPolicy) {
			defer wg.Done()
			hosts, err := c.CheckCluster(policy)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger := clusterLogger(policy.ClusterName)
				logger.Error().Err(err).Msg("Couldn't get hosts to update")
				report.Errors[policy.ClusterName] = err
				return
			}
			report.Hosts[policy.ClusterName] = hosts
		}(policy)
	}
	wg.Wait()
	return report
}

// DownReason is the reason recorded for a host down past the threshold
func DownReason(domain string, maxMinutes int) string {
	return fmt.Sprintf("Host %s is DOWN longer than %d minutes", domain, maxMinutes)
}

// NotFoundReason is the reason recorded for a host absent from the snapshot
func NotFoundReason(domain string) string {
	return fmt.Sprintf("Not found host %s in proxy", domain)
}
