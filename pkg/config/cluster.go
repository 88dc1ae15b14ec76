package config

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cuemby/cloner/pkg/log"
	"github.com/cuemby/cloner/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxDowntimeMinutes applies to clusters that do not set their own
const DefaultMaxDowntimeMinutes = 20

// ClusterManager edits a cluster configuration file. Every manager owns its
// own document; nothing is shared between instances.
type ClusterManager struct {
	path   string
	logger zerolog.Logger

	mu  sync.RWMutex
	cfg *types.ClusterConfig
}

// NewClusterManager creates a manager for path holding an empty document
func NewClusterManager(path string) *ClusterManager {
	return &ClusterManager{
		path:   path,
		logger: log.WithComponent("config"),
		cfg:    types.NewClusterConfig(),
	}
}

// Path returns the file the manager reads and writes
func (m *ClusterManager) Path() string {
	return m.path
}

// LoadClusterConfig strictly decodes a cluster configuration file
func LoadClusterConfig(path string) (*types.ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open file (%s): %w", path, err)
	}
	return ParseClusterConfig(data, FormatFromPath(path))
}

// ParseClusterConfig decodes a cluster document and fills host defaults
func ParseClusterConfig(data []byte, format Format) (*types.ClusterConfig, error) {
	doc, err := decodeDocument(data, format)
	if err != nil {
		return nil, err
	}
	if v, ok := doc["version"]; ok {
		n, ok := asInt(v)
		if !ok || n > types.CurrentVersion {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, v)
		}
	}

	cfg := types.NewClusterConfig()
	if err := strictDecode(doc, cfg); err != nil {
		return nil, err
	}
	cfg.Version = types.CurrentVersion
	if cfg.Clusters == nil {
		cfg.Clusters = make(map[string]*types.Cluster)
	}
	if cfg.Replayers == nil {
		cfg.Replayers = make(map[string]*types.Replayer)
	}
	if cfg.Monitors == nil {
		cfg.Monitors = make(map[string]*types.HAProxyMonitor)
	}
	for _, cluster := range cfg.Clusters {
		if cluster == nil {
			continue
		}
		if cluster.Hosts == nil {
			cluster.Hosts = make(map[string]*types.ClusterHost)
		}
		for _, host := range cluster.Hosts {
			if host != nil {
				host.ApplyDefaults()
			}
		}
	}
	return cfg, nil
}

// Read replaces the in-memory document with the file contents
func (m *ClusterManager) Read() error {
	cfg, err := LoadClusterConfig(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.logger.Debug().Str("path", m.path).Int("clusters", len(cfg.Clusters)).Msg("Loaded cluster configuration")
	return nil
}

// Write persists the document, replacing the file atomically
func (m *ClusterManager) Write() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := WriteFile(m.path, m.cfg); err != nil {
		return err
	}
	m.logger.Debug().Str("path", m.path).Msg("Wrote cluster configuration")
	return nil
}

// Validate checks that every map key matches the name it indexes and that
// clusters reference known monitors
func (m *ClusterManager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, cluster := range m.cfg.Clusters {
		if cluster == nil {
			return fmt.Errorf("%w: cluster %s is empty", ErrValidation, key)
		}
		if key != cluster.Name {
			return fmt.Errorf("%w: key %s is different than name in cluster: %s", ErrValidation, key, cluster.Name)
		}
		for domain, host := range cluster.Hosts {
			if host == nil || domain != host.HostDomain {
				return fmt.Errorf("%w: key %s is different than host domain in cluster %s", ErrValidation, domain, key)
			}
		}
		if cluster.MaxDowntimeMinutes != nil && *cluster.MaxDowntimeMinutes < 0 {
			return fmt.Errorf("%w: cluster %s has negative max_downtime_minutes", ErrValidation, key)
		}
		if cluster.HAProxyMonitor != "" {
			if _, ok := m.cfg.Monitors[cluster.HAProxyMonitor]; !ok {
				return fmt.Errorf("%w: cluster %s references unknown haproxy monitor %s", ErrValidation, key, cluster.HAProxyMonitor)
			}
		}
	}
	for key, mon := range m.cfg.Monitors {
		if mon == nil || key != mon.Name {
			return fmt.Errorf("%w: key %s is different than name in haproxy monitor", ErrValidation, key)
		}
	}
	for key, rep := range m.cfg.Replayers {
		if rep == nil || key != rep.Name {
			return fmt.Errorf("%w: key %s is different than name in replayer", ErrValidation, key)
		}
	}
	return nil
}

// AddCluster registers a new cluster
func (m *ClusterManager) AddCluster(cluster *types.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cfg.Clusters[cluster.Name]; exists {
		return fmt.Errorf("%w: %s", ErrClusterExists, cluster.Name)
	}
	if cluster.Hosts == nil {
		cluster.Hosts = make(map[string]*types.ClusterHost)
	}
	m.cfg.Clusters[cluster.Name] = cluster
	m.logger.Info().Str("cluster", cluster.Name).Msg("Added cluster")
	return nil
}

// AddHost adds a host to a cluster. Host domains are unique across all clusters.
func (m *ClusterManager) AddHost(clusterName string, host *types.ClusterHost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cluster, ok := m.cfg.Clusters[clusterName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, clusterName)
	}
	if owner, exists := m.hostOwner(host.HostDomain); exists {
		return fmt.Errorf("%w: %s in cluster %s", ErrHostExists, host.HostDomain, owner)
	}
	host.ApplyDefaults()
	cluster.Hosts[host.HostDomain] = host
	m.logger.Info().Str("cluster", clusterName).Str("host", host.HostDomain).Msg("Added host")
	return nil
}

// RemoveHost deletes a host from a cluster
func (m *ClusterManager) RemoveHost(clusterName, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cluster, ok := m.cfg.Clusters[clusterName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, clusterName)
	}
	if _, ok := cluster.Hosts[domain]; !ok {
		return fmt.Errorf("%w: %s in cluster %s", ErrHostNotFound, domain, clusterName)
	}
	delete(cluster.Hosts, domain)
	m.logger.Info().Str("cluster", clusterName).Str("host", domain).Msg("Removed host")
	return nil
}

func (m *ClusterManager) hostOwner(domain string) (string, bool) {
	for name, cluster := range m.cfg.Clusters {
		if cluster == nil {
			continue
		}
		if _, ok := cluster.Hosts[domain]; ok {
			return name, true
		}
	}
	return "", false
}

// AddMonitor registers an HAProxy monitor
func (m *ClusterManager) AddMonitor(monitor *types.HAProxyMonitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cfg.Monitors[monitor.Name]; exists {
		return fmt.Errorf("%w: %s", ErrMonitorExists, monitor.Name)
	}
	m.cfg.Monitors[monitor.Name] = monitor
	m.logger.Info().Str("monitor", monitor.Name).Str("url", monitor.URL).Msg("Added HAProxy monitor")
	return nil
}

// Cluster returns a cluster by name
func (m *ClusterManager) Cluster(name string) (*types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cluster, ok := m.cfg.Clusters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	return cluster, nil
}

// ClusterNames returns the cluster names in sorted order
func (m *ClusterManager) ClusterNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.cfg.Clusters))
	for name := range m.cfg.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Host returns a host of a cluster
func (m *ClusterManager) Host(clusterName, domain string) (*types.ClusterHost, error) {
	cluster, err := m.Cluster(clusterName)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	host, ok := cluster.Hosts[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s in cluster %s", ErrHostNotFound, domain, clusterName)
	}
	return host, nil
}

// Monitors returns a copy of the monitor map
func (m *ClusterManager) Monitors() map[string]*types.HAProxyMonitor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*types.HAProxyMonitor, len(m.cfg.Monitors))
	for k, v := range m.cfg.Monitors {
		out[k] = v
	}
	return out
}

// Policies derives one reconciliation policy per cluster, sorted by name
func (m *ClusterManager) Policies(defaultMaxDowntime int) []types.ClusterHealthPolicy {
	if defaultMaxDowntime <= 0 {
		defaultMaxDowntime = DefaultMaxDowntimeMinutes
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	policies := make([]types.ClusterHealthPolicy, 0, len(m.cfg.Clusters))
	for _, cluster := range m.cfg.Clusters {
		if cluster == nil {
			continue
		}
		policies = append(policies, cluster.Policy(defaultMaxDowntime))
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].ClusterName < policies[j].ClusterName
	})
	return policies
}
