package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the schema version written by this build
const CurrentVersion = 2

// Configuration describes one traffic cloning run
type Configuration struct {
	Version     int               `json:"version,omitempty" yaml:"version,omitempty"`
	Input       Input             `json:"input" yaml:"input"`
	Output      Output            `json:"output" yaml:"output"`
	FinishAfter string            `json:"finish_after,omitempty" yaml:"finish_after,omitempty"`
	ExtraArgs   map[string]string `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
}

// InputType selects how traffic is captured
type InputType string

const (
	InputTypeRaw InputType = "raw"
	InputTypeTCP InputType = "tcp"
)

// Input is the capture side of a run
type Input struct {
	Type  InputType `json:"type,omitempty" yaml:"type,omitempty"`
	Port  int       `json:"port" yaml:"port"`
	Paths Paths     `json:"paths" yaml:"paths"`
}

// Paths filters and rewrites captured request URLs
type Paths struct {
	Allow    []string `json:"allow" yaml:"allow"`
	Disallow []string `json:"disallow" yaml:"disallow"`
	Rewrite  []string `json:"rewrite" yaml:"rewrite"`
}

// Output is the replay side of a run
type Output struct {
	HTTP         *HTTPOutput `json:"http,omitempty" yaml:"http,omitempty"`
	TCP          *TCPOutput  `json:"tcp,omitempty" yaml:"tcp,omitempty"`
	SplitTraffic bool        `json:"split_traffic" yaml:"split_traffic"`
	Stdout       bool        `json:"stdout" yaml:"stdout"`
}

// HTTPOutput replays captured traffic to HTTP targets
type HTTPOutput struct {
	Hosts   []OutputHost `json:"hosts" yaml:"hosts"`
	Rate    string       `json:"rate,omitempty" yaml:"rate,omitempty"`
	Workers int          `json:"workers" yaml:"workers"`
}

// TCPOutput forwards captured traffic to TCP targets
type TCPOutput struct {
	Hosts []OutputHost `json:"hosts" yaml:"hosts"`
	Rate  string       `json:"rate,omitempty" yaml:"rate,omitempty"`
}

// OutputHost is a replay target with an optional per-host rate.
// It decodes from either a bare string or {"host": ..., "rate": ...}.
type OutputHost struct {
	Host string `json:"host" yaml:"host"`
	Rate string `json:"rate,omitempty" yaml:"rate,omitempty"`
}

// Hosts is a convenience constructor for rate-less targets
func Hosts(hosts ...string) []OutputHost {
	out := make([]OutputHost, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, OutputHost{Host: h})
	}
	return out
}

// UnmarshalJSON accepts the bare string form as well as the object form
func (h *OutputHost) UnmarshalJSON(data []byte) error {
	var host string
	if err := json.Unmarshal(data, &host); err == nil {
		*h = OutputHost{Host: host}
		return nil
	}

	type plain OutputHost
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("output host must be a string or {host, rate}: %w", err)
	}
	*h = OutputHost(p)
	return nil
}

// MarshalJSON writes rate-less hosts back as bare strings
func (h OutputHost) MarshalJSON() ([]byte, error) {
	if h.Rate == "" {
		return json.Marshal(h.Host)
	}
	type plain OutputHost
	return json.Marshal(plain(h))
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents
func (h *OutputHost) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*h = OutputHost{Host: value.Value}
		return nil
	}
	type plain OutputHost
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*h = OutputHost(p)
	return nil
}

// ClusterConfig is the document managed by the cluster configuration manager
type ClusterConfig struct {
	Version   int                        `json:"version,omitempty" yaml:"version,omitempty"`
	Clusters  map[string]*Cluster        `json:"clusters" yaml:"clusters"`
	Replayers map[string]*Replayer       `json:"replayers" yaml:"replayers"`
	Monitors  map[string]*HAProxyMonitor `json:"haproxy_monitors" yaml:"haproxy_monitors"`
}

// NewClusterConfig returns an empty document with all maps allocated
func NewClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		Version:   CurrentVersion,
		Clusters:  make(map[string]*Cluster),
		Replayers: make(map[string]*Replayer),
		Monitors:  make(map[string]*HAProxyMonitor),
	}
}

// Cluster groups cloned hosts behind one HAProxy backend
type Cluster struct {
	Name               string                  `json:"name" yaml:"name"`
	Hosts              map[string]*ClusterHost `json:"hosts" yaml:"hosts"`
	HAProxyMonitor     string                  `json:"haproxy_monitor" yaml:"haproxy_monitor"`
	HAProxyBackendName string                  `json:"haproxy_backend_name,omitempty" yaml:"haproxy_backend_name,omitempty"`
	AlwaysRunning      bool                    `json:"always_running" yaml:"always_running"`
	UpdaterEnabled     bool                    `json:"updater_enabled" yaml:"updater_enabled"`
	// MaxDowntimeMinutes overrides the reconciler default when set; 0 flags
	// a host as soon as it has been DOWN for a full minute.
	MaxDowntimeMinutes *int `json:"max_downtime_minutes,omitempty" yaml:"max_downtime_minutes,omitempty"`
}

// HostDomains returns the cluster's host domains in sorted order
func (c *Cluster) HostDomains() []string {
	return sortedKeys(c.Hosts)
}

// Policy derives the reconciliation policy for the cluster
func (c *Cluster) Policy(defaultMaxDowntime int) ClusterHealthPolicy {
	maxDowntime := defaultMaxDowntime
	if c.MaxDowntimeMinutes != nil {
		maxDowntime = *c.MaxDowntimeMinutes
	}
	return ClusterHealthPolicy{
		ClusterName:        c.Name,
		Monitor:            c.HAProxyMonitor,
		HAProxyBackendName: c.HAProxyBackendName,
		HostDomains:        c.HostDomains(),
		MaxDowntimeMinutes: maxDowntime,
		Enabled:            c.UpdaterEnabled,
	}
}

// ClusterHost is one cloned host inside a cluster
type ClusterHost struct {
	HostDomain       string   `json:"host_domain" yaml:"host_domain"`
	TargetHosts      []string `json:"target_hosts" yaml:"target_hosts"`
	AllowURLPaths    []string `json:"allow_url_paths" yaml:"allow_url_paths"`
	DisallowURLPaths []string `json:"disallow_url_paths" yaml:"disallow_url_paths"`
	URLRewritePaths  []string `json:"url_rewrite_paths" yaml:"url_rewrite_paths"`
	ListenPort       int      `json:"listen_port" yaml:"listen_port"`
	ContextPath      string   `json:"context_path,omitempty" yaml:"context_path,omitempty"`
	SaveResponses    bool     `json:"save_responses" yaml:"save_responses"`
	TrafficRate      string   `json:"traffic_rate" yaml:"traffic_rate"`
	HTTPTimeout      string   `json:"http_timeout" yaml:"http_timeout"`
}

// Cluster host defaults
const (
	DefaultListenPort  = 8080
	DefaultTrafficRate = "100%"
	DefaultHTTPTimeout = "20m"
)

// NewClusterHost returns a host entry with the defaults of the cluster file format
func NewClusterHost(domain string) *ClusterHost {
	h := &ClusterHost{HostDomain: domain}
	h.ApplyDefaults()
	return h
}

// ApplyDefaults fills the fields a cluster file may omit
func (h *ClusterHost) ApplyDefaults() {
	if h.TargetHosts == nil {
		h.TargetHosts = []string{}
	}
	if h.AllowURLPaths == nil {
		h.AllowURLPaths = []string{}
	}
	if h.DisallowURLPaths == nil {
		h.DisallowURLPaths = []string{}
	}
	if h.URLRewritePaths == nil {
		h.URLRewritePaths = []string{}
	}
	if h.ListenPort == 0 {
		h.ListenPort = DefaultListenPort
	}
	if h.TrafficRate == "" {
		h.TrafficRate = DefaultTrafficRate
	}
	if h.HTTPTimeout == "" {
		h.HTTPTimeout = DefaultHTTPTimeout
	}
}

// Hostname is the short name of the host: everything before the first dot
func (h *ClusterHost) Hostname() string {
	return ShortHostname(h.HostDomain)
}

// ShortHostname returns the first label of a domain, the key HAProxy uses as svname
func ShortHostname(domain string) string {
	name, _, _ := strings.Cut(domain, ".")
	return name
}

// Configuration builds the cloner configuration that replays this host
func (h *ClusterHost) Configuration() *Configuration {
	cfg := &Configuration{
		Version: CurrentVersion,
		Input: Input{
			Type: InputTypeRaw,
			Port: h.ListenPort,
			Paths: Paths{
				Allow:    append([]string(nil), h.AllowURLPaths...),
				Disallow: append([]string(nil), h.DisallowURLPaths...),
				Rewrite:  append([]string(nil), h.URLRewritePaths...),
			},
		},
		Output: Output{
			HTTP: &HTTPOutput{
				Hosts:   Hosts(h.TargetHosts...),
				Rate:    h.TrafficRate,
				Workers: -1,
			},
		},
	}
	if h.HTTPTimeout != "" {
		cfg.ExtraArgs = map[string]string{"--output-http-timeout": h.HTTPTimeout}
	}
	return cfg
}

// Replayer is a named replay endpoint. The cluster file format carries them
// verbatim; nothing in this module interprets their contents.
type Replayer struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// HAProxyMonitor names a stats CSV source
type HAProxyMonitor struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// ClusterHealthPolicy is the input of one cluster reconciliation
type ClusterHealthPolicy struct {
	ClusterName        string
	Monitor            string
	HAProxyBackendName string
	HostDomains        []string
	MaxDowntimeMinutes int
	Enabled            bool
}

// MonitorName is the snapshot a policy reads, falling back to the backend name
func (p ClusterHealthPolicy) MonitorName() string {
	if p.Monitor != "" {
		return p.Monitor
	}
	return p.HAProxyBackendName
}

// HostToUpdate is a host recommended for rotation out of traffic
type HostToUpdate struct {
	ClusterName string `json:"cluster_name"`
	HostDomain  string `json:"host_domain"`
	Reason      string `json:"reason"`
}

// ReconciliationPass is the persisted outcome of one reconciliation run.
// Clusters lists every cluster that was checked successfully, including
// those with nothing to rotate; Errors holds the message of each failed one.
type ReconciliationPass struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Clusters   []string          `json:"clusters"`
	Hosts      []HostToUpdate    `json:"hosts"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// HostsFor returns the flagged hosts of one cluster
func (p *ReconciliationPass) HostsFor(cluster string) []HostToUpdate {
	var out []HostToUpdate
	for _, h := range p.Hosts {
		if h.ClusterName == cluster {
			out = append(out, h)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
