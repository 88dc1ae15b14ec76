package haproxy

import (
	"fmt"
	"sort"
	"time"
)

// Status is the health of one row in the stats feed
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
	StatusOpen Status = "OPEN"
)

// ParseStatus maps the feed's status text onto Status
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUp, StatusDown, StatusOpen:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// HostStatus is one server row of a backend
type HostStatus struct {
	BackendName      string `json:"backend_name"`
	Name             string `json:"name"`
	CurrentSessions  int    `json:"current_sessions"`
	MaxSessions      int    `json:"max_sessions"`
	Backend          bool   `json:"backend"`
	Status           Status `json:"status"`
	LastStatusChange int    `json:"last_status_change"`
	Downtime         int    `json:"downtime"`
}

// DowntimeMinutes is the downtime in whole minutes
func (h HostStatus) DowntimeMinutes() int {
	return h.Downtime / 60
}

// Snapshot is an immutable view of one stats load, keyed by backend name
type Snapshot struct {
	backends map[string][]HostStatus
	loadedAt time.Time
}

func newSnapshot(backends map[string][]HostStatus) *Snapshot {
	return &Snapshot{backends: backends, loadedAt: time.Now()}
}

// LoadedAt is when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// BackendNames returns the backend names in sorted order
func (s *Snapshot) BackendNames() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hosts returns the hosts of a backend in feed order
func (s *Snapshot) Hosts(backend string) []HostStatus {
	return append([]HostStatus(nil), s.backends[backend]...)
}

// AvailableHosts returns the hosts of a backend that are UP
func (s *Snapshot) AvailableHosts(backend string) []HostStatus {
	var out []HostStatus
	for _, h := range s.backends[backend] {
		if h.Status == StatusUp {
			out = append(out, h)
		}
	}
	return out
}

// Host looks up a host by name within a backend
func (s *Snapshot) Host(backend, name string) (HostStatus, error) {
	for _, h := range s.backends[backend] {
		if h.Name == name {
			return h, nil
		}
	}
	return HostStatus{}, fmt.Errorf("%w: %s in backend %s", ErrHostNotFound, name, backend)
}

// Count returns the number of hosts across all backends
func (s *Snapshot) Count() int {
	n := 0
	for _, hosts := range s.backends {
		n += len(hosts)
	}
	return n
}
