package haproxy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/cloner/pkg/types"
)

// Registry maps monitor names to monitors
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[string]*Monitor)}
}

// NewRegistryFromConfig registers one monitor per configured HAProxy monitor
func NewRegistryFromConfig(monitors map[string]*types.HAProxyMonitor, opts Options) *Registry {
	r := NewRegistry()
	for name, mon := range monitors {
		r.monitors[name] = NewMonitor(name, mon.URL, opts)
	}
	return r
}

// Add registers a monitor under its name
func (r *Registry) Add(m *Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrMonitorExists, m.Name())
	}
	r.monitors[m.Name()] = m
	return nil
}

// Get returns a monitor by name
func (r *Registry) Get(name string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[name]
	return m, ok
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the loaded snapshot of a monitor. A monitor that is
// unknown or has never loaded successfully is reported as ErrMonitorNotFound.
func (r *Registry) Snapshot(name string) (*Snapshot, error) {
	m, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s (loaded: %v)", ErrMonitorNotFound, name, r.Names())
	}
	snap := m.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s has no loaded snapshot", ErrMonitorNotFound, name)
	}
	return snap, nil
}

// RefreshAll refreshes every monitor concurrently and returns the failures by name
func (r *Registry) RefreshAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			if err := m.Refresh(ctx); err != nil {
				mu.Lock()
				failed[m.Name()] = err
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	return failed
}
