package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Update(t *testing.T) {
	h := NewHealthChecker()
	h.Update("storage", true, "open")

	comp, ok := h.Component("storage")
	require.True(t, ok)
	assert.True(t, comp.Healthy)
	assert.Equal(t, "open", comp.Message)
	assert.False(t, comp.Updated.IsZero())

	_, ok = h.Component("missing")
	assert.False(t, ok)
}

func TestHealthChecker_Health(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{"no components", nil, StatusHealthy},
		{"all healthy", map[string]bool{"storage": true, "monitors": true}, StatusHealthy},
		{"one unhealthy", map[string]bool{"storage": true, "monitors": false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			h.SetVersion("2.0.0")
			for name, healthy := range tt.components {
				h.Update(name, healthy, "stale")
			}

			health := h.Health()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "2.0.0", health.Version)
		})
	}
}

func TestHealthChecker_UnhealthyMessage(t *testing.T) {
	h := NewHealthChecker()
	h.Update("monitors", false, "source unavailable")

	assert.Equal(t, "unhealthy: source unavailable", h.Health().Components["monitors"])
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := NewHealthChecker("storage", "monitors")

	r := h.Readiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, "not registered", r.Components["storage"])

	h.Update("storage", true, "")
	h.Update("monitors", false, "loading")
	r = h.Readiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, "waiting for monitors", r.Message)
	assert.Equal(t, "not ready: loading", r.Components["monitors"])

	h.Update("monitors", true, "")
	// Non-critical components do not affect readiness
	h.Update("reconciler", false, "idle")
	r = h.Readiness()
	assert.Equal(t, StatusReady, r.Status)
	assert.Len(t, r.Components, 2)
}

func TestHealthHandlers(t *testing.T) {
	h := NewHealthChecker("storage")

	tests := []struct {
		name     string
		path     string
		setup    func()
		wantCode int
		wantBody string
	}{
		{"health ok", "/health", func() {}, http.StatusOK, StatusHealthy},
		{"ready missing", "/ready", func() {}, http.StatusServiceUnavailable, StatusNotReady},
		{"live", "/live", func() {}, http.StatusOK, "alive"},
		{"ready ok", "/ready", func() { h.Update("storage", true, "") }, http.StatusOK, StatusReady},
		{"health degraded", "/health", func() { h.Update("storage", false, "closed") }, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	mux := h.Mux()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestMux_ServesMetrics(t *testing.T) {
	ReconciliationCyclesTotal.Inc()

	rec := httptest.NewRecorder()
	NewHealthChecker().Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cloner_reconciliation_cycles_total")
}
