package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		ready        bool
		healthy      bool
		shuttingDown bool
		wantCode     int
		wantStatus   string
	}{
		// readiness follows the completed item pass and store reachability
		{name: "ready", path: "/health/ready", ready: true, healthy: true, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "catalog not synced yet", path: "/health/ready", ready: false, healthy: true, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
		{name: "ready while draining", path: "/health/ready", ready: true, healthy: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},

		// liveness follows the scheduler loops only
		{name: "live before first sync", path: "/health/live", ready: false, healthy: true, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "scheduler stopped", path: "/health/live", ready: true, healthy: false, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
		{name: "live while draining", path: "/health/live", healthy: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},

		{name: "combined ok", path: "/health", ready: true, healthy: true, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "combined degraded", path: "/health", ready: false, healthy: true, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
		{name: "combined draining", path: "/health", ready: true, healthy: true, shuttingDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			s := NewServer(ServerConfig{Addr: ":0"}, &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}, &shuttingDown, nil)

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("%s: code = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestServer_HealthReportsBothChecks(t *testing.T) {
	s := NewServer(ServerConfig{}, &mockHealthChecker{ready: false, healthy: true}, nil, nil)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["ready"] != false || body["healthy"] != true || body["shuttingDown"] != false {
		t.Errorf("unexpected body %v", body)
	}
}

func TestServer_APIRoutesOnlyWithHandler(t *testing.T) {
	probesOnly := NewServer(ServerConfig{}, &mockHealthChecker{}, nil, nil)
	w := httptest.NewRecorder()
	probesOnly.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("without api handler: code = %d, want 404", w.Code)
	}

	withAPI := NewServer(ServerConfig{}, &mockHealthChecker{}, nil, NewHandler(&mockCatalog{}, nil, nil))
	w = httptest.NewRecorder()
	withAPI.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("with api handler: code = %d, want 200", w.Code)
	}
}

func TestServer_RejectsWrongMethod(t *testing.T) {
	s := NewServer(ServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/health/ready", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", w.Code)
	}
}
