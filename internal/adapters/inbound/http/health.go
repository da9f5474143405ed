// Package http provides the inbound HTTP adapter: health probes and the
// read-only catalog API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gw2shinies/tpsync/internal/ports/inbound"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves the health probes and, when a Handler is given, the API.
//
// Endpoints:
//   - /health/ready  - 200 once the store is reachable and the item catalog has synced
//   - /health/live   - 200 while the scheduler loops are running
//   - /health        - combined status for monitoring
//
// All probes report 503 once shuttingDown is set, so a replacement instance
// takes traffic before this one stops.
type Server struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewServer creates a new HTTP server. api may be nil to serve probes only.
func NewServer(config ServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool, api *Handler) *Server {
	defaults := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	s := &Server{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	if api != nil {
		api.RegisterRoutes(mux)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the server's routing handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		respondJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		respondJSON(s.logger, w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(s.logger, w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := s.checker.IsReady()
	healthy := s.checker.IsHealthy()
	status := "ok"
	code := http.StatusOK
	if !ready || !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(s.logger, w, code, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

func respondJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
