// Package api serves pwnrelay's local status endpoints: health, per-plugin
// relay session state and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pwnrelay/pkg/plugin"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSource lists the relay status of every running plugin.
// *plugin.Host implements it.
type StatusSource interface {
	Statuses() []plugin.Status
}

// Server provides HTTP API endpoints for pwnrelay
type Server struct {
	source  StatusSource
	logger  *zap.Logger
	router  chi.Router
	version string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new API server. gatherer backs /metrics.
func NewServer(source StatusSource, gatherer prometheus.Gatherer, version string, logger *zap.Logger) *Server {
	s := &Server{
		source:  source,
		logger:  logger.Named("api"),
		version: version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Get("/api/session", s.handleSession)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// SessionResponse is the body of /api/session
type SessionResponse struct {
	Plugins []plugin.Status `json:"plugins"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{Plugins: s.source.Statuses()}
	if resp.Plugins == nil {
		resp.Plugins = []plugin.Status{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		return
	}

	s.logger.Debug("Session request served", zap.String("remote_addr", r.RemoteAddr))
}

// handleHealth reports ok while at least one relay runs, or when no plugin
// runs a relay at all
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.source.Statuses()
	running := 0
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}

	status, code := "ok", http.StatusOK
	if len(statuses) > 0 && running == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"relays":  running,
		"version": s.version,
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/health", Method: "GET", Description: "Health check, 503 when every relay has stopped"},
	{Path: "/api/session", Method: "GET", Description: "Session counters and queue depth of each plugin relay"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists the endpoints as JSON, HTML or plain text depending on
// the Accept header
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")

	switch {
	case strings.Contains(accept, "application/json"):
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(endpoints)

	case strings.Contains(accept, "text/html"):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head><title>pwnrelay</title></head>\n<body>\n<h1>pwnrelay</h1>\n<ul>\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  <li><code>%s</code> <a href=%q>%s</a> %s</li>\n", ep.Method, ep.Path, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</ul>\n</body>\n</html>\n")

	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "pwnrelay %s\n\nAvailable endpoints:\n\n", s.version)
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-14s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
