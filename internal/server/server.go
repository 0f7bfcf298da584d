// Package server exposes voice sessions over websocket plus health,
// metrics and log endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/logging"
	"github.com/normanking/cortexvoice/internal/session"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// LogSource returns recent log entries.
type LogSource interface {
	History(limit int) []logging.LogEntry
}

// Runner is a background service that runs until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Options wires the server. Logs, Checks and Scheduler may be nil.
type Options struct {
	Config    config.ServerConfig
	Session   session.Config
	Deps      session.Deps
	Logs      LogSource
	Checks    map[string]HealthChecker
	Scheduler Runner
	Version   string
	Logger    zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	opts       Options
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
	logger     zerolog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version,omitempty"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// ServiceHealth represents a service health status
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// New creates a new HTTP server
func New(opts Options) *Server {
	if opts.Config.WriteTimeout <= 0 {
		opts.Config.WriteTimeout = 10 * time.Second
	}
	if opts.Config.PingInterval <= 0 {
		opts.Config.PingInterval = 30 * time.Second
	}

	s := &Server{
		opts:      opts,
		startTime: time.Now(),
		logger:    opts.Logger.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.httpServer = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Config.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/logs", s.logsHandler)
	return mux
}

// Run serves until ctx is done, then shuts down gracefully. The scheduler,
// if any, runs alongside and stops with the server.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		s.logger.Info().Str("addr", s.opts.Config.Addr).Msg("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.opts.Scheduler != nil {
		g.Go(func() error { return s.opts.Scheduler.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("HTTP server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.Config.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.Config.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// healthHandler checks every registered dependency.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   s.opts.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  make(map[string]ServiceHealth, len(s.opts.Checks)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for name, c := range s.opts.Checks {
		if c == nil {
			continue
		}
		if err := c.Health(ctx); err != nil {
			resp.Services[name] = ServiceHealth{Healthy: false, Message: err.Error()}
			resp.Status = "degraded"
			continue
		}
		resp.Services[name] = ServiceHealth{Healthy: true}
	}
	writeJSON(w, http.StatusOK, resp)
}

// logsHandler returns recent log entries; ?limit=N bounds the count.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		writeJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.opts.Logs.History(limit))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
