// Package server provides the HTTP admin API of the DRS daemon.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/cluster"
	"github.com/limiquantix/drsim/internal/config"
	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
	"github.com/limiquantix/drsim/internal/repository/etcd"
	"github.com/limiquantix/drsim/internal/repository/postgres"
	"github.com/limiquantix/drsim/internal/repository/redis"
	"github.com/limiquantix/drsim/internal/server/middleware"
)

// Engine is the control loop as seen by the API.
type Engine interface {
	RunOnce(ctx context.Context) (*domain.SchedulerResult, error)
	Stats() drs.Stats
	LastResult() *domain.SchedulerResult
	LoopID() string
	IsRunning() bool
	IsLeader() bool
	GetLastAnalysisTime() time.Time
	ListPasses(ctx context.Context, filter drs.PassFilter) ([]*domain.SchedulerResult, error)
	GetPass(ctx context.Context, id string) (*domain.SchedulerResult, error)
	Subscribe(buffer int) (<-chan *domain.SchedulerResult, func())
}

// Cluster is the read-only view of the cluster served by the API.
type Cluster interface {
	Hosts() []*domain.Host
	Host(name string) (*domain.Host, error)
	HostCounters(name string) (cluster.HostCounters, bool)
	Summary() cluster.Summary
	InjectionEnded() bool
}

// LeaderDirectory resolves the identity holding an election key.
type LeaderDirectory interface {
	CurrentLeader(ctx context.Context, key string) (string, error)
}

// EventSource delivers the scheduler events published by any instance.
type EventSource interface {
	Subscribe(ctx context.Context) <-chan redis.Event
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	engine  Engine
	cluster Cluster

	// Infrastructure
	db        *postgres.DB
	publisher *redis.Publisher
	etcd      *etcd.Client
	leader    *etcd.Leader
	gatherer  prometheus.Gatherer

	leaders LeaderDirectory
	events  EventSource
	auth    *middleware.Auth
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL reports PostgreSQL health and closes it on shutdown.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis reports Redis health and closes it on shutdown.
func WithRedis(publisher *redis.Publisher) ServerOption {
	return func(s *Server) {
		s.publisher = publisher
		if publisher != nil {
			s.events = publisher
		}
	}
}

// WithEtcd reports etcd health, resigns leadership and closes the client on shutdown.
func WithEtcd(client *etcd.Client, leader *etcd.Leader) ServerOption {
	return func(s *Server) {
		s.etcd = client
		s.leader = leader
		if client != nil {
			s.leaders = client
		}
	}
}

// WithLeaderDirectory reports the current leader identity in the DRS status.
func WithLeaderDirectory(leaders LeaderDirectory) ServerOption {
	return func(s *Server) {
		s.leaders = leaders
	}
}

// WithEventSource relays published scheduler events on the events stream.
func WithEventSource(events EventSource) ServerOption {
	return func(s *Server) {
		s.events = events
	}
}

// WithMetrics serves the metrics of gatherer.
func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// New creates a new server instance.
func New(cfg *config.Config, engine Engine, cluster Cluster, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:  cfg,
		logger:  logger.With(zap.String("component", "server")),
		mux:     mux,
		engine:  engine,
		cluster: cluster,
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.Auth.Enabled {
		s.auth = middleware.NewAuth(middleware.NewTokenManager(cfg.Auth), s.logger)
	}

	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)

	drsHandler := NewDRSHandler(s.engine, s.cluster, s.logger)
	if s.leaders != nil {
		drsHandler.WithLeaderDirectory(s.leaders, s.config.Etcd.ElectionKey)
	}
	if s.auth != nil {
		drsHandler.WithAuth(s.auth.Wrap)
	}
	drsHandler.RegisterRoutes(s.mux)

	NewHostHandler(s.cluster, s.logger).RegisterRoutes(s.mux)
	NewStreamHandler(s.engine, s.events, s.logger).RegisterRoutes(s.mux)

	if s.config.Metrics.Enabled && s.gatherer != nil {
		s.mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		s.logger.Info("Registered metrics endpoint", zap.String("path", s.config.Metrics.Path))
	}

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	handler = cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
	}).Handler(handler)
	return s.recoveryMiddleware(s.loggingMiddleware(handler))
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/ready", s.config.Metrics.Path:
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// handleHealth reports liveness along with the control loop state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"running":         s.engine.IsRunning(),
		"injection_ended": s.cluster.InjectionEnded(),
	})
}

// handleReady fails while a configured backend is unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]func(context.Context) error{}
	if s.db != nil {
		checks["postgres"] = s.db.Health
	}
	if s.publisher != nil {
		checks["redis"] = s.publisher.Health
	}
	if s.etcd != nil {
		checks["etcd"] = s.etcd.Health
	}

	ready := true
	components := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("Backend not ready", zap.String("backend", name), zap.Error(err))
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"leader":     s.engine.IsLeader(),
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Run serves until ctx is done, then resigns leadership and closes the backends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server", zap.String("address", s.config.Server.Address()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	if s.etcd != nil {
		s.etcd.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	s.logger.Info("Server stopped")
	return nil
}
