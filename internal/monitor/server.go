// Package monitor exposes fleet-wide pool health over HTTP and runs the
// scheduled health sweep for the dbmonitor service.
package monitor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dbplane/dbplane/internal/platform/config"
	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
	"github.com/dbplane/dbplane/internal/platform/middleware"
	"github.com/dbplane/dbplane/internal/platform/response"
	"github.com/dbplane/dbplane/internal/pool"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	metrics    *metrics.Metrics
	manager    *pool.Manager
	httpServer *http.Server
}

type Option func(*Server)

func WithConfig(cfg *config.Config) Option {
	return func(s *Server) { s.config = cfg }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.logger = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithManager(mgr *pool.Manager) Option {
	return func(s *Server) { s.manager = mgr }
}

func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil || s.logger == nil || s.manager == nil {
		return nil, fmt.Errorf("monitor: config, logger and manager are required")
	}

	s.setupHTTPServer()
	return s, nil
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.RequestLogging(s.logger))

	router.HandleFunc("/health/live", s.handleLiveness).Methods("GET")
	router.HandleFunc("/health/ready", s.handleReadiness).Methods("GET")
	router.HandleFunc("/pools", s.handlePools).Methods("GET")
	router.HandleFunc("/pools/{name}", s.handlePool).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Sweep logs fleet health; scheduled by the dbmonitor cron
func (s *Server) Sweep() {
	status := s.manager.HealthStatus()
	unhealthy := 0
	for name, healthy := range status {
		if healthy {
			continue
		}
		unhealthy++
		// the pool may have been closed and removed since the status snapshot
		if p, ok := s.manager.GetPool(name); ok {
			s.logger.Warn("pool unhealthy",
				"pool", name, "health_score", p.Metrics().HealthScore)
		} else {
			s.logger.Warn("pool unhealthy", "pool", name)
		}
	}
	s.logger.Info("fleet health sweep",
		"pools", len(status), "unhealthy", unhealthy)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := s.manager.HealthStatus()
	ready := true
	for _, healthy := range status {
		if !healthy {
			ready = false
			break
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, map[string]interface{}{
		"ready": ready,
		"pools": status,
	})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"pools":  s.manager.AllMetrics(),
		"health": s.manager.HealthStatus(),
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p, ok := s.manager.GetPool(name)
	if !ok {
		response.Error(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("pool %s not found", name))
		return
	}

	response.OK(w, map[string]interface{}{
		"name":        name,
		"metrics":     p.Metrics(),
		"healthy":     p.IsHealthy(),
		"utilization": p.Utilization(),
	})
}
