package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/logger"
)

// Server serves /metrics on its own port, separate from the API server.
// When metrics are disabled in config, Start returns immediately.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	enabled    bool
	port       string
}

// NewServer creates a metrics server for the given registry.
func NewServer(cfg *config.Config, log *logger.Logger, registry *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:  log,
		enabled: cfg.MetricsEnabled,
		port:    cfg.MetricsPort,
	}
}

// Start starts the metrics server. It blocks until the server stops.
func (s *Server) Start() error {
	if !s.enabled {
		s.logger.Debug("Metrics disabled, not starting metrics server")
		return nil
	}

	s.logger.WithField("port", s.port).Info("Starting metrics server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.logger.Info("Shutting down metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}
