// Package server exposes the gateway's HTTP surface: the messages endpoint,
// the health probe, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/kirogate/internal/accounts"
	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/dispatch"
	"github.com/haasonsaas/kirogate/internal/observability"
)

// ToolNamesHeader carries the sanitized-to-original tool-name map back to
// the client as JSON, so renamed tools in the stream can be resolved.
const ToolNamesHeader = "X-Kirogate-Tool-Names"

// maxRequestBody bounds inbound request bodies.
const maxRequestBody = 32 << 20

// Config carries the HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	EnableMetrics   bool
}

// Dispatcher is the request path the server fronts.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *anthropic.Request) (*dispatch.Result, error)
}

// Server is the gateway's HTTP server.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	pool       *accounts.Pool
	metrics    *observability.Metrics
	logger     *slog.Logger

	httpServer *http.Server
}

// New assembles the server. metrics may be nil when disabled.
func New(cfg Config, dispatcher Dispatcher, pool *accounts.Pool,
	metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		pool:       pool,
		metrics:    metrics,
		logger:     logger,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener until ctx is cancelled, then drains connections
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server draining")
	return s.httpServer.Shutdown(shutdownCtx)
}
