// Package server assembles the HTTP surface: JSON-RPC endpoints, SSE
// streaming, REST fallback routes, and the metrics exposition, with graceful
// shutdown tied to the caller's context.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-ai/helmsman/pkg/observability"
	"github.com/helmsman-ai/helmsman/pkg/transport"
)

// shutdownGrace bounds how long in-flight requests get to finish.
const shutdownGrace = 10 * time.Second

// Config configures the HTTP server.
type Config struct {
	Address string
}

// Server is the assembled HTTP server.
type Server struct {
	config     Config
	handler    *transport.Handler
	metrics    *observability.Metrics
	httpServer *http.Server
}

// New assembles the router around the protocol handler.
func New(cfg Config, handler *transport.Handler, metrics *observability.Metrics) *Server {
	s := &Server{config: cfg, handler: handler, metrics: metrics}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(transport.MetricsMiddleware(metrics))

	r.Post("/", handler.ServeRoot)
	r.Post("/rpc", handler.ServeRPC)
	r.Post("/rpc/stream", handler.ServeStream)
	handler.MountREST(r)
	r.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening",
			"address", s.config.Address,
			"rpc", "POST /rpc",
			"stream", "POST /rpc/stream")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
