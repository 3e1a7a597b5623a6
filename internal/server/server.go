// Package server exposes a Client over HTTP: a single-endpoint GraphQL
// proxy with cache control and a health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/gqlink/internal/runtime"
)

// DefaultRequestTimeout bounds each proxied request.
const DefaultRequestTimeout = 30 * time.Second

type Server struct {
	Router *chi.Mux
	Addr   string
	logger *slog.Logger
	client atomic.Pointer[runtime.Client]
	http   *http.Server
}

// New builds the router around client.
func New(addr string, client *runtime.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Router: chi.NewRouter(),
		Addr:   addr,
		logger: logger,
	}
	s.client.Store(client)

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(DefaultRequestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "gqlink")
	})

	r.Get("/healthz", s.handleHealth)
	r.Post("/graphql", s.handleGraphQL)
	r.Post("/cache/reset", s.handleCacheReset)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Client returns the client currently serving requests.
func (s *Server) Client() *runtime.Client {
	return s.client.Load()
}

// SwapClient installs next for new requests and returns the previous
// client. Requests already running keep the client they started with.
func (s *Server) SwapClient(next *runtime.Client) *runtime.Client {
	return s.client.Swap(next)
}

// Start listens on s.Addr until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
