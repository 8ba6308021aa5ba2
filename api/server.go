// Package api provides the HTTP REST API for ragcache.
//
// Endpoints:
//
//	POST   /api/query           →  answer a question from the indexed corpus
//	POST   /api/documents       →  ingest a document's chunks
//	DELETE /api/documents/{id}  →  remove a document and invalidate caches
//	POST   /api/rebuild         →  re-index the corpus from the chunk store
//	GET    /api/stats           →  cache and index statistics
//	GET    /health              →  liveness probe
//	GET    /ready               →  readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - query.go: retrieval endpoint
//   - documents.go: ingestion endpoints
//   - stats.go: statistics endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/koopa0/ragcache/internal/ingest"
	"github.com/koopa0/ragcache/internal/log"
	"github.com/koopa0/ragcache/internal/retrieval"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Query
	// requests may wait out a full generation timeout, so this is generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the ragcache REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health    *HealthHandler
	query     *QueryHandler
	documents *DocumentsHandler
	stats     *StatsHandler
}

// NewServer creates a new HTTP server with all routes registered.
// pinger may be nil when the index backend has no external dependency.
func NewServer(
	orch *retrieval.Orchestrator,
	ing *ingest.Ingestor,
	stats StatsSource,
	pinger Pinger,
	logger log.Logger,
) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    NewHealthHandler(pinger, logger),
		query:     NewQueryHandler(orch, logger),
		documents: NewDocumentsHandler(ing, logger),
		stats:     NewStatsHandler(stats, logger),
	}

	s.health.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)
	s.stats.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
