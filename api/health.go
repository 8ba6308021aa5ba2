package api

import (
	"context"
	"net/http"

	"github.com/koopa0/ragcache/internal/log"
)

// Pinger checks reachability of an external dependency. *pgxpool.Pool
// satisfies it; a nil Pinger means the process has no external dependency
// and is always ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pinger Pinger
	logger log.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(pinger Pinger, logger log.Logger) *HealthHandler {
	return &HealthHandler{pinger: pinger, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 OK if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 OK if all dependencies are ready. With a postgres
// index backend this pings the database; the in-memory backend is ready as
// soon as the process is.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
