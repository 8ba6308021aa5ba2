package api

import (
	"context"
	"net/http"

	"github.com/koopa0/ragcache/internal/cache"
	"github.com/koopa0/ragcache/internal/log"
)

// CacheStats is the JSON shape for one cache's counters.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// FromCacheStats converts internal cache counters to the JSON shape.
func FromCacheStats(s cache.Stats) CacheStats {
	return CacheStats{
		Entries:   s.Entries,
		Hits:      s.Hits,
		Misses:    s.Misses,
		Evictions: s.Evictions,
		Expired:   s.Expired,
	}
}

// Stats is the response body of GET /api/stats.
type Stats struct {
	EmbeddingCache CacheStats `json:"embedding_cache"`
	QueryCache     CacheStats `json:"query_cache"`
	IndexVectors   int        `json:"index_vectors"`
	CorpusChunks   int        `json:"corpus_chunks"`
	CorpusVersion  uint64     `json:"corpus_version"`
}

// StatsSource reports runtime statistics. The wiring layer implements it
// over the live caches and index.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// StatsHandler handles the statistics endpoint.
type StatsHandler struct {
	source StatsSource
	logger log.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(source StatsSource, logger log.Logger) *StatsHandler {
	return &StatsHandler{source: source, logger: logger}
}

// RegisterRoutes registers stats routes on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", h.get)
}

func (h *StatsHandler) get(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "stats_unavailable", "stats source not configured")
		return
	}

	stats, err := h.source.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect stats", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
