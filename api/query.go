package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/log"
	"github.com/koopa0/ragcache/internal/retrieval"
)

// MaxQueryLength bounds the request query text in bytes.
const MaxQueryLength = 8192

// QueryHandler handles the retrieval endpoint.
type QueryHandler struct {
	orch   *retrieval.Orchestrator
	logger log.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(orch *retrieval.Orchestrator, logger log.Logger) *QueryHandler {
	return &QueryHandler{orch: orch, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// QueryRequest is the request body for a retrieval query.
type QueryRequest struct {
	Query string `json:"query"`
}

// query answers a question grounded in the indexed corpus.
func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		h.logger.Error("orchestrator is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query exceeds 8192 bytes")
		return
	}

	result, err := h.orch.Query(r.Context(), req.Query)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeQueryError maps the retrieval error taxonomy onto HTTP status codes.
func (h *QueryHandler) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, embedding.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty")
	case errors.Is(err, embedding.ErrInputTooLarge):
		writeError(w, http.StatusBadRequest, "input_too_large", err.Error())
	case errors.Is(err, embedding.ErrEmbeddingUnavailable):
		writeError(w, http.StatusBadGateway, "embedding_unavailable", err.Error())
	case errors.Is(err, index.ErrDimensionMismatch):
		writeError(w, http.StatusInternalServerError, "dimension_mismatch", err.Error())
	case errors.Is(err, index.ErrIndexCorrupt):
		writeError(w, http.StatusInternalServerError, "index_corrupt", err.Error())
	case errors.Is(err, retrieval.ErrGenerationTimeout):
		writeError(w, http.StatusGatewayTimeout, "generation_timeout", err.Error())
	case errors.Is(err, retrieval.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "generation_failed", err.Error())
	default:
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "query failed")
	}
}
