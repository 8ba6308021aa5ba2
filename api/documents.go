package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/ingest"
	"github.com/koopa0/ragcache/internal/log"
)

// Ingestion validation constants.
const (
	MaxChunksPerDocument = 10000
	MaxChunkTextLength   = 32768
)

// DocumentsHandler handles document ingestion endpoints.
type DocumentsHandler struct {
	ing    *ingest.Ingestor
	logger log.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(ing *ingest.Ingestor, logger log.Logger) *DocumentsHandler {
	return &DocumentsHandler{ing: ing, logger: logger}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.ingest)
	mux.HandleFunc("DELETE /api/documents/{id}", h.delete)
	mux.HandleFunc("POST /api/rebuild", h.rebuild)
}

// ChunkRequest is one chunk of an ingested document.
type ChunkRequest struct {
	ChunkID  string `json:"chunk_id"`
	Text     string `json:"text"`
	Sequence int    `json:"sequence"`
}

// IngestRequest is the request body for document ingestion.
type IngestRequest struct {
	DocumentID string         `json:"document_id"`
	Chunks     []ChunkRequest `json:"chunks"`
}

// IngestResponse reports what was indexed.
type IngestResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// ingest embeds and indexes a document's chunks.
func (h *DocumentsHandler) ingest(w http.ResponseWriter, r *http.Request) {
	if h.ing == nil {
		h.logger.Error("ingestor is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "missing_document_id", "document_id is required")
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "empty_document", "at least one chunk is required")
		return
	}
	if len(req.Chunks) > MaxChunksPerDocument {
		writeError(w, http.StatusBadRequest, "too_many_chunks", "document exceeds chunk limit")
		return
	}

	chunks := make([]chunk.Chunk, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.ChunkID == "" {
			writeError(w, http.StatusBadRequest, "missing_chunk_id", "every chunk needs a chunk_id")
			return
		}
		if len(c.Text) > MaxChunkTextLength {
			writeError(w, http.StatusBadRequest, "chunk_too_large", "chunk text exceeds 32768 bytes")
			return
		}
		chunks[i] = chunk.Chunk{
			ID:         c.ChunkID,
			DocumentID: req.DocumentID,
			Text:       c.Text,
			Sequence:   c.Sequence,
		}
	}

	if err := h.ing.IndexChunks(r.Context(), chunks); err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		DocumentID:    req.DocumentID,
		ChunksIndexed: len(chunks),
	})
}

// DeleteResponse reports what a document deletion removed.
type DeleteResponse struct {
	DocumentID     string `json:"document_id"`
	VectorsRemoved int    `json:"vectors_removed"`
}

// delete removes a document's chunks from the corpus and index.
func (h *DocumentsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if h.ing == nil {
		h.logger.Error("ingestor is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	documentID := r.PathValue("id")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "missing_document_id", "document id path segment is required")
		return
	}

	removed, err := h.ing.DeleteDocument(r.Context(), documentID)
	if err != nil {
		h.logger.Error("failed to delete document", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document")
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{
		DocumentID:     documentID,
		VectorsRemoved: removed,
	})
}

// RebuildResponse reports how many chunks a rebuild re-indexed.
type RebuildResponse struct {
	ChunksReindexed int `json:"chunks_reindexed"`
}

// rebuild re-indexes the whole corpus from the chunk store. This is the
// operator recovery path after index corruption or a store/index divergence.
func (h *DocumentsHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	if h.ing == nil {
		h.logger.Error("ingestor is nil")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	reindexed, err := h.ing.Rebuild(r.Context())
	if err != nil {
		h.logger.Error("index rebuild failed", "error", err)
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RebuildResponse{ChunksReindexed: reindexed})
}

func (h *DocumentsHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, embedding.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "empty_chunk", "chunk text must not be empty")
	case errors.Is(err, embedding.ErrInputTooLarge):
		writeError(w, http.StatusBadRequest, "input_too_large", err.Error())
	case errors.Is(err, embedding.ErrEmbeddingUnavailable):
		writeError(w, http.StatusBadGateway, "embedding_unavailable", err.Error())
	case errors.Is(err, index.ErrDimensionMismatch):
		writeError(w, http.StatusInternalServerError, "dimension_mismatch", err.Error())
	default:
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "failed to index document")
	}
}
