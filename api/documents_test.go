package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()

	w := postJSON(t, handler, "/api/documents",
		`{"document_id":"d1","chunks":[
			{"chunk_id":"c1","text":"first","sequence":0},
			{"chunk_id":"c2","text":"second","sequence":1}
		]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res IngestResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.DocumentID != "d1" || res.ChunksIndexed != 2 {
		t.Errorf("response = %+v, want d1 with 2 chunks", res)
	}

	if n, _ := stack.idx.Len(context.Background()); n != 2 {
		t.Errorf("index has %d vectors, want 2", n)
	}
	if stack.chunks.Len() != 2 {
		t.Errorf("store has %d chunks, want 2", stack.chunks.Len())
	}
}

func TestIngestEndpointValidation(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"document_id":`},
		{"missing document id", `{"chunks":[{"chunk_id":"c1","text":"x"}]}`},
		{"no chunks", `{"document_id":"d1","chunks":[]}`},
		{"missing chunk id", `{"document_id":"d1","chunks":[{"text":"x"}]}`},
		{"oversized chunk", `{"document_id":"d1","chunks":[{"chunk_id":"c1","text":"` +
			strings.Repeat("x", MaxChunkTextLength+1) + `"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, handler, "/api/documents", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()
	ingestTestDocument(t, handler)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil)
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res DeleteResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.DocumentID != "d1" || res.VectorsRemoved != 1 {
		t.Errorf("response = %+v, want d1 with 1 vector removed", res)
	}
	if n, _ := stack.idx.Len(context.Background()); n != 0 {
		t.Errorf("index has %d vectors after delete, want 0", n)
	}

	// Deleting again is a successful no-op.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("repeat delete status = %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.VectorsRemoved != 0 {
		t.Errorf("repeat delete removed %d, want 0", res.VectorsRemoved)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()
	ctx := context.Background()

	w := postJSON(t, handler, "/api/documents",
		`{"document_id":"d1","chunks":[
			{"chunk_id":"c1","text":"first","sequence":0},
			{"chunk_id":"c2","text":"second","sequence":1}
		]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d", w.Code)
	}

	// Diverge the index from the store: vectors vanish, chunks remain.
	if _, err := stack.idx.DeleteByDocument(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := stack.idx.Len(ctx); n != 0 {
		t.Fatalf("index has %d vectors after divergence, want 0", n)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/rebuild", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body %s", w.Code, w.Body.String())
	}

	var res RebuildResponse
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ChunksReindexed != 2 {
		t.Errorf("ChunksReindexed = %d, want 2", res.ChunksReindexed)
	}
	if n, _ := stack.idx.Len(ctx); n != 2 {
		t.Errorf("index has %d vectors after rebuild, want 2", n)
	}
}

func TestDeleteInvalidatesCachedAnswers(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()
	ingestTestDocument(t, handler)

	w := postJSON(t, handler, "/api/query", `{"query":"the question"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r)
	if w2.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w2.Code)
	}

	// Same question after the corpus change must not be a cache hit.
	w = postJSON(t, handler, "/api/query", `{"query":"the question"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("post-delete query status = %d", w.Code)
	}
	var res struct {
		ServedFromCache bool `json:"served_from_cache"`
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ServedFromCache {
		t.Error("answer served from cache after document deletion")
	}
}
