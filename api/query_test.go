package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/ragcache/internal/retrieval"
)

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, r)
	return w
}

func ingestTestDocument(t *testing.T, handler http.Handler) {
	t.Helper()
	w := postJSON(t, handler, "/api/documents",
		`{"document_id":"d1","chunks":[{"chunk_id":"c1","text":"a relevant passage","sequence":0}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestQueryEndpoint(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()
	ingestTestDocument(t, handler)

	w := postJSON(t, handler, "/api/query", `{"query":"what does the passage say?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res retrieval.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Answer != "the answer" {
		t.Errorf("Answer = %q, want %q", res.Answer, "the answer")
	}
	if res.ServedFromCache {
		t.Error("first query claims served_from_cache")
	}
	if len(res.Sources) != 1 || res.Sources[0].ChunkID != "c1" {
		t.Errorf("Sources = %v, want c1", res.Sources)
	}

	// Identical query is a cache hit.
	w = postJSON(t, handler, "/api/query", `{"query":"what does the passage say?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat status = %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.ServedFromCache {
		t.Error("repeat query not served from cache")
	}
}

func TestQueryEndpointBadRequests(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)
	handler := stack.server.Handler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"query":`, http.StatusBadRequest},
		{"empty query", `{"query":""}`, http.StatusBadRequest},
		{"whitespace query", `{"query":"   "}`, http.StatusBadRequest},
		{"oversized query", `{"query":"` + strings.Repeat("x", MaxQueryLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, handler, "/api/query", tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
			var er ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&er); err != nil {
				t.Errorf("error body is not JSON: %v", err)
			}
		})
	}
}

func TestQueryEndpointErrorMapping(t *testing.T) {
	t.Parallel()

	t.Run("embedding unavailable maps to 502", func(t *testing.T) {
		stack := newTestStack(t)
		handler := stack.server.Handler()
		ingestTestDocument(t, handler)
		stack.embedder.SetErr(errors.New("offline"))

		w := postJSON(t, handler, "/api/query", `{"query":"fresh question"}`)
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502 (body %s)", w.Code, w.Body.String())
		}
	})

	t.Run("generation failure maps to 502", func(t *testing.T) {
		stack := newTestStack(t)
		handler := stack.server.Handler()
		ingestTestDocument(t, handler)
		stack.generator.Err = errors.New("refused")

		w := postJSON(t, handler, "/api/query", `{"query":"question"}`)
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502 (body %s)", w.Code, w.Body.String())
		}
	})

	t.Run("generation timeout maps to 504", func(t *testing.T) {
		stack := newTestStack(t)
		handler := stack.server.Handler()
		ingestTestDocument(t, handler)
		stack.generator.Delay = 5 * time.Second

		w := postJSON(t, handler, "/api/query", `{"query":"question"}`)
		if w.Code != http.StatusGatewayTimeout {
			t.Errorf("status = %d, want 504 (body %s)", w.Code, w.Body.String())
		}

		var er ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&er); err != nil {
			t.Fatal(err)
		}
		if er.Error != "generation_timeout" {
			t.Errorf("error code = %q, want generation_timeout", er.Error)
		}
	})
}
