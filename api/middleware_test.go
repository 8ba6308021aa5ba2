package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/koopa0/ragcache/internal/testutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := recoveryMiddleware(testutil.DiscardLogger())(panicky)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d after panic, want 500", w.Code)
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})

	h := chain(inner, mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	stack := newTestStack(t)

	w := httptest.NewRecorder()
	stack.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown route, want 404", w.Code)
	}

	// Wrong method on a registered path.
	w = httptest.NewRecorder()
	stack.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/query", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d for GET /api/query, want 405", w.Code)
	}
}
