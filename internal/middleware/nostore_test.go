package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/accounthub/internal/model"
)

func assertNoStoreHeaders(t *testing.T, h http.Header) {
	t.Helper()
	if got := h.Get("Cache-Control"); got != "no-store, no-cache, must-revalidate, max-age=0" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := h.Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q", got)
	}
	if got := h.Get("Vary"); got != "Cookie" {
		t.Errorf("Vary = %q", got)
	}
}

func TestNoStoreMiddleware_SuccessAndFailureBranches(t *testing.T) {
	branches := map[string]http.Handler{
		"success": okHandler(),
		"unauthorized": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		}),
		"panic-free internal": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteInternalServerError(w)
		}),
	}
	for name, h := range branches {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewNoStoreMiddleware()(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/account/snapshot", nil))
			assertNoStoreHeaders(t, w.Header())
		})
	}
}
