package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestChain_RecoveryWritesUnifiedError(t *testing.T) {
	var logs bytes.Buffer
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewRecoveryMiddleware())
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&logs, nil)), nil))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"error":"internal"`)) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Error("recovered 500 should not be cacheable")
	}
}

func TestChain_LoggingIncludesRequestID(t *testing.T) {
	var logs bytes.Buffer
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&logs, nil)), nil))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	if !bytes.Contains(logs.Bytes(), []byte(`"request_id":`)) {
		t.Errorf("log entry missing request_id: %s", logs.String())
	}
}

func TestChain_SecurityHeadersAndCSRF(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewSecurityHeadersMiddleware())
	r.Group(func(r chi.Router) {
		r.Use(NewCSRFMiddleware(testCSRFConfig))
		r.Post("/api/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/profile", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "t"})
	req.Header.Set(csrfHeaderName, "t")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header missing")
	}
	if csp := w.Header().Get("Content-Security-Policy"); csp != contentSecurityPolicy {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
}

func TestContextHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := ContextWithUserID(req.Context(), "user-1")
	id, err := UserIDFromContext(ctx)
	if err != nil || id != "user-1" {
		t.Errorf("UserIDFromContext() = %q, %v", id, err)
	}
}
