package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/accounthub/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusGone, model.NewTokenExpiredError())

	if w.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGone)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["ok"] != false || body["error"] != "expired" || body["category"] != "handoff" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeUnauthorized, http.StatusUnauthorized},
		{model.ErrCodeNotFound, http.StatusNotFound},
		{model.ErrCodeExpired, http.StatusGone},
		{model.ErrCodeValidation, http.StatusBadRequest},
		{model.ErrCodeUnknownUniverse, http.StatusBadRequest},
		{model.ErrCodeForbidden, http.StatusForbidden},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{model.ErrCodeInternal, http.StatusInternalServerError},
		{"something-else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForCode(tt.code); got != tt.want {
			t.Errorf("StatusForCode(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWriteError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("redeem: %w", model.NewTokenNotFoundError())

	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), err)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestWriteError_HidesStoreErrors(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New(`pq: relation "profiles" does not exist`))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "profiles") {
		t.Errorf("store error leaked to client: %s", w.Body.String())
	}
}
