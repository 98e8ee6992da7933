package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/model"
)

func TestUnlockHandler_Unlock_PathKey(t *testing.T) {
	var gotUser, gotKey string
	h := NewUnlockHandler(&mockUnlocker{
		unlockFn: func(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error) {
			gotUser, gotKey = userID, key
			return &entitlement.UnlockResult{Key: key, NewlyUnlocked: true, Awarded: 10}, nil
		},
	})

	r := chi.NewRouter()
	r.Post("/api/universes/{key}/unlock", h.Unlock)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/universes/market/unlock", nil), "user-1", "a@example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if gotUser != "user-1" || gotKey != "market" {
		t.Errorf("user, key = %q, %q", gotUser, gotKey)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["ok"] != true || body["newlyUnlocked"] != true || body["universe"] != "market" || body["awarded"] != float64(10) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestUnlockHandler_UnlockFixed(t *testing.T) {
	var gotKey string
	h := NewUnlockHandler(&mockUnlocker{
		unlockFn: func(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error) {
			gotKey = key
			return &entitlement.UnlockResult{Key: key}, nil
		},
	})

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/market/unlock", nil), "user-1", "a@example.org")
	w := httptest.NewRecorder()
	h.UnlockFixed(entitlement.UniverseMarket)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotKey != entitlement.UniverseMarket {
		t.Errorf("key = %q, want market", gotKey)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["newlyUnlocked"] != false {
		t.Errorf("newlyUnlocked = %v, want false", body["newlyUnlocked"])
	}
}

func TestUnlockHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		identity   bool
		wantStatus int
		wantCode   string
	}{
		{"no identity", nil, false, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"unknown universe", model.NewUnknownUniverseError("nope"), true, http.StatusBadRequest, model.ErrCodeUnknownUniverse},
		{"not self serve", model.NewNotSelfServeError("fund"), true, http.StatusForbidden, model.ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewUnlockHandler(&mockUnlocker{
				unlockFn: func(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error) {
					return nil, tt.err
				},
			})

			req := httptest.NewRequest(http.MethodPost, "/api/market/unlock", nil)
			if tt.identity {
				req = withIdentity(req, "user-1", "a@example.org")
			}
			w := httptest.NewRecorder()
			h.UnlockFixed("market")(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", body.Error, tt.wantCode)
			}
		})
	}
}
