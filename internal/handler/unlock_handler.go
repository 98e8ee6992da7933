package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
)

// Unlocker は利用者自身によるuniverseのロック解除を担うインターフェース。
type Unlocker interface {
	SelfServeUnlock(ctx context.Context, userID, key string) (*entitlement.UnlockResult, error)
}

// UnlockHandler はロック解除のHTTPハンドラー。
type UnlockHandler struct {
	service Unlocker
}

// NewUnlockHandler はUnlockHandlerを生成する。
func NewUnlockHandler(service Unlocker) *UnlockHandler {
	return &UnlockHandler{service: service}
}

// unlockResponse はロック解除の応答。
type unlockResponse struct {
	OK bool `json:"ok"`
	*entitlement.UnlockResult
}

// Unlock はURLパスで指定されたuniverseをロック解除する。
// POST /api/universes/{key}/unlock
func (h *UnlockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.unlock(w, r, chi.URLParam(r, "key"))
}

// UnlockFixed は固定のuniverseをロック解除するハンドラーを返す。
// POST /api/market/unlock
func (h *UnlockHandler) UnlockFixed(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.unlock(w, r, key)
	}
}

func (h *UnlockHandler) unlock(w http.ResponseWriter, r *http.Request, key string) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	result, err := h.service.SelfServeUnlock(r.Context(), userID, key)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, unlockResponse{OK: true, UnlockResult: result})
}
