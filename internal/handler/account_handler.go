// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/session"
)

// SnapshotAssembler はスナップショットの組み立てを担うインターフェース。
type SnapshotAssembler interface {
	Assemble(ctx context.Context, identity *model.Identity) (*model.Snapshot, error)
}

// ProfileUpdater はプロフィール更新を担うインターフェース。
type ProfileUpdater interface {
	Update(ctx context.Context, userID string, patch model.ProfilePatch) error
}

// SessionResolver はリクエストからIdentityを解決する。
type SessionResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (*model.Identity, error)
}

// AccountHandler はスナップショット・プロフィール関連のHTTPハンドラー。
type AccountHandler struct {
	snapshots SnapshotAssembler
	profiles  ProfileUpdater
	sessions  SessionResolver
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(snapshots SnapshotAssembler, profiles ProfileUpdater, sessions SessionResolver) *AccountHandler {
	return &AccountHandler{
		snapshots: snapshots,
		profiles:  profiles,
		sessions:  sessions,
	}
}

// Snapshot は現在のユーザーのスナップショットを返す。
// GET /api/account/snapshot
func (h *AccountHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	snap, err := h.snapshots.Assemble(r.Context(), identity)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// bootstrapUser はブートストラップ応答のユーザー情報。
type bootstrapUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// bootstrapResponse はセッション確認の応答。
type bootstrapResponse struct {
	OK       bool           `json:"ok"`
	SignedIn bool           `json:"signedIn"`
	User     *bootstrapUser `json:"user"`
}

// Bootstrap はサインイン状態を返す。未サインインでも200を返す。
// GET /api/bootstrap
func (h *AccountHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	identity, err := h.sessions.Resolve(w, r)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			middleware.WriteJSON(w, http.StatusOK, bootstrapResponse{OK: true})
			return
		}
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bootstrapResponse{
		OK:       true,
		SignedIn: true,
		User:     &bootstrapUser{ID: identity.UserID, Email: identity.Email},
	})
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// emailはクレデンシャルストアが所有するため受け付けない。
type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	Handle      *string `json:"handle"`
	PublicEmail *string `json:"publicEmail"`
	AvatarPath  *string `json:"avatarPath"`
	PlanetHue   *int    `json:"planetHue"`
	Country     *string `json:"country"`
	Timezone    *string `json:"timezone"`
	IsPublic    *bool   `json:"isPublic"`
}

func (req updateProfileRequest) toPatch() model.ProfilePatch {
	return model.ProfilePatch{
		DisplayName: req.DisplayName,
		Handle:      req.Handle,
		PublicEmail: req.PublicEmail,
		AvatarPath:  req.AvatarPath,
		PlanetHue:   req.PlanetHue,
		Country:     req.Country,
		Timezone:    req.Timezone,
		IsPublic:    req.IsPublic,
	}
}

// okResponse は成功のみを伝える応答。
type okResponse struct {
	OK bool `json:"ok"`
}

// UpdateProfile はプロフィールを部分更新する。
// POST /api/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.profiles.Update(r.Context(), userID, req.toPatch()); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 64 << 10

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 未知のフィールドは無視する。
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}
