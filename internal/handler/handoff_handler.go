package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/accounthub/internal/handoff"
	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
)

// HandoffRedeemer はハンドオフトークンの引き換えを担うインターフェース。
type HandoffRedeemer interface {
	Redeem(ctx context.Context, tokenID, sourceTag string) (*handoff.RedeemResult, error)
}

// HandoffHandler はハンドオフ引き換えのHTTPハンドラー。
type HandoffHandler struct {
	service HandoffRedeemer
}

// NewHandoffHandler はHandoffHandlerを生成する。
func NewHandoffHandler(service HandoffRedeemer) *HandoffHandler {
	return &HandoffHandler{service: service}
}

// redeemRequest はJSONで送られた引き換えリクエスト。
type redeemRequest struct {
	Token string `json:"token"`
	HT    string `json:"ht"`
	Src   string `json:"src"`
}

// Redeem はハンドオフトークンを引き換える。
// トークンは token（旧名 ht）、発行元タグは src で受け取る。
// GET,POST /api/handoff/redeem
func (h *HandoffHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	token, src, err := redeemParams(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	result, err := h.service.Redeem(r.Context(), token, src)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// redeemParams はクエリ・フォーム・JSONボディからトークンと発行元タグを取り出す。
// 同じ項目が複数箇所にある場合はクエリを優先する。
func redeemParams(r *http.Request) (token, src string, err error) {
	q := r.URL.Query()
	token = firstNonEmpty(q.Get("token"), q.Get("ht"))
	src = q.Get("src")

	if r.Method != http.MethodPost {
		return token, src, nil
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req redeemRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", "", err
		}
		return firstNonEmpty(token, req.Token, req.HT), firstNonEmpty(src, req.Src), nil
	}

	if err := r.ParseForm(); err != nil {
		return "", "", err
	}
	return firstNonEmpty(token, r.PostForm.Get("token"), r.PostForm.Get("ht")),
		firstNonEmpty(src, r.PostForm.Get("src")), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
