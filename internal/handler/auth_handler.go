package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/accounthub/internal/auth"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
)

const (
	oauthStateCookie = "acct_oauth_state"
	oauthNextCookie  = "acct_oauth_next"
	oauthCookiePath  = "/auth"
	oauthCookieTTL   = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	RequestMagicLink(ctx context.Context, email, next string) error
	ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error)
	GetLoginURL(state string) (string, error)
	HandleOAuthCallback(ctx context.Context, code string) (*model.Session, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// SessionWriter は共有ドメインのセッションCookieを読み書きする。session.Adapterが満たす。
type SessionWriter interface {
	RefreshToken(r *http.Request) string
	Write(w http.ResponseWriter, sess *model.Session)
	Clear(w http.ResponseWriter)
}

// NextResolver は戻り先URLの検証とサインインハブのURLを提供する。guard.Guardが満たす。
type NextResolver interface {
	SafeNext(raw string) string
	HubURL() string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool // OAuthのstate・next Cookieに使う
}

// AuthHandler はサインイン・サインアウト関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionWriter
	next     NextResolver
	metrics  metrics.MetricsCollector
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	sessions SessionWriter,
	next NextResolver,
	collector metrics.MetricsCollector,
	config AuthHandlerConfig,
) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		next:     next,
		metrics:  collector,
		config:   config,
	}
}

// credentialsRequest はパスワードによるサインアップ・サインインのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

// signInResponse はサインイン成功時の応答。
type signInResponse struct {
	OK       bool   `json:"ok"`
	Redirect string `json:"redirect"`
}

// SignUp はパスワードでアカウントを作成しセッションを確立する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.passwordFlow(w, r, metrics.SignInMethodSignUp, h.service.SignUp)
}

// Login はパスワードでサインインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.passwordFlow(w, r, metrics.SignInMethodPassword, h.service.SignInWithPassword)
}

func (h *AuthHandler) passwordFlow(
	w http.ResponseWriter,
	r *http.Request,
	method string,
	signIn func(ctx context.Context, email, password string) (*model.Session, error),
) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	sess, err := signIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordSignIn(method, metrics.SignInResultFailure)
		middleware.WriteError(w, r, err)
		return
	}

	h.metrics.RecordSignIn(method, metrics.SignInResultSuccess)
	h.sessions.Write(w, sess)
	middleware.WriteJSON(w, http.StatusOK, signInResponse{OK: true, Redirect: h.next.SafeNext(req.Next)})
}

// magicLinkRequest はマジックリンク請求のボディ。
type magicLinkRequest struct {
	Email string `json:"email"`
	Next  string `json:"next"`
}

// RequestMagicLink はパスワードレスのサインインリンクを送信する。
// POST /api/auth/magic-link
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.service.RequestMagicLink(r.Context(), req.Email, h.next.SafeNext(req.Next)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, okResponse{OK: true})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// 検証済みの戻り先はコールバックまでCookieに保持する。
// GET /auth/google/login?next=
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		if errors.Is(err, auth.ErrOAuthDisabled) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
				Code:     model.ErrCodeNotFound,
				Message:  "このサインイン方法は利用できません。",
				Category: "auth",
				Action:   "別の方法でサインインしてください。",
			})
			return
		}
		middleware.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, h.oauthCookie(oauthStateCookie, state, oauthCookieTTL))
	http.SetCookie(w, h.oauthCookie(oauthNextCookie, h.next.SafeNext(r.URL.Query().Get("next")), oauthCookieTTL))
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はサインインのコールバックを処理する。
// token（マジックリンク）または code と state（OAuth）を受け取り、
// セッションを確立して検証済みの戻り先へリダイレクトする。
// 失敗した場合はエラーコード付きでサインインハブへ戻す。
// GET /auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if token := q.Get("token"); token != "" {
		sess, next, err := h.service.ConsumeMagicLink(r.Context(), token)
		if err != nil {
			h.metrics.RecordSignIn(metrics.SignInMethodMagicLink, metrics.SignInResultFailure)
			h.redirectWithError(w, r, err)
			return
		}
		h.metrics.RecordSignIn(metrics.SignInMethodMagicLink, metrics.SignInResultSuccess)
		h.sessions.Write(w, sess)
		http.Redirect(w, r, h.next.SafeNext(firstNonEmpty(next, q.Get("next"))), http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectWithError(w, r, model.NewValidationError("サインインのパラメータがありません"))
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("path", r.URL.Path))
		h.redirectWithError(w, r, model.NewValidationError("stateが一致しません"))
		return
	}

	next := ""
	if c, err := r.Cookie(oauthNextCookie); err == nil {
		next = c.Value
	}
	http.SetCookie(w, h.oauthCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, h.oauthCookie(oauthNextCookie, "", -1))

	sess, err := h.service.HandleOAuthCallback(r.Context(), code)
	if err != nil {
		h.metrics.RecordSignIn(metrics.SignInMethodOAuth, metrics.SignInResultFailure)
		h.redirectWithError(w, r, err)
		return
	}
	h.metrics.RecordSignIn(metrics.SignInMethodOAuth, metrics.SignInResultSuccess)
	h.sessions.Write(w, sess)
	http.Redirect(w, r, h.next.SafeNext(next), http.StatusSeeOther)
}

// Logout はセッションを破棄しCookieを消してサインインハブへリダイレクトする。
// GET,POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), h.sessions.RefreshToken(r)); err != nil {
		// 削除に失敗してもCookieはクリアする
		slog.Error("failed to sign out", slog.String("error", err.Error()))
	}
	h.sessions.Clear(w)
	http.Redirect(w, r, h.next.HubURL(), http.StatusSeeOther)
}

// redirectWithError はエラーコードを付けてサインインハブへリダイレクトする。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrCodeInternal
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	} else {
		slog.Error("sign-in callback failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	target := h.next.HubURL()
	if u, perr := url.Parse(target); perr == nil {
		q := u.Query()
		q.Set("error", code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// oauthCookie はOAuthフロー中だけ使うホスト限定Cookieを生成する。
// IdPからのトップレベル遷移で送られるようSameSite=Laxとする。
func (h *AuthHandler) oauthCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
