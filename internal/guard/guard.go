// Package guard は保護されたすべての画面・APIが通る認証ガードを提供する。
// セッションが無い場合、ページは中央サインインハブへ安全な戻り先付きでリダイレクトし、
// APIは401を返す。
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/model"
	"github.com/hitoshi/accounthub/internal/security"
	"github.com/hitoshi/accounthub/internal/session"
)

// SessionResolver はリクエストから現在のIdentityを解決する。session.Adapterが満たす。
type SessionResolver interface {
	Resolve(w http.ResponseWriter, r *http.Request) (*model.Identity, error)
}

// Config は認証ガードの設定。
type Config struct {
	AuthHubURL     string // 中央サインインハブのURL
	DefaultNextURL string // 戻り先を決められない場合の既定の遷移先
}

// Guard は認証ガード。
type Guard struct {
	sessions  SessionResolver
	redirects *security.RedirectGuard
	hubURL    *url.URL
	fallback  string
}

// NewGuard はGuardを生成する。
// ハブURLと既定の遷移先は所有ドメインの許可リストを満たす必要がある。
func NewGuard(sessions SessionResolver, redirects *security.RedirectGuard, cfg Config) (*Guard, error) {
	if sessions == nil || redirects == nil {
		return nil, fmt.Errorf("guard requires a session resolver and a redirect guard")
	}
	hub, err := redirects.Validate(cfg.AuthHubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth hub URL: %w", err)
	}
	fallback, err := redirects.Validate(cfg.DefaultNextURL)
	if err != nil {
		return nil, fmt.Errorf("invalid default next URL: %w", err)
	}
	hubURL, err := url.Parse(hub)
	if err != nil {
		return nil, fmt.Errorf("invalid auth hub URL: %w", err)
	}
	return &Guard{sessions: sessions, redirects: redirects, hubURL: hubURL, fallback: fallback}, nil
}

// RequireSession は現在のセッションを解決する。
// 解決できた場合はIdentityとtrueを返す。できなかった場合はサインインハブへの
// 303リダイレクトを書き込みfalseを返す。呼び出し側はfalseならそれ以上書き込まない。
func (g *Guard) RequireSession(w http.ResponseWriter, r *http.Request, nextPath string) (*model.Identity, bool) {
	identity, err := g.sessions.Resolve(w, r)
	if err == nil {
		return identity, true
	}
	if !errors.Is(err, session.ErrNoSession) {
		slog.Error("failed to resolve session",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	http.Redirect(w, r, g.SignInURL(g.ReturnTo(r, nextPath)), http.StatusSeeOther)
	return nil, false
}

// ReturnTo はサインイン後の戻り先URLを算出する。
// 呼び出し側が渡したパス、転送ヘッダー/Hostから組み立てたURL、Refererの順に候補とし、
// 許可リストを満たす最初の候補を返す。どれも満たさない場合は既定の遷移先を返す。
func (g *Guard) ReturnTo(r *http.Request, nextPath string) string {
	for _, candidate := range g.candidates(r, nextPath) {
		if v, err := g.redirects.Validate(candidate); err == nil {
			return v
		}
	}
	return g.fallback
}

func (g *Guard) candidates(r *http.Request, nextPath string) []string {
	var out []string
	nextPath = strings.TrimSpace(nextPath)

	switch {
	case nextPath == "":
		nextPath = r.URL.RequestURI()
	case !strings.HasPrefix(nextPath, "/"):
		// 絶対URLはそのまま検証に回す。相対パス以外の不正値は検証で落ちる
		out = append(out, nextPath)
		nextPath = ""
	}

	if host := requestHost(r); host != "" && strings.HasPrefix(nextPath, "/") && !strings.HasPrefix(nextPath, "//") {
		out = append(out, "https://"+host+nextPath)
	}

	if ref := r.Referer(); ref != "" {
		if u, err := url.Parse(ref); err == nil && strings.EqualFold(u.Host, requestHost(r)) {
			out = append(out, ref)
		}
	}
	return out
}

// requestHost はリバースプロキシの転送ヘッダーを優先してリクエスト先ホストを返す。
func requestHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.Host
}

// SignInURL はnextパラメータ付きのサインインハブURLを返す。
// nextは呼び出し側で検証済みであること。
func (g *Guard) SignInURL(next string) string {
	u := *g.hubURL
	q := u.Query()
	q.Set("next", next)
	u.RawQuery = q.Encode()
	return u.String()
}

// HubURL はnextを付けないサインインハブのURLを返す。
func (g *Guard) HubURL() string {
	return g.hubURL.String()
}

// SafeNext は戻り先URLを検証し、不正な場合は既定の遷移先を返す。
func (g *Guard) SafeNext(raw string) string {
	return g.redirects.Resolve(raw, g.fallback)
}

// PageMiddleware はページ用の認証ガードミドルウェアを返す。
// nextPathが空の場合は現在のリクエストパスを戻り先とする。
func (g *Guard) PageMiddleware(nextPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := g.RequireSession(w, r, nextPath)
			if !ok {
				return
			}
			ctx := middleware.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIMiddleware はAPI用の認証ガードミドルウェアを返す。
// セッションが無い場合は401、ストア障害の場合は500をJSONで返す。
func (g *Guard) APIMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := g.sessions.Resolve(w, r)
			if err != nil {
				if errors.Is(err, session.ErrNoSession) {
					middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				middleware.WriteError(w, r, err)
				return
			}
			ctx := middleware.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
