// Package session は共有親ドメインのCookieとクレデンシャルストアのセッションを結び付ける。
// 複数のサブドメインが同じサインイン状態を参照できるよう、Cookieは常に
// Domain=<共有親ドメイン>、SameSite=None、Secureで書き込む。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
	"golang.org/x/net/publicsuffix"
)

const (
	// AccessCookieName は署名済みアクセスクレデンシャルのCookie名。
	AccessCookieName = "acct_access"
	// RefreshCookieName はリフレッシュクレデンシャル（セッションID）のCookie名。
	RefreshCookieName = "acct_refresh"
)

// ErrNoSession は有効なセッションが解決できなかったことを表す。
var ErrNoSession = errors.New("no session")

// Authenticator はアクセスクレデンシャルを検証する。
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.Identity, error)
}

// Refresher はリフレッシュクレデンシャルから新しいアクセスクレデンシャルを発行する。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
}

// Config はCookieの属性設定。
type Config struct {
	Domain string // 共有親ドメイン（例: ".example.org"）
	Secure bool   // SameSite=Noneのため必ずtrue
	MaxAge int    // Cookieの有効期間（秒）
}

// Adapter はセッションとHTTP Cookieの相互変換を行う。
type Adapter struct {
	cfg       Config
	auth      Authenticator
	refresher Refresher
}

// NewAdapter はAdapterを生成する。
// 共有ドメインが空、またはパブリックサフィックスの場合は構築時にエラーを返し、
// サブドメイン単位のCookieに黙って縮退しない。
func NewAdapter(cfg Config, auth Authenticator, refresher Refresher) (*Adapter, error) {
	domain := strings.ToLower(strings.TrimSpace(cfg.Domain))
	host := strings.TrimPrefix(domain, ".")
	if host == "" {
		return nil, fmt.Errorf("session cookie domain is required")
	}
	if suffix, _ := publicsuffix.PublicSuffix(host); suffix == host {
		return nil, fmt.Errorf("session cookie domain %q is a public suffix", cfg.Domain)
	}
	if !cfg.Secure {
		return nil, fmt.Errorf("session cookies require Secure (SameSite=None)")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("session cookie max age must be positive")
	}
	if auth == nil || refresher == nil {
		return nil, fmt.Errorf("session adapter requires an authenticator and a refresher")
	}

	cfg.Domain = domain
	return &Adapter{cfg: cfg, auth: auth, refresher: refresher}, nil
}

// Resolve はリクエストのCookieから現在のIdentityを解決する。
// アクセスクレデンシャルが無効でもリフレッシュCookieがあれば再発行してCookieを書き換える。
// 解決できない場合はErrNoSessionを返す。ストア障害はそれ以外のエラーとして返す。
func (a *Adapter) Resolve(w http.ResponseWriter, r *http.Request) (*model.Identity, error) {
	ctx := r.Context()

	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		if identity, err := a.auth.Authenticate(ctx, c.Value); err == nil {
			return identity, nil
		}
	}

	refresh := a.RefreshToken(r)
	if refresh == "" {
		return nil, ErrNoSession
	}

	sess, err := a.refresher.Refresh(ctx, refresh)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthorized {
			a.Clear(w)
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	a.Write(w, sess)
	return &model.Identity{UserID: sess.UserID, Email: sess.Email, SessionID: sess.ID}, nil
}

// RefreshToken はリフレッシュCookieの値を返す。無い場合は空文字列。
func (a *Adapter) RefreshToken(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Write はセッションのクレデンシャルを共有ドメインのCookieとして書き込む。
func (a *Adapter) Write(w http.ResponseWriter, sess *model.Session) {
	expires := time.Now().Add(time.Duration(a.cfg.MaxAge) * time.Second)
	if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(expires) {
		expires = sess.ExpiresAt
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}

	http.SetCookie(w, a.cookie(AccessCookieName, sess.AccessToken, maxAge, expires))
	http.SetCookie(w, a.cookie(RefreshCookieName, sess.ID, maxAge, expires))
}

// Clear は同じ属性のまま値を空にし、過去の有効期限で両方のCookieを上書きする。
func (a *Adapter) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(w, a.cookie(name, "", -1, time.Unix(0, 0)))
	}
}

// Domain は共有親ドメインを返す。
func (a *Adapter) Domain() string {
	return a.cfg.Domain
}

func (a *Adapter) cookie(name, value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
