package security

import (
	"fmt"
	"net/url"
	"strings"
)

// RedirectGuard は戻り先URLを許可リストで検証し、オープンリダイレクトを防ぐ。
// httpsで、ホストが所有ドメインそのものかそのサブドメインの場合のみ許可する。
type RedirectGuard struct {
	owningDomain string
}

// NewRedirectGuard はRedirectGuardを生成する。owningDomainが空の場合はエラーを返す。
func NewRedirectGuard(owningDomain string) (*RedirectGuard, error) {
	d := strings.ToLower(strings.Trim(strings.TrimSpace(owningDomain), "."))
	if d == "" {
		return nil, fmt.Errorf("owning domain is required")
	}
	return &RedirectGuard{owningDomain: d}, nil
}

// Validate は戻り先URLを検証し、正規化したURL文字列を返す。
func (g *RedirectGuard) Validate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty redirect URL")
	}
	// バックスラッシュはブラウザによってスラッシュとして解釈される
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return "", fmt.Errorf("redirect URL contains forbidden characters")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	if !u.IsAbs() || u.Scheme != "https" {
		return "", fmt.Errorf("redirect URL must be absolute https: %s", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("redirect URL must not contain userinfo")
	}
	if u.Port() != "" && u.Port() != "443" {
		return "", fmt.Errorf("redirect URL port not allowed: %s", u.Port())
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if !g.AllowsHost(host) {
		return "", fmt.Errorf("redirect host not allowed: %s", host)
	}
	return u.String(), nil
}

// AllowsHost はホストが所有ドメインまたはそのサブドメインかを返す。
func (g *RedirectGuard) AllowsHost(host string) bool {
	host = strings.ToLower(host)
	return host == g.owningDomain || strings.HasSuffix(host, "."+g.owningDomain)
}

// Resolve は戻り先URLを検証し、不正な場合はfallbackを返す。
func (g *RedirectGuard) Resolve(raw, fallback string) string {
	if v, err := g.Validate(raw); err == nil {
		return v
	}
	return fallback
}
