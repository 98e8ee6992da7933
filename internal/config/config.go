// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretLength はセッション署名鍵の最小バイト数。
const MinSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string `env:"DATABASE_URL"`
	AdminDatabaseURL string `env:"ADMIN_DATABASE_URL"`

	// Session
	SessionSecret  string        `env:"SESSION_SECRET"`
	SessionMaxAge  int           `env:"SESSION_MAX_AGE" envDefault:"2592000"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	MagicLinkTTL   time.Duration `env:"MAGIC_LINK_TTL" envDefault:"15m"`

	// OAuth（3つ全て設定された場合のみ有効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Domains
	BaseURL        string `env:"BASE_URL"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	OwningDomain   string `env:"OWNING_DOMAIN"`
	AuthHubURL     string `env:"AUTH_HUB_URL"`
	DefaultNextURL string `env:"DEFAULT_NEXT_URL"`

	// Storage
	StoragePublicURL string `env:"STORAGE_PUBLIC_URL"`
	AvatarBucket     string `env:"AVATAR_BUCKET" envDefault:"avatars"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`
	RateLimitRedeem  int `env:"RATE_LIMIT_REDEEM" envDefault:"30"`

	// Worker
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	ReconcileBatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"500"`
	CleanupInterval    time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	StaticDir         string `env:"STATIC_DIR" envDefault:"./web/dist"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie（BASE_URLがhttpsの場合のみtrue）
	CookieSecure bool `env:"-"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"SESSION_SECRET", cfg.SessionSecret},
		{"COOKIE_DOMAIN", cfg.CookieDomain},
		{"BASE_URL", cfg.BaseURL},
		{"OWNING_DOMAIN", cfg.OwningDomain},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BASE_URL: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.OwningDomain = strings.ToLower(strings.TrimPrefix(cfg.OwningDomain, "."))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if cfg.AuthHubURL == "" {
		cfg.AuthHubURL = "https://auth." + cfg.OwningDomain + "/login"
	}
	if cfg.DefaultNextURL == "" {
		cfg.DefaultNextURL = cfg.BaseURL + "/nebula"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = cfg.BaseURL
	}

	return cfg, nil
}

// GoogleEnabled はGoogle OAuthの設定がすべて揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// AdminDatabaseConfigured は管理者用DB接続が個別に設定されているかを返す。
func (c *Config) AdminDatabaseConfigured() bool {
	return c.AdminDatabaseURL != "" && c.AdminDatabaseURL != c.DatabaseURL
}
