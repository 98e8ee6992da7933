package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/guard"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/middleware"
)

// SessionManager はセッションCookieの解決と書き込みを行う。session.Adapterが満たす。
type SessionManager interface {
	SessionResolver
	SessionWriter
}

// guardedPages は認証ガード付きで配信するページのパス。
var guardedPages = []string{"/nebula", "/profile", "/market", "/welcome"}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	CORSSiblingHost   func(host string) bool // 所有ドメイン配下のOriginを許可する場合に指定
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// セッション・認証
	Sessions    SessionManager
	Guard       *guard.Guard
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アカウント
	Snapshots SnapshotAssembler
	Profiles  ProfileUpdater

	// ハンドオフ・ロック解除
	Handoff  HandoffRedeemer
	Unlocker Unlocker

	// 静的ファイル（SPAのビルド成果物）
	StaticDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS
//
// セッション付きAPIはさらに Guard(API) → RateLimit(General) → CSRF を通る。
// スナップショット・ブートストラップ・引き換えはガードより前にno-storeヘッダーを設定する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin, deps.CORSSiblingHost))

	accountHandler := NewAccountHandler(deps.Snapshots, deps.Profiles, deps.Sessions)
	handoffHandler := NewHandoffHandler(deps.Handoff)
	unlockHandler := NewUnlockHandler(deps.Unlocker)
	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.Guard, collector, deps.AuthConfig)

	noStore := middleware.NewNoStoreMiddleware()
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.With(noStore).Get("/api/bootstrap", accountHandler.Bootstrap)

	// ハンドオフ引き換え（トークン自体が資格情報のためセッション不要）
	r.Route("/api/handoff/redeem", func(r chi.Router) {
		r.Use(noStore)
		r.Use(deps.RateLimiter.RedeemMiddleware())
		r.Get("/", handoffHandler.Redeem)
		r.Post("/", handoffHandler.Redeem)
	})

	// サインイン（IPごとのレート制限）
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Use(csrf)
		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.Login)
		r.Post("/magic-link", authHandler.RequestMagicLink)
	})
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/callback", authHandler.Callback)
	})
	r.Get("/logout", authHandler.Logout)
	r.Post("/logout", authHandler.Logout)

	// --- セッション付きAPI ---
	// ミドルウェアスタック: NoStore(スナップショットのみ) → Guard(API) → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(noStore)
		r.Use(deps.Guard.APIMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Get("/api/account/snapshot", accountHandler.Snapshot)
	})
	r.Group(func(r chi.Router) {
		r.Use(deps.Guard.APIMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)
		r.Post("/api/profile", accountHandler.UpdateProfile)
		r.Post("/api/universes/{key}/unlock", unlockHandler.Unlock)
		r.Post("/api/market/unlock", unlockHandler.UnlockFixed(entitlement.UniverseMarket))
	})

	// --- 認証ガード付きページ ---
	page := NewPageHandler(deps.StaticDir)
	for _, path := range guardedPages {
		r.With(deps.Guard.PageMiddleware(path)).Get(path, page)
	}

	return r
}
