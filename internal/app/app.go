// Package app はアカウントサービスの起動とワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/accounthub/internal/auth"
	"github.com/hitoshi/accounthub/internal/config"
	"github.com/hitoshi/accounthub/internal/database"
	"github.com/hitoshi/accounthub/internal/entitlement"
	"github.com/hitoshi/accounthub/internal/guard"
	"github.com/hitoshi/accounthub/internal/handler"
	"github.com/hitoshi/accounthub/internal/handoff"
	"github.com/hitoshi/accounthub/internal/logger"
	"github.com/hitoshi/accounthub/internal/metrics"
	"github.com/hitoshi/accounthub/internal/middleware"
	"github.com/hitoshi/accounthub/internal/profile"
	"github.com/hitoshi/accounthub/internal/repository"
	"github.com/hitoshi/accounthub/internal/security"
	"github.com/hitoshi/accounthub/internal/session"
	"github.com/hitoshi/accounthub/internal/snapshot"
	"github.com/hitoshi/accounthub/internal/storage"
	"github.com/hitoshi/accounthub/internal/worker/cleanup"
	"github.com/hitoshi/accounthub/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はセッション用と管理者用の接続プールを開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*database.Pools, error) {
	pools, err := database.OpenPools(cfg.DatabaseURL, cfg.AdminDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pools.Ping(ctx); err != nil {
		pools.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.Bool("admin_pool_shared", pools.Shared()),
	)
	return pools, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	pools, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer pools.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, rateLimiter, err := buildRouter(cfg, pools, registry, slog.Default())
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリからハンドラーまでの依存関係を組み立てる。
// 接続プールには接続を試みないため、DBが無くても構築できる。
// 返したRateLimiterは呼び出し側で停止すること。
func buildRouter(cfg *config.Config, pools *database.Pools, registry *prometheus.Registry, log *slog.Logger) (http.Handler, *middleware.RateLimiter, error) {
	collector := metrics.NewCollector(registry)

	// 1. リポジトリの初期化
	// 利用者の資格情報で足りるものはセッション用プール、
	// 行レベルの権限を越える読み書きは管理者用プールを使う
	userRepo := repository.NewPostgresUserRepo(pools.Session)
	identRepo := repository.NewPostgresIdentityRepo(pools.Session)
	sessionRepo := repository.NewPostgresSessionRepo(pools.Session)
	magicLinkRepo := repository.NewPostgresMagicLinkRepo(pools.Session)
	profileRepo := repository.NewPostgresProfileRepo(pools.Session)
	adminUserRepo := repository.NewPostgresUserRepo(pools.Admin)
	adminProfileRepo := repository.NewPostgresProfileRepo(pools.Admin)
	handoffRepo := repository.NewPostgresHandoffTokenRepo(pools.Admin)
	ledgerRepo := repository.NewPostgresLedgerRepo(pools.Admin)
	entitlementRepo := repository.NewPostgresEntitlementRepo(pools.Admin)

	// 2. 認証
	tokens, err := auth.NewTokenIssuer(cfg.SessionSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleEnabled() {
		google, err := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google oauth provider: %w", err)
		}
		oauthProvider = google
	}
	authService := auth.NewService(
		auth.Repositories{Users: userRepo, Identities: identRepo, Sessions: sessionRepo, MagicLinks: magicLinkRepo},
		tokens, oauthProvider, auth.NewLogLinkSender(log),
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			MagicLinkTTL:  cfg.MagicLinkTTL,
			CallbackURL:   cfg.BaseURL + "/auth/callback",
		},
	)

	// 3. セッションCookieと認証ガード
	sessions, err := session.NewAdapter(session.Config{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	}, authService, authService)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session adapter: %w", err)
	}
	redirects, err := security.NewRedirectGuard(cfg.OwningDomain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redirect guard: %w", err)
	}
	authGuard, err := guard.NewGuard(sessions, redirects, guard.Config{
		AuthHubURL:     cfg.AuthHubURL,
		DefaultNextURL: cfg.DefaultNextURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create auth guard: %w", err)
	}

	// 4. ロック解除・台帳・ハンドオフ
	catalog := entitlement.DefaultCatalog()
	entitlementService := entitlement.NewService(entitlementRepo, ledgerRepo, catalog, collector)
	handoffService, err := handoff.NewService(handoff.Deps{
		Tokens:   handoffRepo,
		Users:    adminUserRepo,
		Profiles: adminProfileRepo,
		Ledger:   entitlementService,
		Catalog:  catalog,
		Policy:   entitlement.DefaultPolicy(),
		Metrics:  collector,
		Logger:   log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create handoff service: %w", err)
	}

	// 5. スナップショットとプロフィール
	avatars, err := storage.NewPublicURLResolver(cfg.StoragePublicURL, cfg.AvatarBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage resolver: %w", err)
	}
	assembler := snapshot.NewAssembler(profileRepo, entitlementService, avatars, log)
	profileService := profile.NewService(profileRepo, security.NewTextSanitizer())

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitAuth, cfg.RateLimitRedeem,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     pools,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CORSSiblingHost:   redirects.AllowsHost,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		Sessions:    sessions,
		Guard:       authGuard,
		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},

		Snapshots: assembler,
		Profiles:  profileService,

		Handoff:  handoffService,
		Unlocker: entitlementService,

		StaticDir: cfg.StaticDir,
	})

	return router, rateLimiter, nil
}

// runWorker はワーカーモードで起動する。
// 台帳の整合ジョブと期限切れデータのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	pools, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer pools.Close()

	// ワーカーは外部に公開しないため、メトリクスは専用レジストリに記録するのみ
	collector := metrics.NewCollector(prometheus.NewRegistry())

	reconcileJob := reconcile.NewJob(
		repository.NewPostgresEntitlementRepo(pools.Admin),
		repository.NewPostgresLedgerRepo(pools.Admin),
		entitlement.DefaultCatalog(),
		collector,
		slog.Default(),
		reconcile.Config{Interval: cfg.ReconcileInterval, BatchSize: cfg.ReconcileBatchSize},
	)
	cleanupJob := cleanup.NewCleanupJob(pools.Session, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Int("reconcile_batch_size", cfg.ReconcileBatchSize),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// クリーンアップジョブをバックグラウンドで起動
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	// 整合ジョブをメインgoroutineで実行（ブロッキング）
	reconcileJob.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 管理者用URLが設定されている場合はそちらで適用する。
func runMigrate(cfg *config.Config) error {
	target := cfg.DatabaseURL
	if cfg.AdminDatabaseConfigured() {
		target = cfg.AdminDatabaseURL
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(target)),
	)

	version, err := database.RunMigrations(target)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクし、クエリを取り除く。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
