package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/accounthub/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // セッション付きAPIのユーザーごとのレート（req/sec）
	GeneralBurst    int           // セッション付きAPIのバーストサイズ
	AuthRate        rate.Limit    // サインイン系のクライアントIPごとのレート（req/sec）
	AuthBurst       int           // サインイン系のバーストサイズ
	RedeemRate      rate.Limit    // ハンドオフ引き換えのクライアントIPごとのレート（req/sec）
	RedeemBurst     int           // ハンドオフ引き換えのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、サインイン 10 req/min/IP、引き換え 30 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10, 30)
}

// NewRateLimiterConfig は1分あたりのリクエスト数から設定を生成する。
func NewRateLimiterConfig(generalPerMin, authPerMin, redeemPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     perMinute(generalPerMin),
		GeneralBurst:    generalPerMin,
		AuthRate:        perMinute(authPerMin),
		AuthBurst:       authPerMin,
		RedeemRate:      perMinute(redeemPerMin),
		RedeemBurst:     redeemPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// keyLimiter はキー（ユーザーIDまたはクライアントIP）ごとのリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてキーごとのリミッターを管理する。
type limiterSet struct {
	name    string
	rate    rate.Limit
	burst   int
	mu      sync.RWMutex
	entries map[string]*keyLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{name: name, rate: r, burst: burst, entries: make(map[string]*keyLimiter)}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.RLock()
	kl, exists := s.entries[key]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		kl.lastAccess = time.Now()
		s.mu.Unlock()
		return kl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if kl, exists := s.entries[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.entries[key] = &keyLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (s *limiterSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.entries {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.entries, key)
		}
	}
}

// RateLimiter はユーザーごと・クライアントIPごとのレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig

	general *limiterSet
	auth    *limiterSet
	redeem  *limiterSet

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		auth:    newLimiterSet("auth", config.AuthRate, config.AuthBurst),
		redeem:  newLimiterSet("redeem", config.RedeemRate, config.RedeemBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はセッション付きAPIのユーザーごとのレート制限ミドルウェアを返す。
// 認証ガードの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			rl.serve(rl.general, userID, w, r, next)
		})
	}
}

// AuthMiddleware はサインイン系エンドポイントのクライアントIPごとのレート制限ミドルウェアを返す。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl.serve(rl.auth, ClientIP(r), w, r, next)
		})
	}
}

// RedeemMiddleware はハンドオフ引き換えのクライアントIPごとのレート制限ミドルウェアを返す。
// トークンの総当たりを抑止する。
func (rl *RateLimiter) RedeemMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl.serve(rl.redeem, ClientIP(r), w, r, next)
		})
	}
}

func (rl *RateLimiter) serve(set *limiterSet, key string, w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !set.get(key).Allow() {
		writeRateLimitResponse(w, set.rate)
		slog.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("limit_type", set.name),
		)
		return
	}
	next.ServeHTTP(w, r)
}

// GeneralLimiterCount は現在管理されているユーザーごとのリミッター数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// AuthLimiterCount は現在管理されているサインイン系リミッター数を返す。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.count()
}

// RedeemLimiterCount は現在管理されている引き換えリミッター数を返す。
func (rl *RateLimiter) RedeemLimiterCount() int {
	return rl.redeem.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	for _, set := range []*limiterSet{rl.general, rl.auth, rl.redeem} {
		set.evict(now, ttl)
	}
}

// ClientIP はリクエスト元のIPアドレスを返す。
// リバースプロキシ配下ではchiのRealIPミドルウェアでRemoteAddrを書き換えてから使う。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
