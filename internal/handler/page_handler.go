package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hitoshi/accounthub/internal/middleware"
)

// HealthChecker はDB接続の疎通確認を行う。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// healthResponse はヘルスチェックの応答。
type healthResponse struct {
	Status string `json:"status"`
}

// NewHealthHandler はDBに疎通できれば200、できなければ503を返すハンドラーを返す。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Ping(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// NewPageHandler は保護されたページ用のSPAシェル（index.html）を返すハンドラーを返す。
// 認証ガードはルーター側で前段に置く。ページはユーザーごとの内容を含むため
// キャッシュさせない。
func NewPageHandler(staticDir string) http.HandlerFunc {
	index := filepath.Join(staticDir, "index.html")
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.SetNoStore(w.Header())
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
	}
}
