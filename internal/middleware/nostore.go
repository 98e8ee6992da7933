package middleware

import "net/http"

// SetNoStore はセッション依存レスポンス用のキャッシュ禁止ヘッダーを設定する。
func SetNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Add("Vary", "Cookie")
}

// NewNoStoreMiddleware はハンドラー実行前にキャッシュ禁止ヘッダーを設定するミドルウェアを返す。
// 成功・失敗どちらのレスポンスにもヘッダーが付く。
func NewNoStoreMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetNoStore(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}
