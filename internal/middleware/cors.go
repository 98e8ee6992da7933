package middleware

import (
	"net/http"
	"net/url"
)

// NewCORSMiddleware は資格情報付きのCORSミドルウェアを返す。
// Originが allowedOrigin と一致するか、https かつ siblingHost が許可するホストであれば
// そのOriginをそのまま返す。credentials送信と共存するため、ワイルドカード(*)は使用しない。
// siblingHostがnilの場合は allowedOrigin のみを許可する。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string, siblingHost func(host string) bool) func(next http.Handler) http.Handler {
	allow := func(origin string) string {
		if origin == "" || origin == allowedOrigin {
			return allowedOrigin
		}
		if siblingHost == nil {
			return ""
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme != "https" || u.User != nil || u.Path != "" {
			return ""
		}
		if !siblingHost(u.Hostname()) {
			return ""
		}
		return origin
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := allow(r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
