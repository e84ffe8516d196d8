package middleware

import "net/http"

// contentSecurityPolicy はサーバーレンダリングのHTMLに適用するCSP。
// アバター画像はGravatarとFacebookのCDNからの読み込みを許可する。
const contentSecurityPolicy = "default-src 'self'; img-src 'self' https://www.gravatar.com https://*.fbcdn.net data:; " +
	"style-src 'self' 'unsafe-inline'; form-action 'self' https://www.facebook.com; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			next.ServeHTTP(w, r)
		})
	}
}
