package middleware

import "net/http"

// contentSecurityPolicy はページが読み込めるリソースを自オリジンに制限する。
// プロフィール写真は外部のhttpsホストから読み込むためimg-srcのみ許可する。
const contentSecurityPolicy = "default-src 'self'; img-src 'self' https:; style-src 'self'; " +
	"frame-ancestors 'none'; form-action 'self'; base-uri 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// secureがtrueの場合はStrict-Transport-Securityも付与する。
func NewSecurityHeadersMiddleware(secure bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			if secure {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
