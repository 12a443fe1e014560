package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/signon/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions     middleware.SessionLookup
	CookieCodec  CookieCodec
	RateLimiter  *middleware.RateLimiter   // nilの場合は/auth/*のレート制限なし
	Metrics      middleware.StatusRecorder // nilの場合はステータスを記録しない
	Logger       *slog.Logger
	CookieSecure bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ページ
	Renderer PageRenderer
	Static   http.Handler

	// 運用
	DB             Pinger
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Metrics → Session → Logging
//
// /homeにはRequireUser、/auth/*にはクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Renderer))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.CookieCodec))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.CookieCodec, deps.Renderer, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.Renderer)

	// --- ページ ---
	r.Get("/", pageHandler.Landing)
	r.With(middleware.NewRequireUserMiddleware(landingPath)).Get(homePath, pageHandler.Home)
	r.Get("/logout", authHandler.Logout)

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/google", authHandler.Start)
		r.Get("/google/callback", authHandler.Callback)
	})

	// --- 運用 ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.Static != nil {
		r.Method(http.MethodGet, "/static/*", deps.Static)
	}

	return r
}
