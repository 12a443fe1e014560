package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/signon/internal/middleware"
	"github.com/hitoshi/signon/internal/model"
)

// PageRenderer はHTMLページを描画する。view.Rendererが実装する。
type PageRenderer interface {
	middleware.ErrorPageRenderer
	RenderLanding(w http.ResponseWriter, user *model.User)
	RenderHome(w http.ResponseWriter, user *model.User)
}

// PageHandler はトップページと保護ページのHTTPハンドラー。
type PageHandler struct {
	renderer PageRenderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(renderer PageRenderer) *PageHandler {
	return &PageHandler{renderer: renderer}
}

// Landing はトップページを返す。ログイン状態に関わらず200を返す。
// GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	h.renderer.RenderLanding(w, user)
}

// Home はログイン中ユーザーのプロフィールページを返す。
// 未ログインの場合はトップページへリダイレクトする。
// GET /home
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, landingPath, http.StatusFound)
		return
	}
	h.renderer.RenderHome(w, user)
}

// Pinger はデータベースの疎通確認を行う。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。dbがnilの場合は常にokを返す。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, timeout: 2 * time.Second}
}

// ServeHTTP はDBに疎通できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "unavailable"}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
