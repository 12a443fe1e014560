// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/signon/internal/auth"
	"github.com/hitoshi/signon/internal/middleware"
	"github.com/hitoshi/signon/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	homePath    = "/home"
	landingPath = "/"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	RejectCallback(kind, cause error) *model.AuthError
	Logout(ctx context.Context, sessionID string) error
}

// CookieEncoder はセッションIDを署名付きCookie値に変換する。
type CookieEncoder interface {
	Encode(id string) string
}

// CookieCodec はセッションCookie値の署名と検証を行う。session.CookieCodecが実装する。
type CookieCodec interface {
	CookieEncoder
	middleware.CookieDecoder
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cookies  CookieCodec
	renderer middleware.ErrorPageRenderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	service AuthServiceInterface,
	cookies CookieCodec,
	renderer middleware.ErrorPageRenderer,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		renderer: renderer,
		config:   config,
	}
}

// Start はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r, h.renderer)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
//
// セッションCookieは全段階が成功した後にのみ設定する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	// 1. IdPが拒否した場合、または認可コードがない場合は外部呼び出しをしない
	if providerErr := query.Get("error"); providerErr != "" || query.Get("code") == "" {
		var cause error
		if providerErr != "" {
			cause = errors.New("provider returned error: " + providerErr)
		}
		h.writeAuthError(w, r, h.service.RejectCallback(model.ErrMissingCode, cause))
		return
	}

	// 2. stateの検証（CSRF対策）
	state := query.Get("state")
	if cookieErr != nil || state == "" || stateCookie.Value != state {
		h.writeAuthError(w, r, h.service.RejectCallback(model.ErrInvalidState, nil))
		return
	}

	// 3. トークン交換 → プロフィール取得 → ユーザー登録 → セッション発行
	session, err := h.service.HandleCallback(r.Context(), query.Get("code"))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    h.cookies.Encode(session.ID),
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, homePath, http.StatusFound)
}

// Logout はセッションを破棄してトップページへリダイレクトする。
// セッションがない場合もCookieを削除してリダイレクトする。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.sessionID(r); ok {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, landingPath, http.StatusFound)
}

// sessionID は破棄対象のセッションIDを返す。
// ストアの読み取りに失敗するとミドルウェアはセッションを解決できないため、
// その場合は署名付きCookieから直接取り出す。
func (h *AuthHandler) sessionID(r *http.Request) (string, bool) {
	if id, ok := middleware.SessionIDFromContext(r.Context()); ok {
		return id, true
	}
	c, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return "", false
	}
	return h.cookies.Decode(c.Value)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeAuthError は失敗種別に応じたステータスで汎用エラーページを返す。
// 原因の詳細はサービス層でログに記録済みのため、ここでは表示しない。
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := model.NewAuthFailedError()
	if errors.Is(err, model.ErrInvalidState) {
		apiErr = model.NewInvalidStateError()
	}
	middleware.WriteErrorResponse(w, r, authErrorStatus(err), apiErr, h.renderer)
}

// authErrorStatus は失敗種別をHTTPステータスに変換する。
func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrMissingCode), errors.Is(err, model.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTokenExchangeFailed), errors.Is(err, model.ErrProfileFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
