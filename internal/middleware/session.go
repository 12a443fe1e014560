// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/signon/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey      = contextKey("user")
	sessionIDContextKey = contextKey("session_id")
)

// SessionLookup はセッションIDからユーザーを引く。session.Managerが実装する。
type SessionLookup interface {
	Get(ctx context.Context, id string) (*model.User, bool)
}

// CookieDecoder は署名付きCookie値からセッションIDを取り出す。session.CookieCodecが実装する。
type CookieDecoder interface {
	Decode(value string) (string, bool)
}

// NewSessionMiddleware はCookieからセッションを読み取り、
// 有効なセッションがあればユーザーとセッションIDをリクエストコンテキストに注入する。
// 未認証のリクエストも拒否せずに次へ渡す。署名が不正なCookieは未認証として扱う。
func NewSessionMiddleware(lookup SessionLookup, codec CookieDecoder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, ok := codec.Decode(cookie.Value)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			user, ok := lookup.Get(r.Context(), sessionID)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), sessionID, user)))
		})
	}
}

// NewRequireUserMiddleware は未認証のリクエストをredirectToへ302でリダイレクトするミドルウェアを返す。
// NewSessionMiddlewareの後に配置する。
func NewRequireUserMiddleware(redirectTo string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); !ok {
				http.Redirect(w, r, redirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストからユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok && id != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにセッションIDとユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, sessionID string, user *model.User) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, userContextKey, user)
}
