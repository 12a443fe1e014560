// Package auth はGoogle OAuthによるログインフローを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/signon/internal/metrics"
	"github.com/hitoshi/signon/internal/model"
	"github.com/hitoshi/signon/internal/repository"
)

// Profile はIdPから取得したユーザー情報を表す。
type Profile struct {
	GoogleID    string
	DisplayName string
	Email       string
	PhotoURL    string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeToken は認可コードをトークンに交換する。
	ExchangeToken(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchProfile はアクセストークンでユーザー情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// SessionIssuer はセッションの発行・参照・破棄を行う。session.Managerが実装する。
type SessionIssuer interface {
	Create(ctx context.Context, user *model.User) (*model.Session, error)
	Get(ctx context.Context, id string) (*model.User, bool)
	Destroy(ctx context.Context, id string) error
}

// ProfileSanitizer は保存前にプロフィール値を正規化する。
type ProfileSanitizer interface {
	DisplayName(name string) string
	Email(email string) string
	PhotoURL(raw string) string
}

// Service はログインフローのビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider
	users     repository.UserRepository
	sessions  SessionIssuer
	sanitizer ProfileSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。sanitizerとcollectorはnilでもよい。
func NewService(
	oauth OAuthProvider,
	users repository.UserRepository,
	sessions SessionIssuer,
	sanitizer ProfileSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		oauth:     oauth,
		users:     users,
		sessions:  sessions,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback は認可コードを受け取り、次の順に処理してセッションを発行する。
//
//	CallbackReceived → TokenExchanged → ProfileFetched → Upserted → SessionEstablished
//
// 各段階は直前の段階が成功した場合にのみ実行される。
// 失敗時は*model.AuthErrorを返し、それ以降の外部呼び出しや書き込みは行わない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if code == "" {
		return nil, s.RejectCallback(model.ErrMissingCode, nil)
	}

	// 1. 認可コードをトークンに交換
	start := s.now()
	token, err := s.oauth.ExchangeToken(ctx, code)
	s.metrics.RecordProviderLatency("token", s.now().Sub(start))
	if err != nil {
		return nil, s.fail(model.StageCallbackReceived, model.ErrTokenExchangeFailed, err)
	}

	// 2. アクセストークンでユーザー情報を取得
	start = s.now()
	profile, err := s.oauth.FetchProfile(ctx, token.AccessToken)
	s.metrics.RecordProviderLatency("userinfo", s.now().Sub(start))
	if err != nil {
		return nil, s.fail(model.StageTokenExchanged, model.ErrProfileFetchFailed, err)
	}
	profile = s.sanitize(profile)

	// 3. google_idをキーにユーザーを登録・更新
	user, err := s.users.Upsert(ctx, profile.GoogleID, profile.DisplayName, profile.Email, profile.PhotoURL)
	if err != nil {
		return nil, s.fail(model.StageProfileFetched, model.ErrPersistenceFailed, err)
	}

	// 4. セッションを発行
	session, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, s.fail(model.StageUpserted, model.ErrSessionFailed, err)
	}

	s.metrics.RecordLoginSuccess()
	s.metrics.RecordSessionCreated()
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("stage", string(model.StageSessionEstablished)),
	)

	return session, nil
}

// RejectCallback は外部呼び出しの前にコールバックを拒否する。
// IdPからのerrorパラメータやstate不一致など、ハンドラー側で検出した失敗に使う。
func (s *Service) RejectCallback(kind, cause error) *model.AuthError {
	return s.fail(model.StageCallbackReceived, kind, cause)
}

// CurrentUser はセッションIDに紐づくユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, bool) {
	return s.sessions.Get(ctx, sessionID)
}

// Logout はセッションを破棄する。セッションが存在しない場合もエラーにしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	s.metrics.RecordSessionDestroyed()
	slog.Info("user logged out")
	return nil
}

// fail は失敗を記録しAuthErrorを生成する。stageは最後に成功した段階。
func (s *Service) fail(stage model.AuthStage, kind, cause error) *model.AuthError {
	authErr := model.NewAuthError(stage, kind, cause)
	s.metrics.RecordLoginFailure(string(stage), ReasonLabel(kind))

	attrs := []any{
		slog.String("stage", string(stage)),
		slog.String("reason", ReasonLabel(kind)),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	slog.Warn("login failed", attrs...)

	return authErr
}

func (s *Service) sanitize(p *Profile) *Profile {
	if s.sanitizer == nil {
		return p
	}
	return &Profile{
		GoogleID:    p.GoogleID,
		DisplayName: s.sanitizer.DisplayName(p.DisplayName),
		Email:       s.sanitizer.Email(p.Email),
		PhotoURL:    s.sanitizer.PhotoURL(p.PhotoURL),
	}
}

// ReasonLabel は失敗種別をメトリクスとログ用のラベルに変換する。
func ReasonLabel(kind error) string {
	switch {
	case errors.Is(kind, model.ErrMissingCode):
		return "missing_code"
	case errors.Is(kind, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(kind, model.ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(kind, model.ErrProfileFetchFailed):
		return "profile_fetch_failed"
	case errors.Is(kind, model.ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(kind, model.ErrSessionFailed):
		return "session_failed"
	default:
		return "unknown"
	}
}

// GenerateState はCSRF対策用のstate値を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
