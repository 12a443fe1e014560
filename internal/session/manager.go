package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/signon/internal/model"
)

// Manager はセッションの発行・参照・破棄を行う。
type Manager struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
}

// NewManager はManagerを生成する。maxAgeはセッションの有効期間。
func NewManager(store Store, maxAge time.Duration) *Manager {
	return &Manager{
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// MaxAge はセッションの有効期間を返す。
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Create は推測不能なIDでセッションを発行し、userのスナップショットを保存する。
// 呼び出し後にuserを変更しても保存済みのセッションには影響しない。
func (m *Manager) Create(ctx context.Context, user *model.User) (*model.Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("session user is required")
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        id,
		User:      *user,
		ExpiresAt: now.Add(m.maxAge),
		CreatedAt: now,
	}

	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// Get はセッションIDに紐づくユーザーを返す。
// 未知・期限切れ・空のIDは「未認証」としてfalseを返す。
// ストアのエラーもログに記録したうえで未認証として扱う。
func (m *Manager) Get(ctx context.Context, id string) (*model.User, bool) {
	if id == "" {
		return nil, false
	}

	session, err := m.store.FindByID(ctx, id)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		return nil, false
	}
	if session == nil || session.Expired(m.now()) {
		return nil, false
	}

	user := session.User
	return &user, true
}

// Destroy はセッションを破棄する。存在しないセッションの破棄はエラーにならない。
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
