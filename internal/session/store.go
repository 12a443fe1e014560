// Package session はサーバー側セッションの発行・参照・破棄を提供する。
//
// セッションはログイン時点のユーザーのスナップショットを保持する。
// 保存先はStoreインターフェースで差し替えられ、既定はプロセス内メモリ
// （再起動で全セッションが失われる）、複数インスタンス構成では
// repository.PostgresSessionRepoを使用する。
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/signon/internal/model"
)

// ErrDuplicateID は同じIDのセッションが既に存在する場合に返される。
var ErrDuplicateID = errors.New("session id already exists")

// Store はセッションの保存先のインターフェース。
// repository.SessionRepositoryと同じメソッド集合を持つ。
type Store interface {
	// Create はセッションを保存する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID はセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID はセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// MemoryStore はプロセス内メモリにセッションを保持するStore。
// 複数goroutineから安全に使用できる。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Create はセッションのコピーを保存する。
func (s *MemoryStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrDuplicateID
	}
	s.sessions[session.ID] = *session
	return nil
}

// FindByID はセッションのコピーを返す。期限切れの場合はnilを返す。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	stored, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || stored.Expired(s.now()) {
		return nil, nil
	}
	return &stored, nil
}

// DeleteByID はセッションを削除する。
func (s *MemoryStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (s *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, stored := range s.sessions {
		if stored.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len は保持しているセッション数（期限切れを含む）を返す。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
