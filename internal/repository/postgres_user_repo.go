package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/signon/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// upsertUserSQL はgoogle_idの競合時に可変フィールドのみを上書きする。
// id、google_id、created_atは初回挿入時の値が維持される。
const upsertUserSQL = `
	INSERT INTO users (id, google_id, display_name, email, photo, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, now(), now())
	ON CONFLICT (google_id)
	DO UPDATE SET
		display_name = EXCLUDED.display_name,
		email        = EXCLUDED.email,
		photo        = EXCLUDED.photo,
		updated_at   = now()
	RETURNING id, google_id, display_name, email, photo, created_at, updated_at`

// Upsert はgoogle_idをキーにユーザーを挿入または更新し、書き込み後のレコードを返す。
// 読み取り→書き込みではなく単一のINSERT ... ON CONFLICT文で実行する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, googleID, displayName, email, photoURL string) (*model.User, error) {
	if googleID == "" {
		return nil, fmt.Errorf("%w: google_id is required", model.ErrStoreWriteFailed)
	}

	user := &model.User{}
	err := r.db.QueryRowContext(ctx, upsertUserSQL,
		uuid.New().String(), googleID, displayName, email, photoURL,
	).Scan(&user.ID, &user.GoogleID, &user.DisplayName, &user.Email, &user.PhotoURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to upsert user: %w", model.ErrStoreWriteFailed, err)
	}

	return user, nil
}

// FindByGoogleID はgoogle_idでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, google_id, display_name, email, photo, created_at, updated_at
		 FROM users WHERE google_id = $1`,
		googleID,
	).Scan(&user.ID, &user.GoogleID, &user.DisplayName, &user.Email, &user.PhotoURL, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google_id: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
