// Package model はドメインモデルを定義する。
package model

import "time"

// User はGoogleアカウントで認証されたユーザーを表す。
// GoogleIDごとに1レコードのみ存在し、再ログイン時は表示名・メール・写真URLが
// Googleの最新値で上書きされる。ID、GoogleID、CreatedAtは変化しない。
type User struct {
	ID          string    `json:"id"`
	GoogleID    string    `json:"google_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	PhotoURL    string    `json:"photo_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session はブラウザとユーザーのサーバー側の紐付けを表す。
// Userはログイン時点のスナップショットであり、部分的に埋まった状態では作成されない。
type Session struct {
	ID        string
	User      User
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが指定時刻の時点で期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
