// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError はブラウザに表示する統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。上流の詳細は含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthFailed   = "AUTH_FAILED"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// NewAuthFailedError は認証失敗の汎用エラーを生成する。
// 失敗した段階に関わらず同じ内容を返す。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "authentication failed",
		Category: "auth",
		Action:   "しばらく待ってから、もう一度ログインしてください。",
	}
}

// NewInvalidStateError はOAuth stateの検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "authentication failed",
		Category: "auth",
		Action:   "ログイン画面からやり直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// 認証フローの失敗種別。errors.Isで判定できる。
var (
	ErrMissingCode         = errors.New("missing authorization code")
	ErrInvalidState        = errors.New("invalid oauth state")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
	ErrPersistenceFailed   = errors.New("persistence failed")
	ErrSessionFailed       = errors.New("session creation failed")
)

// ErrStoreWriteFailed はユーザーストアへの書き込み失敗を表す。
var ErrStoreWriteFailed = errors.New("store write failed")

// AuthStage はコールバック処理の状態を表す。
type AuthStage string

// コールバック処理の状態遷移:
//
//	Start → Redirected → CallbackReceived → TokenExchanged → ProfileFetched → Upserted → SessionEstablished
//
// CallbackReceived以降のどの状態からもFailedへ遷移しうる。
const (
	StageStart              AuthStage = "start"
	StageRedirected         AuthStage = "redirected"
	StageCallbackReceived   AuthStage = "callback_received"
	StageTokenExchanged     AuthStage = "token_exchanged"
	StageProfileFetched     AuthStage = "profile_fetched"
	StageUpserted           AuthStage = "upserted"
	StageSessionEstablished AuthStage = "session_established"
	StageFailed             AuthStage = "failed"
)

// AuthError は認証フローの失敗を表す。
// Stageは失敗が発生した時点の状態（最後に成功した状態）、Kindは失敗種別、Errは原因。
type AuthError struct {
	Stage AuthStage
	Kind  error
	Err   error
}

// NewAuthError はAuthErrorを生成する。
func NewAuthError(stage AuthStage, kind, cause error) *AuthError {
	return &AuthError{Stage: stage, Kind: kind, Err: cause}
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (stage=%s)", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%v (stage=%s): %v", e.Kind, e.Stage, e.Err)
}

// Unwrap は失敗種別と原因の両方を返す。
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
