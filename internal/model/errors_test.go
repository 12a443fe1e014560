package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAuthError_IsMatchesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("insert failed: %w", ErrStoreWriteFailed)
	err := NewAuthError(StageProfileFetched, ErrPersistenceFailed, cause)

	if !errors.Is(err, ErrPersistenceFailed) {
		t.Error("errors.Is(err, ErrPersistenceFailed) = false, want true")
	}
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Error("errors.Is(err, ErrStoreWriteFailed) = false, want true")
	}
	if errors.Is(err, ErrTokenExchangeFailed) {
		t.Error("errors.Is(err, ErrTokenExchangeFailed) = true, want false")
	}
}

func TestAuthError_AsFromWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("callback: %w", NewAuthError(StageCallbackReceived, ErrTokenExchangeFailed, errors.New("boom")))

	var authErr *AuthError
	if !errors.As(wrapped, &authErr) {
		t.Fatal("errors.As should find *AuthError")
	}
	if authErr.Stage != StageCallbackReceived {
		t.Errorf("Stage = %q, want %q", authErr.Stage, StageCallbackReceived)
	}
}

func TestAuthError_MessageWithoutCause(t *testing.T) {
	err := NewAuthError(StageCallbackReceived, ErrMissingCode, nil)
	if !strings.Contains(err.Error(), "missing authorization code") {
		t.Errorf("Error() = %q, should mention the kind", err.Error())
	}
	if !errors.Is(err, ErrMissingCode) {
		t.Error("errors.Is(err, ErrMissingCode) = false, want true")
	}
}

func TestNewAuthFailedError_IsGeneric(t *testing.T) {
	apiErr := NewAuthFailedError()
	if apiErr.Code != ErrCodeAuthFailed {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeAuthFailed)
	}
	if apiErr.Category != "auth" {
		t.Errorf("Category = %q, want %q", apiErr.Category, "auth")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}

	if s.Expired(now) {
		t.Error("session should not be expired before ExpiresAt")
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Error("session should be expired at ExpiresAt")
	}
}
