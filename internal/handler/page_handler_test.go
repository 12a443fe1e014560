package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/signon/internal/middleware"
	"github.com/hitoshi/signon/internal/model"
)

func TestPageHandler_Landing(t *testing.T) {
	h := NewPageHandler(&stubRenderer{})

	w := httptest.NewRecorder()
	h.Landing(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("anonymous status = %d, want %d", w.Code, http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), "sid", &model.User{DisplayName: "Ada"}))
	w = httptest.NewRecorder()
	h.Landing(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Ada") {
		t.Errorf("logged-in landing: status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestPageHandler_Home(t *testing.T) {
	renderer := &stubRenderer{}
	h := NewPageHandler(renderer)

	w := httptest.NewRecorder()
	h.Home(w, httptest.NewRequest(http.MethodGet, "/home", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("anonymous: status = %d Location = %q", w.Code, w.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), "sid", &model.User{ID: "u-1"}))
	w = httptest.NewRecorder()
	h.Home(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if renderer.home == nil || renderer.home.ID != "u-1" {
		t.Errorf("rendered user = %+v", renderer.home)
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantBody   string
	}{
		{"no db", nil, http.StatusOK, "ok"},
		{"db up", pingerFunc(func(context.Context) error { return nil }), http.StatusOK, "ok"},
		{"db down", pingerFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}
