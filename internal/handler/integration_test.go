package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/signon/internal/auth"
	"github.com/hitoshi/signon/internal/metrics"
	"github.com/hitoshi/signon/internal/middleware"
	"github.com/hitoshi/signon/internal/model"
	"github.com/hitoshi/signon/internal/repository"
	"github.com/hitoshi/signon/internal/security"
	"github.com/hitoshi/signon/internal/session"
	"github.com/hitoshi/signon/internal/view"
)

// --- 統合テスト用のフェイク ---

// memoryUserRepo はgoogle_idをキーにユーザーを保持するUserRepository。
type memoryUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	upserts int
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{byID: make(map[string]*model.User)}
}

func (r *memoryUserRepo) Upsert(_ context.Context, googleID, displayName, email, photoURL string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++

	now := time.Now()
	u, ok := r.byID[googleID]
	if !ok {
		u = &model.User{ID: "user-" + googleID, GoogleID: googleID, CreatedAt: now}
		r.byID[googleID] = u
	}
	u.DisplayName, u.Email, u.PhotoURL, u.UpdatedAt = displayName, email, photoURL, now
	copied := *u
	return &copied, nil
}

func (r *memoryUserRepo) FindByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[googleID]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (r *memoryUserRepo) counts() (users, upserts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), r.upserts
}

var _ repository.UserRepository = (*memoryUserRepo)(nil)

// fakeGoogle はトークンエンドポイントとユーザー情報エンドポイントを提供する。
type fakeGoogle struct {
	tokenCalls    atomic.Int32
	userInfoCalls atomic.Int32
	tokenStatus   int
	token         *httptest.Server
	userInfo      *httptest.Server
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	g := &fakeGoogle{tokenStatus: http.StatusOK}

	g.token = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.tokenCalls.Add(1)
		if g.tokenStatus != http.StatusOK {
			w.WriteHeader(g.tokenStatus)
			return
		}
		r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(g.token.Close)

	g.userInfo = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.userInfoCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":      "42",
			"name":    "Ada",
			"email":   "ada@x.com",
			"picture": "p.jpg",
		})
	}))
	t.Cleanup(g.userInfo.Close)

	return g
}

// flakyStore はFindByIDの失敗を切り替えられるsession.Store。
type flakyStore struct {
	*session.MemoryStore
	failReads atomic.Bool
}

func (s *flakyStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if s.failReads.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return s.MemoryStore.FindByID(ctx, id)
}

var _ session.Store = (*flakyStore)(nil)

// testApp は実際のサービス群をフェイクのIdPとメモリストアで組み立てたもの。
type testApp struct {
	server   *httptest.Server
	client   *http.Client
	google   *fakeGoogle
	users    *memoryUserRepo
	sessions *flakyStore
	registry *prometheus.Registry
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	google := newFakeGoogle(t)
	users := newMemoryUserRepo()
	store := &flakyStore{MemoryStore: session.NewMemoryStore()}
	manager := session.NewManager(store, time.Hour)
	codec := session.NewCookieCodec("test-secret")
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     google.token.URL,
		UserInfoURL:  google.userInfo.URL,
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	})
	svc := auth.NewService(provider, users, manager,
		security.NewProfileSanitizer(security.NewSSRFGuard()), collector)

	router := NewRouter(&RouterDeps{
		Sessions:       manager,
		CookieCodec:    codec,
		Metrics:        collector,
		AuthService:    svc,
		AuthConfig:     AuthHandlerConfig{SessionMaxAge: 3600},
		Renderer:       view.MustNewRenderer(),
		Static:         view.StaticHandler(),
		MetricsHandler: metrics.Handler(registry),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testApp{
		server:   server,
		client:   client,
		google:   google,
		users:    users,
		sessions: store,
		registry: registry,
	}
}

func (a *testApp) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := a.client.Get(a.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// login は/auth/googleでstateを取得し、コールバックを呼ぶ。
func (a *testApp) login(t *testing.T, code string) *http.Response {
	t.Helper()
	start := a.get(t, "/auth/google")
	loc, err := url.Parse(start.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	q := url.Values{"code": {code}, "state": {loc.Query().Get("state")}}
	return a.get(t, "/auth/google/callback?"+q.Encode())
}

func assertRedirect(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if got := resp.Header.Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

// --- シナリオ ---

// TestIntegration_ScenarioA_StartRedirectsToGoogle はログイン開始でGoogleへリダイレクトされることを検証する。
func TestIntegration_ScenarioA_StartRedirectsToGoogle(t *testing.T) {
	app := newTestApp(t)

	resp := app.get(t, "/auth/google")

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	q := loc.Query()
	checks := map[string]string{
		"client_id":     "test-client-id",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"scope":         "openid email profile",
		"response_type": "code",
	}
	for k, v := range checks {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if q.Get("state") == "" {
		t.Error("expected state parameter")
	}
}

// TestIntegration_ScenarioB_CallbackEstablishesSession は正常なコールバックでユーザー登録とセッション発行が行われることを検証する。
func TestIntegration_ScenarioB_CallbackEstablishesSession(t *testing.T) {
	app := newTestApp(t)

	resp := app.login(t, "good-code")
	assertRedirect(t, resp, "/home")

	user, _ := app.users.FindByGoogleID(context.Background(), "42")
	if user == nil {
		t.Fatal("expected user row for google_id=42")
	}
	if user.DisplayName != "Ada" || user.Email != "ada@x.com" || user.PhotoURL != "p.jpg" {
		t.Errorf("unexpected user: %+v", user)
	}
	if app.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", app.sessions.Len())
	}

	home := app.get(t, "/home")
	if home.StatusCode != http.StatusOK {
		t.Fatalf("GET /home status = %d, want %d", home.StatusCode, http.StatusOK)
	}
	body := readBody(t, home)
	for _, want := range []string{"Ada", "ada@x.com", `src="p.jpg"`} {
		if !strings.Contains(body, want) {
			t.Errorf("home page should contain %q", want)
		}
	}
}

// TestIntegration_ScenarioB_RepeatLoginUpdatesSingleRow は再ログインで同じユーザーが更新されることを検証する。
func TestIntegration_ScenarioB_RepeatLoginUpdatesSingleRow(t *testing.T) {
	app := newTestApp(t)

	assertRedirect(t, app.login(t, "good-code"), "/home")
	assertRedirect(t, app.login(t, "good-code"), "/home")

	users, upserts := app.users.counts()
	if users != 1 {
		t.Errorf("users = %d, want 1", users)
	}
	if upserts != 2 {
		t.Errorf("upserts = %d, want 2", upserts)
	}
}

// TestIntegration_ScenarioC_MissingCode は認可コードがない場合に外部呼び出しもセッション発行も行わないことを検証する。
func TestIntegration_ScenarioC_MissingCode(t *testing.T) {
	app := newTestApp(t)

	resp := app.get(t, "/auth/google/callback")

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(readBody(t, resp), "authentication failed") {
		t.Error("expected generic failure page")
	}
	if app.google.tokenCalls.Load() != 0 || app.google.userInfoCalls.Load() != 0 {
		t.Error("no outbound calls should be made")
	}
	if app.sessions.Len() != 0 {
		t.Error("no session should be created")
	}
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName && c.Value != "" {
			t.Error("session cookie should not be set")
		}
	}
}

// TestIntegration_ProviderDenied はIdPがerrorを返した場合に外部呼び出しをしないことを検証する。
func TestIntegration_ProviderDenied(t *testing.T) {
	app := newTestApp(t)

	resp := app.get(t, "/auth/google/callback?error=access_denied")

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if app.google.tokenCalls.Load() != 0 {
		t.Error("token endpoint should not be called")
	}
}

// TestIntegration_StateMismatch はstateが一致しない場合にトークン交換をしないことを検証する。
func TestIntegration_StateMismatch(t *testing.T) {
	app := newTestApp(t)
	app.get(t, "/auth/google")

	resp := app.get(t, "/auth/google/callback?code=good-code&state=forged")

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if app.google.tokenCalls.Load() != 0 {
		t.Error("token endpoint should not be called")
	}
	if app.sessions.Len() != 0 {
		t.Error("no session should be created")
	}
}

// TestIntegration_TokenExchangeFailure はトークン交換の失敗でプロフィール取得もユーザー登録も行わないことを検証する。
func TestIntegration_TokenExchangeFailure(t *testing.T) {
	app := newTestApp(t)

	resp := app.login(t, "bad-code")

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "authentication failed") {
		t.Error("expected generic failure page")
	}
	if strings.Contains(body, "invalid_grant") {
		t.Error("upstream payload must not be echoed")
	}
	if app.google.userInfoCalls.Load() != 0 {
		t.Error("userinfo endpoint should not be called")
	}
	if _, upserts := app.users.counts(); upserts != 0 {
		t.Error("upsert should not be called")
	}
	if app.sessions.Len() != 0 {
		t.Error("no session should be created")
	}
}

// TestIntegration_ScenarioD_HomeWithoutSession は未ログインで保護ページにアクセスするとトップへ戻されることを検証する。
func TestIntegration_ScenarioD_HomeWithoutSession(t *testing.T) {
	app := newTestApp(t)

	assertRedirect(t, app.get(t, "/home"), "/")
}

// TestIntegration_TamperedCookie は署名が不正なCookieが未ログインとして扱われることを検証する。
func TestIntegration_TamperedCookie(t *testing.T) {
	app := newTestApp(t)
	assertRedirect(t, app.login(t, "good-code"), "/home")

	u, _ := url.Parse(app.server.URL)
	cookies := app.client.Jar.Cookies(u)
	var value string
	for _, c := range cookies {
		if c.Name == middleware.SessionCookieName {
			value = c.Value
		}
	}
	id, _, _ := strings.Cut(value, ".")

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/home", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: id})
	resp, err := (&http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}).Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	assertRedirect(t, resp, "/")
}

// TestIntegration_ScenarioE_LogoutDestroysSession はログアウト後に保護ページへアクセスできないことを検証する。
func TestIntegration_ScenarioE_LogoutDestroysSession(t *testing.T) {
	app := newTestApp(t)
	assertRedirect(t, app.login(t, "good-code"), "/home")

	if resp := app.get(t, "/home"); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /home status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	assertRedirect(t, app.get(t, "/logout"), "/")
	if app.sessions.Len() != 0 {
		t.Errorf("sessions = %d, want 0", app.sessions.Len())
	}

	assertRedirect(t, app.get(t, "/home"), "/")
}

// TestIntegration_LogoutWithoutSession はセッションがなくてもログアウトがリダイレクトすることを検証する。
func TestIntegration_LogoutWithoutSession(t *testing.T) {
	app := newTestApp(t)

	assertRedirect(t, app.get(t, "/logout"), "/")
}

// TestIntegration_Landing はトップページがログイン状態に関わらず200を返すことを検証する。
func TestIntegration_Landing(t *testing.T) {
	app := newTestApp(t)

	anon := app.get(t, "/")
	if anon.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", anon.StatusCode, http.StatusOK)
	}
	if !strings.Contains(readBody(t, anon), `href="/auth/google"`) {
		t.Error("landing page should link to login")
	}

	assertRedirect(t, app.login(t, "good-code"), "/home")

	authed := app.get(t, "/")
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", authed.StatusCode, http.StatusOK)
	}
	if !strings.Contains(readBody(t, authed), `href="/home"`) {
		t.Error("landing page should link to home when logged in")
	}
}

// TestIntegration_MetricsExposeLoginOutcomes はログイン結果がメトリクスに反映されることを検証する。
func TestIntegration_MetricsExposeLoginOutcomes(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "good-code")
	app.login(t, "bad-code")

	body := readBody(t, app.get(t, "/metrics"))

	for _, want := range []string{
		"signon_login_success_total 1",
		`signon_login_fail_total{reason="token_exchange_failed",stage="callback_received"} 1`,
		"signon_sessions_created_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics should contain %q", want)
		}
	}
}

// TestIntegration_StaticAndHealth は静的ファイルとヘルスチェックが配信されることを検証する。
func TestIntegration_StaticAndHealth(t *testing.T) {
	app := newTestApp(t)

	if resp := app.get(t, "/static/style.css"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /static/style.css status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp := app.get(t, "/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// TestIntegration_Logout_DestroysSessionWhenStoreReadFails はストアの読み取りに失敗しても
// ログアウトでサーバー側のセッションが破棄されることを検証する。
func TestIntegration_Logout_DestroysSessionWhenStoreReadFails(t *testing.T) {
	app := newTestApp(t)
	assertRedirect(t, app.login(t, "good-code"), "/home")

	serverURL, _ := url.Parse(app.server.URL)
	var stolen *http.Cookie
	for _, c := range app.client.Jar.Cookies(serverURL) {
		if c.Name == middleware.SessionCookieName {
			stolen = c
		}
	}
	if stolen == nil {
		t.Fatal("expected session cookie after login")
	}

	app.sessions.failReads.Store(true)
	assertRedirect(t, app.get(t, "/logout"), "/")
	app.sessions.failReads.Store(false)

	if n := app.sessions.Len(); n != 0 {
		t.Errorf("sessions after logout = %d, want 0", n)
	}

	// ログアウト前にコピーしたCookieでも保護ページに入れない
	req, err := http.NewRequest(http.MethodGet, app.server.URL+"/home", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: stolen.Name, Value: stolen.Value})
	resp, err := (&http.Client{CheckRedirect: app.client.CheckRedirect}).Do(req)
	if err != nil {
		t.Fatalf("GET /home: %v", err)
	}
	resp.Body.Close()
	assertRedirect(t, resp, "/")
}
