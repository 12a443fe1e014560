package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hitoshi/signon/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// maxUserInfoBodySize はユーザー情報レスポンスの読み込み上限。
	maxUserInfoBodySize = 1 << 20
)

// googleScopes は要求するスコープ。
var googleScopes = []string{"openid", "email", "profile"}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はトークン交換とユーザー情報取得に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードフローを提供する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       googleScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: config.UserInfoURL,
		client:      client,
	}
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// スコープにはopenid, email, profileを含み、リフレッシュトークンを得るため毎回同意画面を表示させる。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeToken は認可コードをアクセストークンに交換する。リトライはしない。
func (p *GoogleOAuthProvider) ExchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTokenExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", model.ErrTokenExchangeFailed)
	}

	return token, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイント(v2)のレスポンス。
type googleUserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得する。
// name, email, pictureが無い場合は空文字列になる。
func (p *GoogleOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create user info request: %w", model.ErrProfileFetchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: user info request failed: %w", model.ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user info response: %w", model.ErrProfileFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: user info fetch failed with status %d", model.ErrProfileFetchFailed, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse user info response: %w", model.ErrProfileFetchFailed, err)
	}

	if info.ID == "" {
		return nil, fmt.Errorf("%w: empty id in user info response", model.ErrProfileFetchFailed)
	}

	return &Profile{
		GoogleID:    info.ID,
		DisplayName: info.Name,
		Email:       info.Email,
		PhotoURL:    info.Picture,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
