package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/worklog/internal/model"
)

const defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// googleScopes はGoogleカレンダーの読み取りとプロフィール取得に必要なスコープ。
var googleScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"openid",
	"email",
	"profile",
}

// GoogleProvider はGoogle OAuth 2.0による認可コードフローを提供する。
type GoogleProvider struct {
	config *oauth2.Config

	// テスト用にオーバーライド可能なURL
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       googleScopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: defaultGoogleUserInfoURL,
		httpClient:  http.DefaultClient,
	}
}

// Name はプロバイダー種別を返す。
func (p *GoogleProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// Configured はクライアントIDが設定済みかどうかを返す。
func (p *GoogleProvider) Configured() bool {
	return p.config.ClientID != ""
}

// AuthCodeURL はGoogle OAuthの認可URLを生成する。
// リフレッシュトークンを得るためにオフラインアクセスと明示的な同意を要求する。
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange は認可コードをトークンに交換する。
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*TokenBundle, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if info.Email == "" {
		return nil, fmt.Errorf("empty email in user info response")
	}

	return &Profile{Email: info.Email, Name: info.Name}, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleProvider)(nil)
