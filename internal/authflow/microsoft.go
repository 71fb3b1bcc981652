package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/hitoshi/worklog/internal/model"
)

const defaultGraphMeURL = "https://graph.microsoft.com/v1.0/me"

// microsoftScopes はOutlookカレンダーの読み取りとプロフィール取得に必要なスコープ。
// offline_accessはリフレッシュトークンの発行に必要。
var microsoftScopes = []string{
	"offline_access",
	"User.Read",
	"Calendars.Read",
}

// MicrosoftProvider はMicrosoft identity platformによる認可コードフローを提供する。
// テナントは設定で固定する（既定は共通テナント）。
type MicrosoftProvider struct {
	config *oauth2.Config

	// テスト用にオーバーライド可能なURL
	graphMeURL string
	httpClient *http.Client
}

// NewMicrosoftProvider はMicrosoftProviderを生成する。
func NewMicrosoftProvider(clientID, clientSecret, tenant, redirectURL string) *MicrosoftProvider {
	if tenant == "" {
		tenant = "common"
	}
	return &MicrosoftProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       microsoftScopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		graphMeURL: defaultGraphMeURL,
		httpClient: http.DefaultClient,
	}
}

// Name はプロバイダー種別を返す。
func (p *MicrosoftProvider) Name() model.Provider {
	return model.ProviderMicrosoft
}

// Configured はクライアントIDが設定済みかどうかを返す。
func (p *MicrosoftProvider) Configured() bool {
	return p.config.ClientID != ""
}

// AuthCodeURL はMicrosoftの認可URLを生成する。
// コールバックはクエリパラメータで受け取る（response_mode=query）。
func (p *MicrosoftProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
}

// Exchange は認可コードをトークンに交換する。
func (p *MicrosoftProvider) Exchange(ctx context.Context, code string) (*TokenBundle, error) {
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

// graphUser はMicrosoft Graphの/meエンドポイントのレスポンス。
type graphUser struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// FetchProfile はMicrosoft Graphでユーザー情報を取得する。
// mailが空のアカウント（個人アカウント等）はuserPrincipalNameを使用する。
func (p *MicrosoftProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.graphMeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user graphUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	email := user.Mail
	if email == "" {
		email = user.UserPrincipalName
	}
	if email == "" {
		return nil, fmt.Errorf("empty email in profile response")
	}

	return &Profile{Email: email, Name: user.DisplayName}, nil
}

// compile-time interface check
var _ OAuthProvider = (*MicrosoftProvider)(nil)
