package authflow

import (
	"context"

	"github.com/hitoshi/worklog/internal/model"
)

// TokenBundle は認可コード交換で得られるトークン束。
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
}

// Profile はプロバイダー上のユーザー情報。
type Profile struct {
	Email string
	Name  string
}

// OAuthProvider はIdPごとの認可コードフローを抽象化する。
type OAuthProvider interface {
	// Name はプロバイダー種別を返す。
	Name() model.Provider

	// Configured はクライアントIDが設定済みかどうかを返す。
	// falseの場合、フローは認証ウィンドウを開く前に失敗する。
	Configured() bool

	// AuthCodeURL はユーザー同意を得るための認可URLを生成する。
	AuthCodeURL(state string) string

	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*TokenBundle, error)

	// FetchProfile はアクセストークンでユーザー情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}
