// Package calsync はカレンダーの同期処理を提供する。
// 全アカウントへのファンアウト取得、同期状態の判定、イベントからエントリへの変換を含む。
package calsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/worklog/internal/model"
)

// defaultFetchTimeout は1アカウントあたりの取得タイムアウト。
const defaultFetchTimeout = 30 * time.Second

// ProviderClient はプロバイダーごとのイベント取得クライアントのインターフェース。
type ProviderClient interface {
	// Provider はこのクライアントが担当するプロバイダー種別を返す。
	Provider() model.Provider
	// ListEvents は指定期間のイベントを取得する。
	ListEvents(ctx context.Context, account model.CalendarAccount, start, end time.Time) ([]model.CalendarEvent, error)
}

// Fetcher は単一アカウントのイベント取得を実行する。
// プロバイダー種別に応じたクライアントへ振り分け、取得したイベントに
// 取得元アカウントの情報を付与する。
type Fetcher struct {
	clients      map[model.Provider]ProviderClient
	logger       *slog.Logger
	fetchTimeout time.Duration
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// fetchTimeoutが0以下の場合はデフォルト値30秒を使用する。
func NewFetcher(clients []ProviderClient, logger *slog.Logger, fetchTimeout time.Duration) *Fetcher {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	clientMap := make(map[model.Provider]ProviderClient, len(clients))
	for _, c := range clients {
		clientMap[c.Provider()] = c
	}

	return &Fetcher{
		clients:      clientMap,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}
}

// FetchAccount は1アカウント分のイベントを取得する。
// 取得タイムアウトを適用し、各イベントに取得元情報を付与して返す。
func (f *Fetcher) FetchAccount(ctx context.Context, account model.CalendarAccount, start, end time.Time) ([]model.CalendarEvent, error) {
	client, ok := f.clients[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no client for provider: %s", account.Provider)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	events, err := client.ListEvents(fetchCtx, account, start, end)
	if err != nil {
		return nil, err
	}

	for i := range events {
		events[i].SourceProvider = account.Provider
		events[i].SourceAccountID = account.ID
		events[i].SourceAccountName = account.DisplayName
	}

	f.logger.Info("アカウントのイベントを取得しました",
		slog.String("provider", string(account.Provider)),
		slog.String("account_id", account.ID),
		slog.Int("event_count", len(events)),
	)

	return events, nil
}
