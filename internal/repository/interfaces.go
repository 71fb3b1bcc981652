// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/worklog/internal/model"
)

// SyncConfigStore はカレンダー同期設定の永続化インターフェース。
// 設定は単一の名前空間付きJSONブロブとして保存される。
// 読み書きはCalendarRegistryのみが行う。
type SyncConfigStore interface {
	// Load は永続化済みのSyncConfigを取得する。未保存の場合はnilを返す。
	Load(ctx context.Context) (*model.SyncConfig, error)

	// Save はSyncConfig全体を上書き保存する。
	Save(ctx context.Context, cfg *model.SyncConfig) error
}
