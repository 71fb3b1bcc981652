package calsync

import (
	"time"

	"github.com/hitoshi/worklog/internal/model"
)

// minStaleThreshold は鮮度判定の下限。同期間隔を極端に短く設定しても
// UIが恒常的に「古い」と表示されることを防ぐ。
const minStaleThreshold = 5 * time.Minute

// ResolveStatus は設定と現在時刻からUI表示用の同期状態を導出する。
//
// 判定は次の順で行う。無効なら disabled、同期実績がなければ never_synced、
// 前回同期からの経過が閾値未満なら synced、それ以外は stale。
// 閾値は同期間隔と5分の大きい方。synced判定はstale判定より優先される。
func ResolveStatus(cfg *model.SyncConfig, now time.Time) model.SyncStatus {
	if cfg == nil || !cfg.Enabled {
		return model.SyncStatusDisabled
	}
	if cfg.LastSyncAt == nil {
		return model.SyncStatusNeverSynced
	}

	threshold := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	if threshold < minStaleThreshold {
		threshold = minStaleThreshold
	}

	if now.Sub(*cfg.LastSyncAt) < threshold {
		return model.SyncStatusSynced
	}
	return model.SyncStatusStale
}
