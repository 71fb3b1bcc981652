package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/worklog/internal/model"
)

// syncConfigNamespace は設定ブロブの名前空間キー。
const syncConfigNamespace = "calendar_sync"

// PostgresSyncConfigRepo はPostgreSQLを使用した同期設定リポジトリ。
// calendar_sync_settingsテーブルの1行にJSONブロブとして保存する。
type PostgresSyncConfigRepo struct {
	db *sql.DB
}

// NewPostgresSyncConfigRepo はPostgresSyncConfigRepoを生成する。
func NewPostgresSyncConfigRepo(db *sql.DB) *PostgresSyncConfigRepo {
	return &PostgresSyncConfigRepo{db: db}
}

// Load は永続化済みのSyncConfigを取得する。未保存の場合はnilを返す。
func (r *PostgresSyncConfigRepo) Load(ctx context.Context) (*model.SyncConfig, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT config FROM calendar_sync_settings WHERE namespace = $1`,
		syncConfigNamespace,
	).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync config: %w", err)
	}

	cfg := &model.SyncConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync config: %w", err)
	}

	return cfg, nil
}

// Save はSyncConfig全体を上書き保存する。
func (r *PostgresSyncConfigRepo) Save(ctx context.Context, cfg *model.SyncConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO calendar_sync_settings (namespace, config, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (namespace)
		 DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		syncConfigNamespace, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}

	return nil
}

// compile-time interface check
var _ SyncConfigStore = (*PostgresSyncConfigRepo)(nil)
