// Package registry は連携済みカレンダーアカウントと同期設定の管理を提供する。
// SyncConfigの唯一の読み書き経路であり、すべての変更を内部ミューテックスで直列化する。
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/repository"
)

// AccountBundle はAuthorizationCoordinatorの成功結果として渡されるトークン束。
type AccountBundle struct {
	Provider     model.Provider
	DisplayName  string
	Email        string
	AccessToken  string
	RefreshToken string
	CalendarRef  string
}

// AccountPatch はUpdateAccountで適用する部分更新。nilのフィールドは変更しない。
type AccountPatch struct {
	DisplayName *string
	CalendarRef *string
	Enabled     *bool
}

// SettingsPatch はUpdateSettingsで適用する部分更新。nilのフィールドは変更しない。
type SettingsPatch struct {
	SyncIntervalMinutes *int
	AutoCreateEntries   *bool
	IncludeAllDayEvents *bool
	PastWindowDays      *int
	FutureWindowDays    *int
}

// Registry はCalendarRegistryの実装。
// SyncConfigをメモリに保持し、変更のたびにSyncConfigStoreへ保存する。
// 保存に失敗した場合はメモリ上の状態を変更前に戻す（永続化済み状態が正）。
type Registry struct {
	store  repository.SyncConfigStore
	logger *slog.Logger

	mu  sync.Mutex
	cfg *model.SyncConfig
}

// NewRegistry はRegistryを生成する。設定は最初のアクセス時に遅延読み込みされる。
func NewRegistry(store repository.SyncConfigStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

// ensureLoaded は設定をストアから読み込む。呼び出し側がmuを保持していること。
// 未保存の場合はデフォルト設定を使用する。
func (r *Registry) ensureLoaded(ctx context.Context) error {
	if r.cfg != nil {
		return nil
	}

	cfg, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = model.DefaultSyncConfig()
	}
	if cfg.Accounts == nil {
		cfg.Accounts = []model.CalendarAccount{}
	}

	r.cfg = cfg
	return nil
}

// AddAccount はトークン束から新しいアカウントを登録する。
// (provider, email)が既存アカウントと重複する場合はDUPLICATE_ACCOUNTで拒否する。
// 登録後はenabled=trueとなる（アカウントが存在する間は常に有効）。
func (r *Registry) AddAccount(ctx context.Context, bundle AccountBundle) (*model.CalendarAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	for _, acc := range r.cfg.Accounts {
		if acc.Provider == bundle.Provider && acc.Email == bundle.Email {
			return nil, model.NewDuplicateAccountError(bundle.Provider, bundle.Email)
		}
	}

	now := time.Now()
	account := model.CalendarAccount{
		ID:           uuid.New().String(),
		Provider:     bundle.Provider,
		DisplayName:  bundle.DisplayName,
		Email:        bundle.Email,
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		CalendarRef:  bundle.CalendarRef,
		Enabled:      true,
		LinkedAt:     now,
		UpdatedAt:    now,
	}

	snapshot := cloneConfig(r.cfg)
	r.cfg.Accounts = append(r.cfg.Accounts, account)
	r.cfg.Enabled = true

	if err := r.save(ctx, snapshot); err != nil {
		return nil, err
	}

	r.logger.Info("カレンダーアカウントを連携しました",
		slog.String("account_id", account.ID),
		slog.String("provider", string(account.Provider)),
		slog.String("email", account.Email),
	)

	stored := account
	return &stored, nil
}

// RemoveAccount は指定IDのアカウントを削除する。
// 最後のアカウントを削除した場合はenabled=falseになる。
func (r *Registry) RemoveAccount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}

	idx := -1
	for i, acc := range r.cfg.Accounts {
		if acc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.NewAccountNotFoundError(id)
	}

	snapshot := cloneConfig(r.cfg)
	removed := r.cfg.Accounts[idx]
	r.cfg.Accounts = append(r.cfg.Accounts[:idx], r.cfg.Accounts[idx+1:]...)
	r.cfg.Enabled = len(r.cfg.Accounts) > 0

	if err := r.save(ctx, snapshot); err != nil {
		return err
	}

	r.logger.Info("カレンダーアカウントの連携を解除しました",
		slog.String("account_id", removed.ID),
		slog.String("provider", string(removed.Provider)),
		slog.Bool("sync_enabled", r.cfg.Enabled),
	)

	return nil
}

// UpdateAccount は指定IDのアカウントに部分更新を適用し、UpdatedAtを更新する。
func (r *Registry) UpdateAccount(ctx context.Context, id string, patch AccountPatch) (*model.CalendarAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	idx := -1
	for i, acc := range r.cfg.Accounts {
		if acc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, model.NewAccountNotFoundError(id)
	}

	snapshot := cloneConfig(r.cfg)
	acc := &r.cfg.Accounts[idx]
	if patch.DisplayName != nil {
		acc.DisplayName = *patch.DisplayName
	}
	if patch.CalendarRef != nil {
		acc.CalendarRef = *patch.CalendarRef
	}
	if patch.Enabled != nil {
		acc.Enabled = *patch.Enabled
	}
	acc.UpdatedAt = time.Now()

	if err := r.save(ctx, snapshot); err != nil {
		return nil, err
	}

	updated := *acc
	return &updated, nil
}

// ListAccounts は全アカウントの防御的コピーを返す。
// 呼び出し側が返り値を変更してもレジストリの状態には影響しない。
func (r *Registry) ListAccounts(ctx context.Context) ([]model.CalendarAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	accounts := make([]model.CalendarAccount, len(r.cfg.Accounts))
	copy(accounts, r.cfg.Accounts)
	return accounts, nil
}

// GetConfig はSyncConfig全体の防御的コピーを返す。
func (r *Registry) GetConfig(ctx context.Context) (*model.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	return cloneConfig(r.cfg), nil
}

// UpdateSettings は同期設定に部分更新を適用する。
func (r *Registry) UpdateSettings(ctx context.Context, patch SettingsPatch) (*model.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	snapshot := cloneConfig(r.cfg)
	if patch.SyncIntervalMinutes != nil {
		r.cfg.SyncIntervalMinutes = *patch.SyncIntervalMinutes
	}
	if patch.AutoCreateEntries != nil {
		r.cfg.AutoCreateEntries = *patch.AutoCreateEntries
	}
	if patch.IncludeAllDayEvents != nil {
		r.cfg.IncludeAllDayEvents = *patch.IncludeAllDayEvents
	}
	if patch.PastWindowDays != nil {
		r.cfg.PastWindowDays = *patch.PastWindowDays
	}
	if patch.FutureWindowDays != nil {
		r.cfg.FutureWindowDays = *patch.FutureWindowDays
	}

	if err := r.save(ctx, snapshot); err != nil {
		return nil, err
	}

	return cloneConfig(r.cfg), nil
}

// SetLastSync は最終同期時刻を更新する。SyncSchedulerが呼ぶ唯一のミューテーター。
// 既存の値より過去の時刻は無視する（単調非減少の不変条件）。
func (r *Registry) SetLastSync(ctx context.Context, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}

	if r.cfg.LastSyncAt != nil && ts.Before(*r.cfg.LastSyncAt) {
		r.logger.Warn("過去の最終同期時刻を無視しました",
			slog.Time("ignored", ts),
			slog.Time("current", *r.cfg.LastSyncAt),
		)
		return nil
	}

	snapshot := cloneConfig(r.cfg)
	stamped := ts
	r.cfg.LastSyncAt = &stamped

	return r.save(ctx, snapshot)
}

// save は現在の設定を永続化する。失敗した場合はsnapshotへ巻き戻し、
// PERSISTENCE_FAILEDを返す。呼び出し側がmuを保持していること。
func (r *Registry) save(ctx context.Context, snapshot *model.SyncConfig) error {
	if err := r.store.Save(ctx, r.cfg); err != nil {
		r.cfg = snapshot
		r.logger.Error("同期設定の保存に失敗しました",
			slog.String("error", err.Error()),
		)
		return model.NewPersistenceError(err.Error())
	}
	return nil
}

// cloneConfig はSyncConfigのディープコピーを返す。
func cloneConfig(cfg *model.SyncConfig) *model.SyncConfig {
	clone := *cfg
	clone.Accounts = make([]model.CalendarAccount, len(cfg.Accounts))
	copy(clone.Accounts, cfg.Accounts)
	if cfg.LastSyncAt != nil {
		ts := *cfg.LastSyncAt
		clone.LastSyncAt = &ts
	}
	return &clone
}
