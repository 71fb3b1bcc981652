// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はカレンダープロバイダーの種別を表す。
type Provider string

const (
	// ProviderGoogle はGoogleカレンダー。
	ProviderGoogle Provider = "google"
	// ProviderMicrosoft はMicrosoft 365（Outlook）カレンダー。
	ProviderMicrosoft Provider = "microsoft"
)

// IsValid はサポート対象のプロバイダーかどうかを返す。
func (p Provider) IsValid() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// CalendarAccount は連携済みカレンダーアカウントを表す。
// CalendarRegistryのみが生成・変更する。(provider, email)の組は一意。
type CalendarAccount struct {
	ID           string    `json:"id"`
	Provider     Provider  `json:"provider"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CalendarRef  string    `json:"calendar_ref"`
	Enabled      bool      `json:"enabled"`
	LinkedAt     time.Time `json:"linked_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncConfig はカレンダー同期の設定全体を表す。
// プロセス内に1インスタンスのみ存在し、永続化はCalendarRegistryを経由する。
// EnabledはAccountsが空でないことと常に一致する（レジストリが維持する不変条件）。
type SyncConfig struct {
	Enabled             bool              `json:"enabled"`
	Accounts            []CalendarAccount `json:"accounts"`
	SyncIntervalMinutes int               `json:"sync_interval_minutes"`
	LastSyncAt          *time.Time        `json:"last_sync_at"`
	AutoCreateEntries   bool              `json:"auto_create_entries"`
	IncludeAllDayEvents bool              `json:"include_all_day_events"`
	PastWindowDays      int               `json:"past_window_days"`
	FutureWindowDays    int               `json:"future_window_days"`
}

// DefaultSyncConfig は初期状態のSyncConfigを返す。
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled:             false,
		Accounts:            []CalendarAccount{},
		SyncIntervalMinutes: 30,
		LastSyncAt:          nil,
		AutoCreateEntries:   false,
		IncludeAllDayEvents: false,
		PastWindowDays:      1,
		FutureWindowDays:    7,
	}
}

// CalendarEvent はプロバイダーから取得した単一イベントを表す。
// 取得のたびに生成される一時データであり、このコアでは永続化しない。
type CalendarEvent struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Description       string    `json:"description"`
	Location          string    `json:"location"`
	Attendees         []string  `json:"attendees"`
	AllDay            bool      `json:"all_day"`
	SourceProvider    Provider  `json:"source_provider"`
	SourceAccountID   string    `json:"source_account_id"`
	SourceAccountName string    `json:"source_account_name"`
}

// SyncFailure は同期中に発生したアカウント単位の失敗を表す。
type SyncFailure struct {
	Provider  Provider `json:"provider"`
	AccountID string   `json:"account_id"`
	Message   string   `json:"message"`
}

// SyncResult は全アカウントのファンアウト同期の集約結果を表す。
// 一部のアカウントが失敗しても、成功したアカウントのイベントは含まれる。
type SyncResult struct {
	Events          []CalendarEvent `json:"events"`
	Failures        []SyncFailure   `json:"failures"`
	SuccessfulCount int             `json:"successful_count"`
	FailedCount     int             `json:"failed_count"`
	TotalCount      int             `json:"total_count"`
}

// SyncStatus はUI表示用の同期状態を表す。
type SyncStatus string

const (
	// SyncStatusDisabled は同期が無効（連携アカウントなし）の状態。
	SyncStatusDisabled SyncStatus = "disabled"
	// SyncStatusNeverSynced は有効だが一度も同期していない状態。
	SyncStatusNeverSynced SyncStatus = "never_synced"
	// SyncStatusSynced は直近の同期が十分新しい状態。
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusStale は直近の同期が設定間隔より古い状態。
	SyncStatusStale SyncStatus = "stale"
	// SyncStatusError は呼び出し側が明示した障害状態。
	// 経過時間からは導出されない（例: 前回のテストで全アカウントが失敗）。
	SyncStatusError SyncStatus = "error"
)
