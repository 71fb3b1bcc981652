// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeCalendarConfigMissing = "CALENDAR_CONFIG_MISSING"
	ErrCodeAuthDenied            = "AUTH_DENIED"
	ErrCodeAuthTimeout           = "AUTH_TIMEOUT"
	ErrCodeDuplicateAccount      = "DUPLICATE_ACCOUNT"
	ErrCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrCodeSyncInProgress        = "SYNC_IN_PROGRESS"
	ErrCodeInvalidProvider       = "INVALID_PROVIDER"
	ErrCodePersistenceFailed     = "PERSISTENCE_FAILED"
)

// NewCalendarConfigMissingError はOAuthクライアントIDが未設定の場合のエラーを生成する。
// 認証ウィンドウを開く前に検出される致命的な設定エラー。
func NewCalendarConfigMissingError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeCalendarConfigMissing,
		Message:  fmt.Sprintf("%s のOAuthクライアントIDが設定されていません。", provider),
		Category: "system",
		Action:   "環境変数にクライアントIDとシークレットを設定してから再起動してください。",
	}
}

// NewAuthDeniedError はプロバイダーがエラーを返した場合のエラーを生成する。
func NewAuthDeniedError(provider Provider, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthDenied,
		Message:  fmt.Sprintf("%s の認証が拒否されました: %s", provider, reason),
		Category: "auth",
		Action:   "連携をやり直してください。同意画面で許可が必要です。",
	}
}

// NewAuthTimeoutError は認証フローが時間内に完了しなかった場合のエラーを生成する。
func NewAuthTimeoutError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeAuthTimeout,
		Message:  fmt.Sprintf("%s の認証がタイムアウトしました。", provider),
		Category: "auth",
		Action:   "ブラウザのウィンドウを閉じて、もう一度連携を開始してください。",
	}
}

// NewDuplicateAccountError は同一(provider, email)のアカウントが既に存在する場合のエラーを生成する。
func NewDuplicateAccountError(provider Provider, email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  fmt.Sprintf("このアカウントは既に連携されています: %s (%s)", email, provider),
		Category: "validation",
		Action:   "連携済みアカウントの一覧を確認してください。再連携は不要です。",
	}
}

// NewAccountNotFoundError は指定IDのアカウントが存在しない場合のエラーを生成する。
func NewAccountNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたカレンダーアカウントが見つかりません: %s", id),
		Category: "validation",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewSyncInProgressError は同期の多重実行を拒否する場合のエラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "カレンダー同期は既に実行中です。",
		Category: "calendar",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewInvalidProviderError はサポート外のプロバイダーが指定された場合のエラーを生成する。
func NewInvalidProviderError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("サポートされていないプロバイダーです: %s", name),
		Category: "validation",
		Action:   "google または microsoft を指定してください。",
	}
}

// NewPersistenceError は設定の保存に失敗した場合のエラーを生成する。
// 保存前の永続化済み状態が引き続き正となる。
func NewPersistenceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  fmt.Sprintf("カレンダー設定の保存に失敗しました: %s", reason),
		Category: "system",
		Action:   "データベース接続を確認して、もう一度お試しください。",
	}
}
