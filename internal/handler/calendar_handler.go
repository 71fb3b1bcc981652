package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/worklog/internal/calsync"
	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/registry"
)

// RegistryInterface はカレンダーハンドラーが必要とするレジストリ操作のインターフェース。
type RegistryInterface interface {
	ListAccounts(ctx context.Context) ([]model.CalendarAccount, error)
	RemoveAccount(ctx context.Context, id string) error
	UpdateAccount(ctx context.Context, id string, patch registry.AccountPatch) (*model.CalendarAccount, error)
	GetConfig(ctx context.Context) (*model.SyncConfig, error)
	UpdateSettings(ctx context.Context, patch registry.SettingsPatch) (*model.SyncConfig, error)
}

// SyncServiceInterface は同期操作のインターフェース。
type SyncServiceInterface interface {
	SyncAll(ctx context.Context) (*model.SyncResult, error)
	GetUpcomingEvents(ctx context.Context, hours int) ([]model.CalendarEvent, error)
}

// CalendarHandler はカレンダーアカウントと同期のHTTPハンドラー。
type CalendarHandler struct {
	registry RegistryInterface
	sync     SyncServiceInterface
	logger   *slog.Logger
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(reg RegistryInterface, sync SyncServiceInterface, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{
		registry: reg,
		sync:     sync,
		logger:   logger,
	}
}

// accountResponse はアカウント情報のAPIレスポンス。
// トークンは含めない。
type accountResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	CalendarRef string    `json:"calendar_ref"`
	Enabled     bool      `json:"enabled"`
	LinkedAt    time.Time `json:"linked_at"`
}

func toAccountResponse(acc model.CalendarAccount) accountResponse {
	return accountResponse{
		ID:          acc.ID,
		Provider:    string(acc.Provider),
		DisplayName: acc.DisplayName,
		Email:       acc.Email,
		CalendarRef: acc.CalendarRef,
		Enabled:     acc.Enabled,
		LinkedAt:    acc.LinkedAt,
	}
}

// settingsResponse は同期設定のAPIレスポンス。
type settingsResponse struct {
	Enabled             bool       `json:"enabled"`
	SyncIntervalMinutes int        `json:"sync_interval_minutes"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	AutoCreateEntries   bool       `json:"auto_create_entries"`
	IncludeAllDayEvents bool       `json:"include_all_day_events"`
	PastWindowDays      int        `json:"past_window_days"`
	FutureWindowDays    int        `json:"future_window_days"`
	AccountCount        int        `json:"account_count"`
}

func toSettingsResponse(cfg *model.SyncConfig) settingsResponse {
	return settingsResponse{
		Enabled:             cfg.Enabled,
		SyncIntervalMinutes: cfg.SyncIntervalMinutes,
		LastSyncAt:          cfg.LastSyncAt,
		AutoCreateEntries:   cfg.AutoCreateEntries,
		IncludeAllDayEvents: cfg.IncludeAllDayEvents,
		PastWindowDays:      cfg.PastWindowDays,
		FutureWindowDays:    cfg.FutureWindowDays,
		AccountCount:        len(cfg.Accounts),
	}
}

// ListAccounts は連携済みアカウントの一覧を返す。
// GET /api/calendar/accounts
func (h *CalendarHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.registry.ListAccounts(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, toAccountResponse(acc))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// updateAccountRequest はアカウント更新リクエストのボディ。
type updateAccountRequest struct {
	DisplayName *string `json:"display_name"`
	CalendarRef *string `json:"calendar_ref"`
	Enabled     *bool   `json:"enabled"`
}

// UpdateAccount はアカウントの表示名・カレンダー・有効状態を更新する。
// PATCH /api/calendar/accounts/:id
func (h *CalendarHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	account, err := h.registry.UpdateAccount(r.Context(), id, registry.AccountPatch{
		DisplayName: req.DisplayName,
		CalendarRef: req.CalendarRef,
		Enabled:     req.Enabled,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAccountResponse(*account))
}

// RemoveAccount は連携済みアカウントを削除する。
// DELETE /api/calendar/accounts/:id
func (h *CalendarHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.registry.RemoveAccount(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings は同期設定を返す。
// GET /api/calendar/settings
func (h *CalendarHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.GetConfig(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsResponse(cfg))
}

// updateSettingsRequest は同期設定更新リクエストのボディ。
type updateSettingsRequest struct {
	SyncIntervalMinutes *int  `json:"sync_interval_minutes"`
	AutoCreateEntries   *bool `json:"auto_create_entries"`
	IncludeAllDayEvents *bool `json:"include_all_day_events"`
	PastWindowDays      *int  `json:"past_window_days"`
	FutureWindowDays    *int  `json:"future_window_days"`
}

// UpdateSettings は同期設定を部分更新する。
// PATCH /api/calendar/settings
func (h *CalendarHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if req.SyncIntervalMinutes != nil && *req.SyncIntervalMinutes < 1 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "同期間隔は1分以上を指定してください。",
			Category: "validation",
			Action:   "sync_interval_minutesの値を確認してください。",
		})
		return
	}

	cfg, err := h.registry.UpdateSettings(r.Context(), registry.SettingsPatch{
		SyncIntervalMinutes: req.SyncIntervalMinutes,
		AutoCreateEntries:   req.AutoCreateEntries,
		IncludeAllDayEvents: req.IncludeAllDayEvents,
		PastWindowDays:      req.PastWindowDays,
		FutureWindowDays:    req.FutureWindowDays,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsResponse(cfg))
}

// Sync は全アカウントの同期を即時実行する。
// POST /api/calendar/sync
//
// 同期が既に進行中の場合は409を返す。
func (h *CalendarHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.SyncAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Upcoming は指定時間以内に開始するイベントを返す。
// GET /api/calendar/upcoming?hours=N（既定は24時間）
func (h *CalendarHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "hoursには1以上の整数を指定してください。",
				Category: "validation",
				Action:   "クエリパラメータを確認してください。",
			})
			return
		}
		hours = parsed
	}

	events, err := h.sync.GetUpcomingEvents(r.Context(), hours)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// statusResponse は同期状態のAPIレスポンス。
type statusResponse struct {
	Status       string     `json:"status"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	AccountCount int        `json:"account_count"`
}

// Status はUI表示用の同期状態を返す。
// GET /api/calendar/status
func (h *CalendarHandler) Status(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.GetConfig(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Status:       string(calsync.ResolveStatus(cfg, time.Now())),
		LastSyncAt:   cfg.LastSyncAt,
		AccountCount: len(cfg.Accounts),
	})
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// invalidRequestError はリクエストボディ解析失敗の共通エラー。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidProvider:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateAccount, model.ErrCodeSyncInProgress:
		return http.StatusConflict
	case model.ErrCodeAuthDenied:
		return http.StatusForbidden
	case model.ErrCodeAuthTimeout:
		return http.StatusRequestTimeout
	case model.ErrCodeCalendarConfigMissing:
		return http.StatusServiceUnavailable
	case model.ErrCodePersistenceFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
