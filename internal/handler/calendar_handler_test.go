package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/registry"
)

// --- モック定義 ---

// mockRegistry はRegistryInterfaceのモック実装。
type mockRegistry struct {
	listAccountsFn   func(ctx context.Context) ([]model.CalendarAccount, error)
	removeAccountFn  func(ctx context.Context, id string) error
	updateAccountFn  func(ctx context.Context, id string, patch registry.AccountPatch) (*model.CalendarAccount, error)
	getConfigFn      func(ctx context.Context) (*model.SyncConfig, error)
	updateSettingsFn func(ctx context.Context, patch registry.SettingsPatch) (*model.SyncConfig, error)
}

func (m *mockRegistry) ListAccounts(ctx context.Context) ([]model.CalendarAccount, error) {
	if m.listAccountsFn != nil {
		return m.listAccountsFn(ctx)
	}
	return []model.CalendarAccount{}, nil
}

func (m *mockRegistry) RemoveAccount(ctx context.Context, id string) error {
	if m.removeAccountFn != nil {
		return m.removeAccountFn(ctx, id)
	}
	return nil
}

func (m *mockRegistry) UpdateAccount(ctx context.Context, id string, patch registry.AccountPatch) (*model.CalendarAccount, error) {
	if m.updateAccountFn != nil {
		return m.updateAccountFn(ctx, id, patch)
	}
	return &model.CalendarAccount{ID: id}, nil
}

func (m *mockRegistry) GetConfig(ctx context.Context) (*model.SyncConfig, error) {
	if m.getConfigFn != nil {
		return m.getConfigFn(ctx)
	}
	return model.DefaultSyncConfig(), nil
}

func (m *mockRegistry) UpdateSettings(ctx context.Context, patch registry.SettingsPatch) (*model.SyncConfig, error) {
	if m.updateSettingsFn != nil {
		return m.updateSettingsFn(ctx, patch)
	}
	return model.DefaultSyncConfig(), nil
}

// mockSyncService はSyncServiceInterfaceのモック実装。
type mockSyncService struct {
	syncAllFn     func(ctx context.Context) (*model.SyncResult, error)
	getUpcomingFn func(ctx context.Context, hours int) ([]model.CalendarEvent, error)
}

func (m *mockSyncService) SyncAll(ctx context.Context) (*model.SyncResult, error) {
	if m.syncAllFn != nil {
		return m.syncAllFn(ctx)
	}
	return &model.SyncResult{Events: []model.CalendarEvent{}, Failures: []model.SyncFailure{}}, nil
}

func (m *mockSyncService) GetUpcomingEvents(ctx context.Context, hours int) ([]model.CalendarEvent, error) {
	if m.getUpcomingFn != nil {
		return m.getUpcomingFn(ctx, hours)
	}
	return []model.CalendarEvent{}, nil
}

// --- テストヘルパー ---

func testHandlerLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// --- GET /api/calendar/accounts テスト ---

func TestCalendarHandler_ListAccounts(t *testing.T) {
	reg := &mockRegistry{
		listAccountsFn: func(ctx context.Context) ([]model.CalendarAccount, error) {
			return []model.CalendarAccount{
				{
					ID:          "acc-1",
					Provider:    model.ProviderGoogle,
					Email:       "user@example.com",
					AccessToken: "secret-token",
					Enabled:     true,
				},
			}, nil
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/accounts", nil)
	rec := httptest.NewRecorder()
	h.ListAccounts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var accounts []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&accounts); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("アカウント数 = %d, want 1", len(accounts))
	}
	if accounts[0]["email"] != "user@example.com" {
		t.Errorf("email = %v", accounts[0]["email"])
	}
	// トークンがレスポンスに漏れないこと
	if _, ok := accounts[0]["access_token"]; ok {
		t.Error("access_tokenがレスポンスに含まれてはならない")
	}
}

// --- DELETE /api/calendar/accounts/:id テスト ---

func TestCalendarHandler_RemoveAccount_Success(t *testing.T) {
	reg := &mockRegistry{
		removeAccountFn: func(ctx context.Context, id string) error {
			if id != "acc-1" {
				t.Errorf("id = %q, want acc-1", id)
			}
			return nil
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/calendar/accounts/acc-1", nil), "id", "acc-1")
	rec := httptest.NewRecorder()
	h.RemoveAccount(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestCalendarHandler_RemoveAccount_NotFound(t *testing.T) {
	reg := &mockRegistry{
		removeAccountFn: func(ctx context.Context, id string) error {
			return model.NewAccountNotFoundError(id)
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/calendar/accounts/nope", nil), "id", "nope")
	rec := httptest.NewRecorder()
	h.RemoveAccount(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if body := parseAPIErrorResponse(t, rec); body["code"] != model.ErrCodeAccountNotFound {
		t.Errorf("code = %q", body["code"])
	}
}

// --- PATCH /api/calendar/accounts/:id テスト ---

func TestCalendarHandler_UpdateAccount(t *testing.T) {
	reg := &mockRegistry{
		updateAccountFn: func(ctx context.Context, id string, patch registry.AccountPatch) (*model.CalendarAccount, error) {
			if patch.DisplayName == nil || *patch.DisplayName != "仕事用" {
				t.Errorf("DisplayName patch = %v", patch.DisplayName)
			}
			if patch.Enabled != nil {
				t.Error("Enabledは未指定のはず")
			}
			return &model.CalendarAccount{ID: id, DisplayName: *patch.DisplayName}, nil
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	body := bytes.NewBufferString(`{"display_name": "仕事用"}`)
	req := withChiURLParam(httptest.NewRequest(http.MethodPatch, "/api/calendar/accounts/acc-1", body), "id", "acc-1")
	rec := httptest.NewRecorder()
	h.UpdateAccount(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- POST /api/calendar/sync テスト ---

func TestCalendarHandler_Sync_Conflict(t *testing.T) {
	sync := &mockSyncService{
		syncAllFn: func(ctx context.Context) (*model.SyncResult, error) {
			return nil, model.NewSyncInProgressError()
		},
	}
	h := NewCalendarHandler(&mockRegistry{}, sync, testHandlerLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/calendar/sync", nil)
	rec := httptest.NewRecorder()
	h.Sync(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if body := parseAPIErrorResponse(t, rec); body["code"] != model.ErrCodeSyncInProgress {
		t.Errorf("code = %q", body["code"])
	}
}

func TestCalendarHandler_Sync_Success(t *testing.T) {
	sync := &mockSyncService{
		syncAllFn: func(ctx context.Context) (*model.SyncResult, error) {
			return &model.SyncResult{
				Events:          []model.CalendarEvent{{ID: "evt-1"}},
				Failures:        []model.SyncFailure{},
				SuccessfulCount: 2,
				FailedCount:     0,
				TotalCount:      2,
			}, nil
		},
	}
	h := NewCalendarHandler(&mockRegistry{}, sync, testHandlerLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/calendar/sync", nil)
	rec := httptest.NewRecorder()
	h.Sync(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result model.SyncResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.SuccessfulCount != 2 || len(result.Events) != 1 {
		t.Errorf("result = %+v", result)
	}
}

// --- GET /api/calendar/upcoming テスト ---

func TestCalendarHandler_Upcoming(t *testing.T) {
	sync := &mockSyncService{
		getUpcomingFn: func(ctx context.Context, hours int) ([]model.CalendarEvent, error) {
			if hours != 8 {
				t.Errorf("hours = %d, want 8", hours)
			}
			return []model.CalendarEvent{{ID: "evt-1"}}, nil
		},
	}
	h := NewCalendarHandler(&mockRegistry{}, sync, testHandlerLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/upcoming?hours=8", nil)
	rec := httptest.NewRecorder()
	h.Upcoming(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCalendarHandler_Upcoming_InvalidHours(t *testing.T) {
	h := NewCalendarHandler(&mockRegistry{}, &mockSyncService{}, testHandlerLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/upcoming?hours=zero", nil)
	rec := httptest.NewRecorder()
	h.Upcoming(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// --- GET /api/calendar/status テスト ---

func TestCalendarHandler_Status(t *testing.T) {
	lastSync := time.Now().Add(-10 * time.Minute)
	reg := &mockRegistry{
		getConfigFn: func(ctx context.Context) (*model.SyncConfig, error) {
			return &model.SyncConfig{
				Enabled:             true,
				Accounts:            []model.CalendarAccount{{ID: "acc-1"}},
				SyncIntervalMinutes: 30,
				LastSyncAt:          &lastSync,
			}, nil
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["status"] != "synced" {
		t.Errorf("status = %v, want synced", body["status"])
	}
	if body["account_count"] != float64(1) {
		t.Errorf("account_count = %v", body["account_count"])
	}
}

// --- PATCH /api/calendar/settings テスト ---

func TestCalendarHandler_UpdateSettings_InvalidInterval(t *testing.T) {
	h := NewCalendarHandler(&mockRegistry{}, &mockSyncService{}, testHandlerLogger())

	body := bytes.NewBufferString(`{"sync_interval_minutes": 0}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/calendar/settings", body)
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCalendarHandler_UpdateSettings(t *testing.T) {
	reg := &mockRegistry{
		updateSettingsFn: func(ctx context.Context, patch registry.SettingsPatch) (*model.SyncConfig, error) {
			if patch.SyncIntervalMinutes == nil || *patch.SyncIntervalMinutes != 15 {
				t.Errorf("SyncIntervalMinutes patch = %v", patch.SyncIntervalMinutes)
			}
			cfg := model.DefaultSyncConfig()
			cfg.SyncIntervalMinutes = 15
			return cfg, nil
		},
	}
	h := NewCalendarHandler(reg, &mockSyncService{}, testHandlerLogger())

	body := bytes.NewBufferString(`{"sync_interval_minutes": 15}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/calendar/settings", body)
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["sync_interval_minutes"] != float64(15) {
		t.Errorf("sync_interval_minutes = %v", resp["sync_interval_minutes"])
	}
}
