// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/worklog/internal/model"
)

// AuthCoordinatorInterface は認証ハンドラーが必要とするコーディネーター操作のインターフェース。
type AuthCoordinatorInterface interface {
	// InitiateDetached は認証フローを開始して認可URLを返す。完了は待たない。
	InitiateDetached(ctx context.Context, provider model.Provider) (string, error)
	// HandleCallback はOAuthリダイレクトを処理する。
	HandleCallback(ctx context.Context, provider model.Provider, code, state, errParam string) error
}

// AuthHandler はカレンダー連携の認証フローのHTTPハンドラー。
type AuthHandler struct {
	coordinator AuthCoordinatorInterface
	logger      *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(coordinator AuthCoordinatorInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// linkResponse は連携開始レスポンス。
type linkResponse struct {
	Provider string `json:"provider"`
	AuthURL  string `json:"auth_url"`
}

// Link はカレンダー連携の認証フローを開始する。
// POST /api/calendar/link/:provider
//
// 認可URLを返す。ユーザーがブラウザで認可を完了すると、コールバック経由で
// アカウントが登録される。このエンドポイントは完了を待たない。
func (h *AuthHandler) Link(w http.ResponseWriter, r *http.Request) {
	provider := model.Provider(chi.URLParam(r, "provider"))

	authURL, err := h.coordinator.InitiateDetached(r.Context(), provider)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(linkResponse{
		Provider: string(provider),
		AuthURL:  authURL,
	})
}

// callbackPageSuccess は認可完了後にブラウザへ表示するページ。
// ウィンドウはユーザーが手動で閉じる（閉鎖の検知は行わない）。
const callbackPageSuccess = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>カレンダー連携</title></head>
<body>
<p>カレンダーの連携が完了しました。このウィンドウを閉じてください。</p>
</body>
</html>`

// callbackPageError は認可失敗時にブラウザへ表示するページ。
const callbackPageError = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>カレンダー連携</title></head>
<body>
<p>カレンダーの連携に失敗しました。このウィンドウを閉じて、もう一度お試しください。</p>
</body>
</html>`

// Callback はプロバイダーからのOAuthリダイレクトを処理する。
// GET /auth/calendar/:provider/callback
//
// 結果はディスパッチャ経由で配信され、待機中のリスナーが処理する。
// ブラウザには完了ページを返すのみで、アカウント情報は含めない。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := model.Provider(chi.URLParam(r, "provider"))

	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	errParam := q.Get("error")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := h.coordinator.HandleCallback(r.Context(), provider, code, state, errParam); err != nil {
		h.logger.Warn("認証コールバックの処理に失敗しました",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(callbackPageError))
		return
	}

	if errParam != "" {
		// stateは正当だがユーザーが認可を拒否した場合
		w.Write([]byte(callbackPageError))
		return
	}

	w.Write([]byte(callbackPageSuccess))
}
