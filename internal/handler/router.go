package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/worklog/internal/metrics"
	"github.com/hitoshi/worklog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// カレンダー連携
	Coordinator AuthCoordinatorInterface
	Registry    RegistryInterface
	SyncService SyncServiceInterface

	// ヘルスチェック用DB接続
	DB *sql.DB

	// メトリクス公開
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → LoggingMiddleware → RecoveryMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// OAuthコールバック・ヘルスチェック・メトリクスはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.Coordinator, deps.Logger)
	calHandler := NewCalendarHandler(deps.Registry, deps.SyncService, deps.Logger)

	// --- レート制限の外のルート ---

	// OAuthコールバック（プロバイダーからのリダイレクト先）
	r.Get("/auth/calendar/{provider}/callback", authHandler.Callback)

	// ヘルスチェック
	r.Get("/healthz", healthHandler(deps.DB))

	// Prometheusメトリクス
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/calendar", func(r chi.Router) {
			// POST /api/calendar/link/{provider} - 連携開始
			r.Post("/link/{provider}", authHandler.Link)

			// アカウント管理
			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", calHandler.ListAccounts)
				r.Route("/{id}", func(r chi.Router) {
					r.Patch("/", calHandler.UpdateAccount)
					r.Delete("/", calHandler.RemoveAccount)
				})
			})

			// 同期設定
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", calHandler.GetSettings)
				r.Patch("/", calHandler.UpdateSettings)
			})

			// POST /api/calendar/sync - 即時同期（同期専用レート制限を追加）
			r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync", calHandler.Sync)

			r.Get("/upcoming", calHandler.Upcoming)
			r.Get("/status", calHandler.Status)
		})
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
