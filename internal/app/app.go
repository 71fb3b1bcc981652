// Package app はアプリケーションの初期化と各起動モードを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/hitoshi/worklog/internal/authflow"
	"github.com/hitoshi/worklog/internal/calsync"
	"github.com/hitoshi/worklog/internal/config"
	"github.com/hitoshi/worklog/internal/database"
	"github.com/hitoshi/worklog/internal/handler"
	"github.com/hitoshi/worklog/internal/logger"
	"github.com/hitoshi/worklog/internal/metrics"
	"github.com/hitoshi/worklog/internal/middleware"
	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/provider"
	"github.com/hitoshi/worklog/internal/registry"
	"github.com/hitoshi/worklog/internal/repository"
	"github.com/hitoshi/worklog/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, "info")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// core は各起動モードで共有する依存関係の束。
type core struct {
	db          *sql.DB
	registry    *registry.Registry
	dispatcher  *authflow.Dispatcher
	coordinator *authflow.Coordinator
	scheduler   *calsync.Scheduler
	collector   *metrics.Collector
	promReg     *prometheus.Registry
}

// buildCore はDB接続からスケジューラまでの依存関係をワイヤリングする。
func buildCore(cfg *config.Config) (*core, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. レジストリの初期化
	store := repository.NewPostgresSyncConfigRepo(db)
	reg := registry.NewRegistry(store, slog.Default())

	// 3. メトリクスの初期化
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// 4. 認証フローの初期化
	dispatcher := authflow.NewDispatcher(slog.Default())
	oauthProviders := []authflow.OAuthProvider{
		authflow.NewGoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL("google"),
		),
		authflow.NewMicrosoftProvider(
			cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenant,
			cfg.CallbackURL("microsoft"),
		),
	}
	coordinator := authflow.NewCoordinator(
		dispatcher, reg, oauthProviders, collector, slog.Default(),
		authflow.CoordinatorConfig{
			FlowTimeout: cfg.AuthFlowTimeout,
			OpenBrowser: cfg.OpenBrowser,
		},
	)

	// 5. プロバイダークライアントと同期スケジューラの初期化
	ssrfGuard := security.NewSSRFGuard()
	clients := []calsync.ProviderClient{
		provider.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret, slog.Default()),
		provider.NewMSGraphClient(
			cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenant,
			ssrfGuard.NewSafeClient(cfg.FetchTimeout), slog.Default(),
		),
	}
	fetcher := calsync.NewFetcher(clients, slog.Default(), cfg.FetchTimeout)
	converter := calsync.NewEventConverter(security.NewDescriptionSanitizer())
	scheduler := calsync.NewScheduler(
		reg, fetcher, converter, calsync.NewLoggingEntryCreator(slog.Default()),
		collector, slog.Default(), cfg.SyncMaxConcurrent,
	)

	return &core{
		db:          db,
		registry:    reg,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		scheduler:   scheduler,
		collector:   collector,
		promReg:     promReg,
	}, nil
}

// RunServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func RunServe(cfg *config.Config) error {
	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// コールバック完了時のアカウント登録を担うプロセス全体リスナー
	c.coordinator.StartGlobalListener(ctx)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rateLimitPerSecond(cfg.RateLimitGeneral),
		GeneralBurst:    cfg.RateLimitGeneral,
		SyncRate:        rateLimitPerSecond(cfg.RateLimitSync),
		SyncBurst:       cfg.RateLimitSync,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Coordinator:       c.coordinator,
		Registry:          c.registry,
		SyncService:       c.scheduler,
		DB:                c.db,
		Gatherer:          c.promReg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 同期は外部API呼び出しを含むため長めに取る
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// RunWorker はワーカーモードで起動する。
// cronスケジュールで定期的に全アカウントの同期を実行する。
// 同期間隔はレジストリの設定に従い、サイクルごとに読み直す。
func RunWorker(cfg *config.Config) error {
	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncCfg, err := c.registry.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}

	interval := syncCfg.SyncIntervalMinutes
	if interval < 1 {
		interval = 30
	}

	runSync := func() {
		result, err := c.scheduler.SyncAll(ctx)
		if err != nil {
			slog.Error("scheduled sync failed", slog.String("error", err.Error()))
			return
		}
		slog.Info("scheduled sync completed",
			slog.Int("events", len(result.Events)),
			slog.Int("failed", result.FailedCount),
		)
	}

	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %dm", interval), runSync); err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}

	slog.Info("worker starting",
		slog.Int("sync_interval_minutes", interval),
	)

	// 起動直後に1回実行
	runSync()

	cr.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker...")
	cancel()
	<-cr.Stop().Done()

	slog.Info("worker stopped gracefully")
	return nil
}

// RunMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func RunMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// RunLink は対話的にカレンダーアカウントを連携する。
// 認可URLを表示（設定によりブラウザも起動）し、コールバック受信用の
// 一時HTTPサーバーを立てて完了まで待機する。
func RunLink(cfg *config.Config, out io.Writer, providerName string) error {
	prov := model.Provider(providerName)
	if !prov.IsValid() {
		return model.NewInvalidProviderError(providerName)
	}

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// コールバック受信用の一時サーバー
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Coordinator:       c.coordinator,
		Registry:          c.registry,
		SyncService:       c.scheduler,
		DB:                c.db,
		Gatherer:          c.promReg,
	})
	server := &http.Server{Addr: ":" + cfg.ServerPort, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("callback server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	pending, err := c.coordinator.Initiate(ctx, prov)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "ブラウザで次のURLを開いて認可してください:\n%s\n", pending.AuthURL())

	account, err := pending.Wait(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "連携が完了しました: %s (%s)\n", account.Email, account.Provider)
	return nil
}

// RunHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func RunHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// rateLimitPerSecond はreq/min単位の設定値をrate.Limit（req/sec）に変換する。
func rateLimitPerSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
