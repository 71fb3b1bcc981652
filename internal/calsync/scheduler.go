package calsync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/worklog/internal/metrics"
	"github.com/hitoshi/worklog/internal/model"
)

// defaultMaxConcurrent はファンアウト同期の最大並列数。
const defaultMaxConcurrent = 4

// ConfigRegistry はスケジューラが必要とするレジストリ操作のインターフェース。
type ConfigRegistry interface {
	GetConfig(ctx context.Context) (*model.SyncConfig, error)
	SetLastSync(ctx context.Context, ts time.Time) error
}

// AccountFetcher は単一アカウントのイベント取得のインターフェース。
type AccountFetcher interface {
	FetchAccount(ctx context.Context, account model.CalendarAccount, start, end time.Time) ([]model.CalendarEvent, error)
}

// EntryCreator はエントリストアへの作成操作のインターフェース。
// 自動作成が有効な場合のみ使用される。
type EntryCreator interface {
	CreateEntry(ctx context.Context, draft model.EntryDraft) error
}

// Scheduler は全連携アカウントへのファンアウト同期を実行する。
// 同期はベストエフォートで、アカウント単位の失敗は他のアカウントに影響しない。
// 同時に実行できる同期サイクルはプロセス内で1つのみ。
type Scheduler struct {
	registry      ConfigRegistry
	fetcher       AccountFetcher
	converter     *EventConverter
	entries       EntryCreator // nilの場合は自動作成しない
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	maxConcurrent int

	syncing atomic.Bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrentが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	registry ConfigRegistry,
	fetcher AccountFetcher,
	converter *EventConverter,
	entries EntryCreator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrent int,
) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		registry:      registry,
		fetcher:       fetcher,
		converter:     converter,
		entries:       entries,
		metrics:       collector,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// SyncAll は全ての有効なアカウントのイベントを並列で取得し、結果を集約する。
//
// 同期サイクルが既に進行中の場合はSYNC_IN_PROGRESSで即座に失敗する。
// アカウント単位の失敗は失敗リストに記録され、成功したアカウントのイベントは
// 通常どおり返される。全アカウントが失敗した場合もLastSyncAtは更新される
// （試行時刻の記録であり、成功時刻ではない）。
func (s *Scheduler) SyncAll(ctx context.Context) (*model.SyncResult, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, model.NewSyncInProgressError()
	}
	defer s.syncing.Store(false)

	cycleStart := time.Now()

	cfg, err := s.registry.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		s.logger.Info("同期は無効です（連携アカウントなし）")
		return &model.SyncResult{Events: []model.CalendarEvent{}, Failures: []model.SyncFailure{}}, nil
	}

	enabled := make([]model.CalendarAccount, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		if acc.Enabled {
			enabled = append(enabled, acc)
		}
	}

	now := time.Now()
	windowStart := now.AddDate(0, 0, -cfg.PastWindowDays)
	windowEnd := now.AddDate(0, 0, cfg.FutureWindowDays)

	s.logger.Info("同期サイクルを開始します",
		slog.Int("account_count", len(enabled)),
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var events []model.CalendarEvent
	failures := []model.SyncFailure{}

	for _, account := range enabled {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(acc model.CalendarAccount) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			fetched, err := s.fetcher.FetchAccount(ctx, acc, windowStart, windowEnd)
			if err != nil {
				s.logger.Error("アカウントの同期に失敗しました",
					slog.String("provider", string(acc.Provider)),
					slog.String("account_id", acc.ID),
					slog.String("error", err.Error()),
				)
				s.metrics.RecordSyncFailure(string(acc.Provider))

				mu.Lock()
				failures = append(failures, model.SyncFailure{
					Provider:  acc.Provider,
					AccountID: acc.ID,
					Message:   err.Error(),
				})
				mu.Unlock()
				return
			}

			s.metrics.RecordSyncSuccess(string(acc.Provider))
			s.metrics.RecordEventsFetched(string(acc.Provider), len(fetched))

			mu.Lock()
			events = append(events, fetched...)
			mu.Unlock()
		}(account)
	}

	wg.Wait()

	if !cfg.IncludeAllDayEvents {
		events = filterAllDay(events)
	}

	// 全アカウントの結果が揃ってから1回だけソートする
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})

	if events == nil {
		events = []model.CalendarEvent{}
	}

	result := &model.SyncResult{
		Events:          events,
		Failures:        failures,
		SuccessfulCount: len(enabled) - len(failures),
		FailedCount:     len(failures),
		TotalCount:      len(enabled),
	}

	// 全アカウントが失敗した場合も試行時刻として記録する
	if err := s.registry.SetLastSync(ctx, now); err != nil {
		s.logger.Warn("同期時刻の記録に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	if cfg.AutoCreateEntries && s.entries != nil {
		s.createEntries(ctx, result.Events)
	}

	duration := time.Since(cycleStart)
	s.metrics.RecordSyncLatency(duration)
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("event_count", len(result.Events)),
		slog.Int("successful", result.SuccessfulCount),
		slog.Int("failed", result.FailedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}

// GetUpcomingEvents は同期を実行し、現在時刻から指定時間以内に開始する
// イベントのみを返す。区間は半開区間 [now, now+hours) として扱う。
func (s *Scheduler) GetUpcomingEvents(ctx context.Context, hours int) ([]model.CalendarEvent, error) {
	result, err := s.SyncAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	limit := now.Add(time.Duration(hours) * time.Hour)

	upcoming := []model.CalendarEvent{}
	for _, evt := range result.Events {
		if !evt.Start.Before(now) && evt.Start.Before(limit) {
			upcoming = append(upcoming, evt)
		}
	}

	return upcoming, nil
}

// createEntries はイベントごとにエントリ下書きを作成してストアへ渡す。
// 個別の失敗はログに記録し、同期全体は失敗させない。
func (s *Scheduler) createEntries(ctx context.Context, events []model.CalendarEvent) {
	created := 0
	for _, evt := range events {
		draft := s.converter.ToEntry(evt)
		if err := s.entries.CreateEntry(ctx, draft); err != nil {
			s.logger.Warn("エントリの自動作成に失敗しました",
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		created++
	}

	if created > 0 {
		s.metrics.RecordEntriesCreated(created)
	}
}

// filterAllDay は終日イベントを除外する。
func filterAllDay(events []model.CalendarEvent) []model.CalendarEvent {
	filtered := events[:0]
	for _, evt := range events {
		if !evt.AllDay {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}
