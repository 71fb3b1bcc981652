// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期スケジューラや認証コーディネーターから利用する。
type MetricsCollector interface {
	RecordSyncSuccess(provider string)
	RecordSyncFailure(provider string)
	RecordEventsFetched(provider string, count int)
	RecordSyncLatency(duration time.Duration)
	RecordAuthOutcome(provider string, outcome string)
	RecordEntriesCreated(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess    *prometheus.CounterVec
	syncFail       *prometheus.CounterVec
	eventsFetched  *prometheus.CounterVec
	syncLatency    prometheus.Histogram
	authOutcomes   *prometheus.CounterVec
	entriesCreated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worklog_calendar_sync_success_total",
			Help: "アカウント同期成功の合計数",
		}, []string{"provider"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worklog_calendar_sync_fail_total",
			Help: "アカウント同期失敗の合計数",
		}, []string{"provider"}),
		eventsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worklog_calendar_events_fetched_total",
			Help: "取得したカレンダーイベントの合計数",
		}, []string{"provider"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worklog_calendar_sync_latency_seconds",
			Help:    "同期サイクル全体のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worklog_calendar_auth_outcomes_total",
			Help: "認証フローの結果別の合計数",
		}, []string{"provider", "outcome"}),
		entriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worklog_calendar_entries_created_total",
			Help: "イベントから自動作成されたエントリの合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.eventsFetched,
		c.syncLatency,
		c.authOutcomes,
		c.entriesCreated,
	)

	return c
}

// RecordSyncSuccess はアカウント同期の成功を記録する。
func (c *Collector) RecordSyncSuccess(provider string) {
	c.syncSuccess.WithLabelValues(provider).Inc()
}

// RecordSyncFailure はアカウント同期の失敗を記録する。
func (c *Collector) RecordSyncFailure(provider string) {
	c.syncFail.WithLabelValues(provider).Inc()
}

// RecordEventsFetched は取得イベント数を記録する。
func (c *Collector) RecordEventsFetched(provider string, count int) {
	c.eventsFetched.WithLabelValues(provider).Add(float64(count))
}

// RecordSyncLatency は同期サイクルのレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordAuthOutcome は認証フローの結果（success, denied, timeout）を記録する。
func (c *Collector) RecordAuthOutcome(provider string, outcome string) {
	c.authOutcomes.WithLabelValues(provider, outcome).Inc()
}

// RecordEntriesCreated は自動作成されたエントリ数を記録する。
func (c *Collector) RecordEntriesCreated(count int) {
	c.entriesCreated.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
