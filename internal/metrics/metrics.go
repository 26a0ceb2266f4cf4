// Package metrics はPrometheusメトリクスの収集とPushgatewayへの送信を提供する。
// バッチジョブはスクレイプされる前に終了するため、実行終了時にpushする。
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/hitoshi/feed2notion/internal/model"
)

// JobName はPushgatewayに送信する際のジョブ名。
const JobName = "feed2notion"

// MetricsCollector はメトリクス収集のインターフェース。
// 抽出器、レコードストア、パブリッシュワーカーから利用する。
type MetricsCollector interface {
	RecordFeedFetched(entries int)
	RecordFeedFetchFailure()
	RecordEntryResult(published bool)
	RecordEntrySkipped(reason string)
	RecordDuplicate()
	RecordExtractionFailure(reason string)
	RecordChunkAppendFailure()
	RecordStoreLatency(operation string, duration time.Duration)
	RecordRun(result model.RunResult, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gatherer prometheus.Gatherer

	feedsFetched       prometheus.Counter
	feedFetchFail      prometheus.Counter
	feedEntries        prometheus.Histogram
	entriesProcessed   *prometheus.CounterVec
	entriesSkipped     *prometheus.CounterVec
	duplicates         prometheus.Counter
	extractionFail     *prometheus.CounterVec
	chunkAppendFail    prometheus.Counter
	storeLatency       *prometheus.HistogramVec
	lastRunFeeds       *prometheus.GaugeVec
	lastRunEntries     *prometheus.GaugeVec
	lastRunDuration    prometheus.Gauge
	lastRunCompletedAt prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		gatherer: reg,
		feedsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed2notion_feeds_fetched_total",
			Help: "エントリ一覧の取得に成功したフィード数",
		}),
		feedFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed2notion_feed_fetch_fail_total",
			Help: "取得またはパースに失敗したフィード数",
		}),
		feedEntries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed2notion_feed_entries",
			Help:    "取得に成功したフィード1件あたりのエントリ数",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 200},
		}),
		entriesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed2notion_entries_processed_total",
			Help: "処理したエントリ数（result=published|not_published）",
		}, []string{"result"}),
		entriesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed2notion_entries_skipped_total",
			Help: "ストアに到達する前にスキップしたエントリ数",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed2notion_duplicates_total",
			Help: "タイトル重複により作成しなかったレコード数",
		}),
		extractionFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed2notion_extraction_fail_total",
			Help: "記事本文の抽出失敗数",
		}, []string{"reason"}),
		chunkAppendFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed2notion_chunk_append_fail_total",
			Help: "本文チャンクの追記失敗数",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feed2notion_store_latency_seconds",
			Help:    "ドキュメントストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		lastRunFeeds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feed2notion_last_run_feeds",
			Help: "直近の実行で処理したフィード数（state=attempted|succeeded）",
		}, []string{"state"}),
		lastRunEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feed2notion_last_run_entries",
			Help: "直近の実行で処理したエントリ数（state=attempted|succeeded）",
		}, []string{"state"}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed2notion_last_run_duration_seconds",
			Help: "直近の実行の所要時間（秒）",
		}),
		lastRunCompletedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed2notion_last_run_completed_timestamp_seconds",
			Help: "直近の実行が完了したUNIX時刻",
		}),
	}

	reg.MustRegister(
		c.feedsFetched,
		c.feedFetchFail,
		c.feedEntries,
		c.entriesProcessed,
		c.entriesSkipped,
		c.duplicates,
		c.extractionFail,
		c.chunkAppendFail,
		c.storeLatency,
		c.lastRunFeeds,
		c.lastRunEntries,
		c.lastRunDuration,
		c.lastRunCompletedAt,
	)

	return c
}

// RecordFeedFetched はフィード取得成功とそのエントリ数を記録する。
func (c *Collector) RecordFeedFetched(entries int) {
	c.feedsFetched.Inc()
	c.feedEntries.Observe(float64(entries))
}

// RecordFeedFetchFailure はフィード取得失敗を記録する。
func (c *Collector) RecordFeedFetchFailure() {
	c.feedFetchFail.Inc()
}

// RecordEntryResult はエントリ処理の結果を記録する。
func (c *Collector) RecordEntryResult(published bool) {
	result := "not_published"
	if published {
		result = "published"
	}
	c.entriesProcessed.WithLabelValues(result).Inc()
}

// RecordEntrySkipped はスキップしたエントリを理由別に記録する。
func (c *Collector) RecordEntrySkipped(reason string) {
	c.entriesSkipped.WithLabelValues(reason).Inc()
}

// RecordDuplicate は重複検出を記録する。
func (c *Collector) RecordDuplicate() {
	c.duplicates.Inc()
}

// RecordExtractionFailure は本文抽出の失敗を理由別に記録する。
func (c *Collector) RecordExtractionFailure(reason string) {
	c.extractionFail.WithLabelValues(reason).Inc()
}

// RecordChunkAppendFailure はチャンク追記の失敗を記録する。
func (c *Collector) RecordChunkAppendFailure() {
	c.chunkAppendFail.Inc()
}

// RecordStoreLatency はストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(operation string, duration time.Duration) {
	c.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRun はバッチ実行全体の集計値をゲージに反映する。
func (c *Collector) RecordRun(result model.RunResult, duration time.Duration) {
	c.lastRunFeeds.WithLabelValues("attempted").Set(float64(result.FeedsAttempted))
	c.lastRunFeeds.WithLabelValues("succeeded").Set(float64(result.FeedsSucceeded))
	c.lastRunEntries.WithLabelValues("attempted").Set(float64(result.EntriesAttempted))
	c.lastRunEntries.WithLabelValues("succeeded").Set(float64(result.EntriesSucceeded))
	c.lastRunDuration.Set(duration.Seconds())
	c.lastRunCompletedAt.SetToCurrentTime()
}

// Push は収集したメトリクスをPushgatewayに送信する。
// 同じジョブ名のメトリクスは置き換えられる。
func (c *Collector) Push(ctx context.Context, gatewayURL string) error {
	if err := push.New(gatewayURL, JobName).Gatherer(c.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
