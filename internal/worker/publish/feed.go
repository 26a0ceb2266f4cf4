package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feed2notion/internal/model"
)

// EntrySource はフィードURLからエントリ一覧を取得するインターフェース。
type EntrySource interface {
	FetchEntries(ctx context.Context, feedURL string) ([]model.FeedEntry, error)
}

// EntryHandler は1件のエントリを処理するインターフェース。
type EntryHandler interface {
	Process(ctx context.Context, entry model.FeedEntry, fallbackDate string) bool
}

// FeedMetrics はフィード処理のメトリクス記録のインターフェース。
type FeedMetrics interface {
	RecordFeedFetched(entries int)
	RecordFeedFetchFailure()
}

// FeedProcessor は1つのフィードのエントリを取得し、エントリごとの処理を並列に実行する。
type FeedProcessor struct {
	source     EntrySource
	entries    EntryHandler
	metrics    FeedMetrics
	logger     *slog.Logger
	maxWorkers int
	now        func() time.Time
}

// NewFeedProcessor はFeedProcessorの新しいインスタンスを生成する。
// maxWorkersが0以下の場合はデフォルト値10を使用する。
func NewFeedProcessor(
	source EntrySource,
	entries EntryHandler,
	metrics FeedMetrics,
	logger *slog.Logger,
	maxWorkers int,
) *FeedProcessor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &FeedProcessor{
		source:     source,
		entries:    entries,
		metrics:    metrics,
		logger:     logger,
		maxWorkers: maxWorkers,
		now:        time.Now,
	}
}

// ProcessFeed はフィードを処理し、レコード作成に成功したエントリ数を返す。
func (p *FeedProcessor) ProcessFeed(ctx context.Context, feedURL string) int {
	return p.Process(ctx, feedURL).Succeeded
}

// Process はフィードを処理し、フィード単位の集計結果を返す。
// エントリ取得に失敗した場合はログを出力して0件として扱う。
// フォールバック日付はこのフィードの処理開始時に1回だけ決定し、全エントリで共有する。
func (p *FeedProcessor) Process(ctx context.Context, feedURL string) model.FeedResult {
	result := model.FeedResult{URL: feedURL}

	entries, err := p.source.FetchEntries(ctx, feedURL)
	if err != nil {
		p.logger.Error("フィードの取得に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		p.metrics.RecordFeedFetchFailure()
		return result
	}
	p.metrics.RecordFeedFetched(len(entries))

	if len(entries) == 0 {
		p.logger.Info("フィードにエントリがありません",
			slog.String("feed_url", feedURL),
		)
		return result
	}

	fallbackDate := p.now().Format(model.DateLayout)

	published := make([]bool, len(entries))
	runBounded(len(entries), p.maxWorkers, func(i int) {
		published[i] = p.processEntry(ctx, feedURL, entries[i], fallbackDate)
	})

	result.Entries = len(entries)
	for _, ok := range published {
		if ok {
			result.Succeeded++
		}
	}

	p.logger.Info("フィードの処理が完了しました",
		slog.String("feed_url", feedURL),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("entries", result.Entries),
	)
	return result
}

// processEntry はエントリ処理のpanicをこのエントリの失敗として隔離する。
func (p *FeedProcessor) processEntry(ctx context.Context, feedURL string, entry model.FeedEntry, fallbackDate string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("エントリの処理に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("title", entry.Title),
				slog.String("error", fmt.Sprint(r)),
			)
			ok = false
		}
	}()
	return p.entries.Process(ctx, entry, fallbackDate)
}
