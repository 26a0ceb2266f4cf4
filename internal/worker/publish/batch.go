package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feed2notion/internal/feedlist"
	"github.com/hitoshi/feed2notion/internal/model"
)

// FeedHandler は1つのフィードを処理するインターフェース。
type FeedHandler interface {
	Process(ctx context.Context, feedURL string) model.FeedResult
}

// ListReader はフィード一覧ファイルを読み込む関数。
type ListReader func(path string) (feedlist.List, error)

// BatchRunner はフィード一覧を読み込み、フィードごとの処理を並列に実行して結果を集計する。
type BatchRunner struct {
	feeds      FeedHandler
	readList   ListReader
	logger     *slog.Logger
	maxWorkers int
}

// NewBatchRunner はBatchRunnerの新しいインスタンスを生成する。
// readListがnilの場合はfeedlist.Readを使用する。
// maxWorkersが0以下の場合はデフォルト値10を使用する。
func NewBatchRunner(feeds FeedHandler, readList ListReader, logger *slog.Logger, maxWorkers int) *BatchRunner {
	if readList == nil {
		readList = feedlist.Read
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &BatchRunner{
		feeds:      feeds,
		readList:   readList,
		logger:     logger,
		maxWorkers: maxWorkers,
	}
}

// Run はフィード一覧の全フィードを処理し、集計結果を返す。
// 一覧の読み込み失敗は0件として扱う。全フィードの処理が完了するまでブロックし、
// 途中で失敗しても打ち切らない。
func (b *BatchRunner) Run(ctx context.Context, feedListPath string) model.RunResult {
	urls := b.readURLs(feedListPath)
	if len(urls) == 0 {
		b.logger.Warn("フィードURLが見つかりません",
			slog.String("feed_list", feedListPath),
		)
		return model.RunResult{}
	}

	results := make([]model.FeedResult, len(urls))
	runBounded(len(urls), b.maxWorkers, func(i int) {
		results[i] = b.processFeed(ctx, urls[i])
	})

	var run model.RunResult
	for _, r := range results {
		run = run.Add(r)
	}

	b.logger.Info("全フィードの処理が完了しました",
		slog.Int("feeds_succeeded", run.FeedsSucceeded),
		slog.Int("feeds_attempted", run.FeedsAttempted),
		slog.Int("entries_succeeded", run.EntriesSucceeded),
		slog.Int("entries_attempted", run.EntriesAttempted),
	)
	return run
}

func (b *BatchRunner) readURLs(path string) []string {
	list, err := b.readList(path)
	if err != nil {
		b.logger.Error("フィード一覧の読み込みに失敗しました",
			slog.String("feed_list", path),
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, row := range list.Skipped {
		b.logger.Debug("フィード一覧の行をスキップしました",
			slog.String("feed_list", path),
			slog.Int("line", row.Line),
			slog.String("reason", row.Reason),
		)
	}
	b.logger.Info("フィード一覧を読み込みました",
		slog.String("feed_list", path),
		slog.Int("feed_count", len(list.URLs)),
		slog.Int("skipped_rows", len(list.Skipped)),
	)
	return list.URLs
}

// processFeed はフィード処理のpanicをこのフィードの失敗として隔離する。
func (b *BatchRunner) processFeed(ctx context.Context, feedURL string) (result model.FeedResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("フィードの処理に失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("error", fmt.Sprint(r)),
			)
			result = model.FeedResult{URL: feedURL}
		}
	}()
	return b.feeds.Process(ctx, feedURL)
}
