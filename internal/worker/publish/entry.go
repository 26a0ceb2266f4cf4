package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feed2notion/internal/model"
	"github.com/hitoshi/feed2notion/internal/security"
)

// PlaceholderBody は本文を抽出できなかった場合に使用する本文。
const PlaceholderBody = "No content extracted"

// スキップ理由。メトリクスのラベルに使用する。
const (
	skipReasonNoLink = "no_link"
	skipReasonPanic  = "panic"
)

// ContentExtractor は記事URLから本文テキストを抽出するインターフェース。
// 失敗時は空文字列を返す。
type ContentExtractor interface {
	Extract(ctx context.Context, url string) string
}

// RecordCreator は重複チェック付きでレコードを作成するインターフェース。
type RecordCreator interface {
	Create(ctx context.Context, rec model.PublishRecord) (string, bool)
}

// EntryMetrics はエントリ処理のメトリクス記録のインターフェース。
type EntryMetrics interface {
	RecordEntryResult(published bool)
	RecordEntrySkipped(reason string)
}

// EntryProcessor は1件のフィードエントリを1件のレコード作成に変換する。
type EntryProcessor struct {
	extractor ContentExtractor
	store     RecordCreator
	metrics   EntryMetrics
	logger    *slog.Logger
}

// NewEntryProcessor はEntryProcessorの新しいインスタンスを生成する。
func NewEntryProcessor(
	extractor ContentExtractor,
	store RecordCreator,
	metrics EntryMetrics,
	logger *slog.Logger,
) *EntryProcessor {
	return &EntryProcessor{
		extractor: extractor,
		store:     store,
		metrics:   metrics,
		logger:    logger,
	}
}

// Process はエントリの本文を抽出し、ストアにレコードを作成する。
// レコードが作成された場合にtrueを返す。
// リンクのないエントリはHTTP・ストアのいずれも呼び出さずにfalseを返す。
// 公開日時のないエントリにはfallbackDate（フィード処理開始時の日付）を使用する。
// 処理中のpanicは回収してfalseに変換し、呼び出し元には伝播させない。
func (p *EntryProcessor) Process(ctx context.Context, entry model.FeedEntry, fallbackDate string) (published bool) {
	title := entry.Title
	if title == "" {
		title = model.UntitledTitle
	}
	title = security.Clean(title)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("エントリの処理中に予期しないエラーが発生しました",
				slog.String("title", title),
				slog.String("link", entry.Link),
				slog.String("error", fmt.Sprint(r)),
			)
			p.metrics.RecordEntrySkipped(skipReasonPanic)
			published = false
		}
	}()

	if !entry.HasLink() {
		p.logger.Warn("リンクのないエントリをスキップします",
			slog.String("title", title),
		)
		p.metrics.RecordEntrySkipped(skipReasonNoLink)
		return false
	}

	body := p.extractor.Extract(ctx, entry.Link)
	if body == "" {
		p.logger.Warn("本文を抽出できなかったためプレースホルダーを使用します",
			slog.String("title", title),
			slog.String("link", entry.Link),
		)
		body = PlaceholderBody
	}

	rec := model.PublishRecord{
		Title: title,
		Link:  entry.Link,
		Body:  security.Clean(body),
		Date:  entry.ResolveDate(fallbackDate),
	}

	_, published = p.store.Create(ctx, rec)
	p.metrics.RecordEntryResult(published)
	return published
}
