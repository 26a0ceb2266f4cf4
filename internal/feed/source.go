// Package feed はRSS/Atomフィードの取得とエントリへの変換を提供する。
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feed2notion/internal/model"
)

// URLValidator はSSRF検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Source はフィードURLを取得してエントリ一覧に変換する。
type Source struct {
	client    *http.Client
	validator URLValidator
	logger    *slog.Logger
}

// NewSource はSourceの新しいインスタンスを生成する。
func NewSource(client *http.Client, validator URLValidator, logger *slog.Logger) *Source {
	return &Source{
		client:    client,
		validator: validator,
		logger:    logger,
	}
}

// FetchEntries はフィードを取得・パースしてエントリ一覧を返す。
// 取得またはパースに失敗した場合はエラーを返す。
func (s *Source) FetchEntries(ctx context.Context, feedURL string) ([]model.FeedEntry, error) {
	if err := s.validator.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	start := time.Now()

	// gofeed.Parserは並行利用を想定していないため呼び出しごとに生成する
	parser := gofeed.NewParser()
	parser.Client = s.client

	parsed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}

	entries := ConvertItems(parsed.Items)

	s.logger.Info("フィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.String("feed_title", parsed.Title),
		slog.Int("entries", len(entries)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return entries, nil
}

// ConvertItems はgofeedの記事をFeedEntryに変換する。
func ConvertItems(items []*gofeed.Item) []model.FeedEntry {
	entries := make([]model.FeedEntry, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		entry := model.FeedEntry{
			Title: item.Title,
			Link:  strings.TrimSpace(item.Link),
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if entry.Link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			entry.Link = item.GUID
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			entry.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			entry.PublishedAt = &t
		}

		entries = append(entries, entry)
	}

	return entries
}
