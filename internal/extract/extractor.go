// Package extract は記事URLから本文テキストを抽出する。
// 抽出はベストエフォートであり、失敗時は空文字列を返してエントリ処理を止めない。
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/feed2notion/internal/security"
)

// Mode は本文抽出の方式を表す。
type Mode string

const (
	// ModeParagraphs はページ内の全p要素のテキストを文書順に連結する。
	ModeParagraphs Mode = "paragraphs"
	// ModeReadability はreadabilityで主要記事部分を特定してからp要素を連結する。
	ModeReadability Mode = "readability"
)

// ParseMode は文字列を抽出方式に変換する。未知の値はModeParagraphsとして扱う。
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeReadability)) {
		return ModeReadability
	}
	return ModeParagraphs
}

const (
	// DefaultTimeout は記事取得のタイムアウト。
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodySize は読み込む記事HTMLの最大サイズ（5MB）。
	DefaultMaxBodySize = 5 << 20
)

// 抽出失敗の理由。メトリクスのラベルに使用する。
const (
	ReasonBlocked = "blocked"
	ReasonNetwork = "network"
	ReasonStatus  = "status"
	ReasonRead    = "read"
	ReasonParse   = "parse"
)

// URLValidator は取得前のURL検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FailureRecorder は抽出失敗を記録するインターフェース。
type FailureRecorder interface {
	RecordExtractionFailure(reason string)
}

// Config はExtractorの設定。
type Config struct {
	Mode        Mode
	MaxBodySize int64
}

// Extractor は記事ページを取得し、HTMLをプレーンテキストの本文に変換する。
type Extractor struct {
	client    *http.Client
	validator URLValidator
	filter    *security.ParagraphFilter
	recorder  FailureRecorder
	logger    *slog.Logger
	config    Config
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
// clientのTimeoutが未設定の場合はDefaultTimeoutを設定したコピーを使用する。
func NewExtractor(
	client *http.Client,
	validator URLValidator,
	recorder FailureRecorder,
	logger *slog.Logger,
	config Config,
) *Extractor {
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		c := *client
		c.Timeout = DefaultTimeout
		client = &c
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Mode == "" {
		config.Mode = ModeParagraphs
	}
	return &Extractor{
		client:    client,
		validator: validator,
		filter:    security.NewParagraphFilter(),
		recorder:  recorder,
		logger:    logger,
		config:    config,
	}
}

// Extract は記事URLを取得して本文テキストを返す。
// ネットワーク障害、2xx以外のステータス、パース失敗などいずれの場合も
// ログと失敗メトリクスを記録して空文字列を返す。リトライはしない。
func (e *Extractor) Extract(ctx context.Context, rawURL string) (content string) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(rawURL, ReasonParse, fmt.Errorf("panic: %v", r))
			content = ""
		}
	}()

	if err := e.validator.ValidateURL(rawURL); err != nil {
		e.fail(rawURL, ReasonBlocked, err)
		return ""
	}

	page, err := e.fetch(ctx, rawURL)
	if err != nil {
		return ""
	}

	content, err = e.extractText(page, rawURL)
	if err != nil {
		e.fail(rawURL, ReasonParse, err)
		return ""
	}

	e.logger.Debug("記事本文を抽出しました",
		slog.String("url", rawURL),
		slog.Int("length", len([]rune(content))),
	)
	return content
}

// fetch は記事ページを取得し、UTF-8にデコードしたHTMLを返す。
// 失敗時は記録済みのエラーを返す。
func (e *Extractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		e.fail(rawURL, ReasonNetwork, err)
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.fail(rawURL, ReasonNetwork, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
		e.fail(rawURL, ReasonStatus, err)
		return nil, err
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, e.config.MaxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		e.fail(rawURL, ReasonRead, err)
		return nil, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		e.fail(rawURL, ReasonRead, err)
		return nil, err
	}
	return body, nil
}

// extractText は設定された方式でHTMLから本文を取り出す。
func (e *Extractor) extractText(page []byte, rawURL string) (string, error) {
	if e.config.Mode == ModeReadability {
		if text, ok := e.readabilityText(page, rawURL); ok {
			return text, nil
		}
	}
	return e.paragraphText(page)
}

// readabilityText はreadabilityで主要記事部分を特定し、その中のp要素を連結する。
// 主要部分を特定できない場合はfalseを返す。
func (e *Extractor) readabilityText(page []byte, rawURL string) (string, bool) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	article, err := readability.FromReader(bytes.NewReader(page), pageURL)
	if err != nil {
		e.logger.Debug("readabilityでの解析に失敗したため段落抽出に切り替えます",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return "", false
	}

	text, err := e.paragraphText([]byte(article.Content))
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

// paragraphText はp要素以外のマークアップを除去し、
// 全p要素のテキストを文書順に半角スペース1つで連結する。
func (e *Extractor) paragraphText(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(e.filter.Filter(page)))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	paragraphs := doc.Find("p")
	texts := make([]string, 0, paragraphs.Length())
	paragraphs.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	return strings.Join(texts, " "), nil
}

func (e *Extractor) fail(rawURL, reason string, err error) {
	e.logger.Error("記事本文の抽出に失敗しました",
		slog.String("url", rawURL),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	if e.recorder != nil {
		e.recorder.RecordExtractionFailure(reason)
	}
}
