// Package notion はNotion APIのデータベースをレコードストアとして利用するクライアントを提供する。
// API呼び出しはjomei/notionapiで行い、このパッケージはstore.Backendへの適合と
// リクエストレートの平滑化を担う。
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feed2notion/internal/model"
)

const (
	// DefaultBaseURL はNotion APIのエンドポイント。
	DefaultBaseURL = "https://api.notion.com"
	// DefaultVersion はNotion-Versionヘッダーの既定値。
	DefaultVersion = "2022-06-28"
	// DefaultRequestsPerSecond はNotion APIの平均リクエストレート上限。
	DefaultRequestsPerSecond = 3
	// defaultTimeout はAPI呼び出し1回あたりのタイムアウト。
	defaultTimeout = 60 * time.Second
)

// Properties はデータベースのプロパティ名の対応。
type Properties struct {
	Title string // タイトル型プロパティ（重複判定キー）
	URL   string // URL型プロパティ
	Date  string // 日付型プロパティ
}

// DefaultProperties は既定のプロパティ名を返す。
func DefaultProperties() Properties {
	return Properties{Title: "Name", URL: "URL", Date: "Date"}
}

// Config はClientの設定。
type Config struct {
	Token             string
	DatabaseID        string
	BaseURL           string
	Version           string
	RequestsPerSecond float64
	Properties        Properties
}

// APIError はNotion APIが返すエラーを表す。
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("notion API error (status %d, code %s): %s", e.Status, e.Code, e.Message)
}

// Client はNotion APIのクライアント。
// store.Backendを実装し、データベースの1ページを1レコードとして扱う。
// リクエストはトークンバケットで平滑化され、APIのレート上限を超えないよう待機する。
type Client struct {
	api     *notionapi.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	config  Config
}

// NewClient はClientの新しいインスタンスを生成する。
// 未設定の項目には既定値を使用する。httpClientは複製して使うため呼び出し元の設定は変わらない。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}
	defaults := DefaultProperties()
	if config.Properties.Title == "" {
		config.Properties.Title = defaults.Title
	}
	if config.Properties.URL == "" {
		config.Properties.URL = defaults.URL
	}
	if config.Properties.Date == "" {
		config.Properties.Date = defaults.Date
	}

	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	paced := *httpClient
	paced.Transport = &apiTransport{
		base:     base,
		limiter:  limiter,
		endpoint: endpointOverride(config.BaseURL, logger),
	}

	api := notionapi.NewClient(notionapi.Token(config.Token),
		notionapi.WithHTTPClient(&paced),
		notionapi.WithVersion(config.Version),
	)

	return &Client{
		api:     api,
		logger:  logger,
		limiter: limiter,
		config:  config,
	}
}

// TitleExists はタイトルが完全一致するページがデータベースに存在するかを返す。
// rich_textフィルタはタイトル型プロパティにも適用される。
func (c *Client) TitleExists(ctx context.Context, title string) (bool, error) {
	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(c.config.DatabaseID), &notionapi.DatabaseQueryRequest{
		Filter: &notionapi.PropertyFilter{
			Property: c.config.Properties.Title,
			RichText: &notionapi.TextFilterCondition{Equals: title},
		},
		PageSize: 1,
	})
	if err != nil {
		return false, fmt.Errorf("データベースの検索に失敗しました: %w", c.apiError(err))
	}
	return len(resp.Results) > 0, nil
}

// CreatePage はタイトル・URL・日付プロパティを持つページを作成し、ページIDを返す。
// rec.DateはYYYY-MM-DD形式であること。
func (c *Client) CreatePage(ctx context.Context, rec model.PublishRecord) (string, error) {
	day, err := time.Parse(model.DateLayout, rec.Date)
	if err != nil {
		return "", fmt.Errorf("日付の形式が不正です: %w", err)
	}
	start := notionapi.Date(day)

	props := c.config.Properties
	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.config.DatabaseID),
		},
		Properties: notionapi.Properties{
			props.Title: notionapi.TitleProperty{Title: richText(rec.Title)},
			props.URL:   notionapi.URLProperty{URL: rec.Link},
			props.Date:  notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ページの作成に失敗しました: %w", c.apiError(err))
	}
	return string(page.ID), nil
}

// AppendBlock はページの末尾に段落ブロックを1つ追加する。
func (c *Client) AppendBlock(ctx context.Context, recordID, text string) error {
	_, err := c.api.Block.AppendChildren(ctx, notionapi.BlockID(recordID), &notionapi.AppendBlockChildrenRequest{
		Children: []notionapi.Block{
			&notionapi.ParagraphBlock{
				BasicBlock: notionapi.BasicBlock{
					Object: notionapi.ObjectTypeBlock,
					Type:   notionapi.BlockTypeParagraph,
				},
				Paragraph: notionapi.Paragraph{RichText: richText(text)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ブロックの追加に失敗しました: %w", c.apiError(err))
	}
	return nil
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: content}}}
}

// apiError はnotionapiのエラーレスポンスを*APIErrorに変換する。
// それ以外のエラー（通信失敗、コンテキストのキャンセルなど）はそのまま返す。
func (c *Client) apiError(err error) error {
	var nErr *notionapi.Error
	if !errors.As(err, &nErr) {
		return err
	}

	apiErr := &APIError{Status: nErr.Status, Code: string(nErr.Code), Message: nErr.Message}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(apiErr.Status)
	}

	c.logger.Debug("Notion APIがエラーを返しました",
		slog.Int("http_status", apiErr.Status),
		slog.String("code", apiErr.Code),
	)
	return apiErr
}

// apiTransport はNotion APIへの各リクエストの前にレート制限を待機する。
// endpointが設定されている場合は送信先のスキームとホストを置き換える。
type apiTransport struct {
	base     http.RoundTripper
	limiter  *rate.Limiter
	endpoint *url.URL
}

func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("レート制限の待機が中断されました: %w", err)
	}

	if t.endpoint != nil {
		req = req.Clone(req.Context())
		req.URL.Scheme = t.endpoint.Scheme
		req.URL.Host = t.endpoint.Host
		req.Host = ""
	}
	return t.base.RoundTrip(req)
}

// endpointOverride はBaseURLが既定のエンドポイントと異なる場合にそのURLを返す。
// 解釈できないURLは警告を出して既定のエンドポイントを使う。
func endpointOverride(baseURL string, logger *slog.Logger) *url.URL {
	if baseURL == DefaultBaseURL {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		logger.Warn("NOTION_API_BASE_URLを解釈できないため既定のエンドポイントを使用します",
			slog.String("base_url", baseURL),
		)
		return nil
	}
	return u
}
