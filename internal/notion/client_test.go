package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/feed2notion/internal/model"
	"github.com/hitoshi/feed2notion/internal/store"
)

// fakeNotion はテスト用のNotion APIサーバー。ページと追加されたブロックをメモリ上に保持する。
type fakeNotion struct {
	t          *testing.T
	databaseID string
	token      string

	mu       sync.Mutex
	pages    map[string]map[string]any // page ID -> properties
	titles   map[string]string         // title -> page ID
	blocks   map[string][]string       // page ID -> block texts
	versions []string
	failWith int // 0以外の場合、全リクエストにこのステータスを返す
}

func newFakeNotion(t *testing.T) (*fakeNotion, *httptest.Server) {
	t.Helper()
	f := &fakeNotion{
		t:          t,
		databaseID: "db-123",
		token:      "secret_test",
		pages:      map[string]map[string]any{},
		titles:     map[string]string{},
		blocks:     map[string][]string{},
	}

	r := chi.NewRouter()
	r.Use(f.authenticate)
	r.Post("/v1/databases/{databaseID}/query", f.query)
	r.Post("/v1/pages", f.createPage)
	r.Patch("/v1/blocks/{blockID}/children", f.appendChildren)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeNotion) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.versions = append(f.versions, r.Header.Get("Notion-Version"))
		failWith := f.failWith
		f.mu.Unlock()

		if failWith != 0 {
			writeError(w, failWith, "internal_server_error", "simulated failure")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			writeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeNotion) query(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "databaseID") != f.databaseID {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find database")
		return
	}
	var req struct {
		Filter struct {
			Property string `json:"property"`
			RichText struct {
				Equals string `json:"equals"`
			} `json:"rich_text"`
		} `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	f.mu.Lock()
	id, ok := f.titles[req.Filter.RichText.Equals]
	f.mu.Unlock()

	results := []map[string]string{}
	if ok {
		results = append(results, map[string]string{"object": "page", "id": id})
	}
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "results": results, "has_more": false})
}

func (f *fakeNotion) createPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parent struct {
			DatabaseID string `json:"database_id"`
		} `json:"parent"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Parent.DatabaseID != f.databaseID {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find database")
		return
	}

	title := extractTitle(req.Properties["Name"])

	f.mu.Lock()
	id := fmt.Sprintf("page-%d", len(f.pages)+1)
	f.pages[id] = req.Properties
	f.titles[title] = id
	f.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{"object": "page", "id": id})
}

func (f *fakeNotion) appendChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "blockID")
	var req struct {
		Children []struct {
			Type      string `json:"type"`
			Paragraph struct {
				RichText []struct {
					Text struct {
						Content string `json:"content"`
					} `json:"text"`
				} `json:"rich_text"`
			} `json:"paragraph"`
		} `json:"children"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pages[id]; !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find block")
		return
	}
	for _, child := range req.Children {
		for _, rt := range child.Paragraph.RichText {
			if len([]rune(rt.Text.Content)) > 2000 {
				writeError(w, http.StatusBadRequest, "validation_error", "content length should be ≤ 2000")
				return
			}
			f.blocks[id] = append(f.blocks[id], rt.Text.Content)
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "results": []any{}})
}

func extractTitle(prop any) string {
	m, _ := prop.(map[string]any)
	items, _ := m["title"].([]any)
	if len(items) == 0 {
		return ""
	}
	item, _ := items[0].(map[string]any)
	text, _ := item["text"].(map[string]any)
	content, _ := text["content"].(string)
	return content
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"object": "error", "status": status, "code": code, "message": message,
	})
}

func newTestClient(f *fakeNotion, server *httptest.Server) *Client {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewClient(server.Client(), logger, Config{
		Token:             f.token,
		DatabaseID:        f.databaseID,
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
	})
}

func TestClient_ImplementsBackend(t *testing.T) {
	var _ store.Backend = (*Client)(nil)
}

func TestNewClient_AppliesDefaults(t *testing.T) {
	c := NewClient(nil, slog.Default(), Config{Token: "t", DatabaseID: "d"})

	require.Equal(t, DefaultBaseURL, c.config.BaseURL)
	require.Equal(t, DefaultVersion, c.config.Version)
	require.Equal(t, DefaultProperties(), c.config.Properties)
	require.InDelta(t, DefaultRequestsPerSecond, float64(c.limiter.Limit()), 0.001)
}

func TestClient_CreatePageThenTitleExists(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)
	ctx := context.Background()

	exists, err := c.TitleExists(ctx, "新しい記事")
	require.NoError(t, err)
	require.False(t, exists)

	id, err := c.CreatePage(ctx, model.PublishRecord{
		Title: "新しい記事",
		Link:  "https://example.com/new",
		Date:  "2025-01-02",
	})
	require.NoError(t, err)
	require.Equal(t, "page-1", id)

	exists, err = c.TitleExists(ctx, "新しい記事")
	require.NoError(t, err)
	require.True(t, exists)

	props := f.pages[id]
	require.Equal(t, "https://example.com/new", props["URL"].(map[string]any)["url"])
	date := props["Date"].(map[string]any)["date"].(map[string]any)
	require.True(t, strings.HasPrefix(date["start"].(string), "2025-01-02"), "start = %v", date["start"])

	for _, v := range f.versions {
		require.Equal(t, DefaultVersion, v)
	}
}

func TestClient_AppendBlock(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)
	ctx := context.Background()

	id, err := c.CreatePage(ctx, model.PublishRecord{Title: "t", Link: "https://example.com", Date: "2025-01-01"})
	require.NoError(t, err)

	require.NoError(t, c.AppendBlock(ctx, id, "first"))
	require.NoError(t, c.AppendBlock(ctx, id, "second"))

	require.Equal(t, []string{"first", "second"}, f.blocks[id])
}

func TestClient_APIErrorIsDecoded(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)

	err := c.AppendBlock(context.Background(), "missing-page", "text")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "object_not_found", apiErr.Code)
}

func TestClient_InvalidToken(t *testing.T) {
	f, server := newFakeNotion(t)
	c := NewClient(server.Client(), slog.Default(), Config{
		Token:             "wrong",
		DatabaseID:        f.databaseID,
		BaseURL:           server.URL,
		RequestsPerSecond: 1000,
	})

	_, err := c.TitleExists(context.Background(), "any")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_ServerError(t *testing.T) {
	f, server := newFakeNotion(t)
	f.failWith = http.StatusBadGateway
	c := newTestClient(f, server)

	_, err := c.CreatePage(context.Background(), model.PublishRecord{Title: "t", Date: "2025-01-01"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestClient_CreatePage_InvalidDateMakesNoRequest(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)

	_, err := c.CreatePage(context.Background(), model.PublishRecord{Title: "t", Date: "2025/01/01"})
	require.Error(t, err)
	require.Empty(t, f.versions)
}

func TestClient_CustomVersionHeader(t *testing.T) {
	f, server := newFakeNotion(t)
	c := NewClient(server.Client(), slog.Default(), Config{
		Token:             f.token,
		DatabaseID:        f.databaseID,
		BaseURL:           server.URL,
		Version:           "2025-09-03",
		RequestsPerSecond: 1000,
	})

	_, err := c.TitleExists(context.Background(), "any")
	require.NoError(t, err)
	require.Equal(t, []string{"2025-09-03"}, f.versions)
}

// TestClient_RateLimiterPacesRequests はトークンバケットにより連続呼び出しが待たされることを検証する。
func TestClient_RateLimiterPacesRequests(t *testing.T) {
	f, server := newFakeNotion(t)
	c := NewClient(server.Client(), slog.Default(), Config{
		Token:             f.token,
		DatabaseID:        f.databaseID,
		BaseURL:           server.URL,
		RequestsPerSecond: 10,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.TitleExists(context.Background(), "any")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestNewClient_DoesNotMutateSharedHTTPClient(t *testing.T) {
	shared := &http.Client{Timeout: time.Second}
	_ = NewClient(shared, slog.Default(), Config{Token: "t", DatabaseID: "d"})
	require.Nil(t, shared.Transport)
}

func TestClient_CanceledContext(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.TitleExists(ctx, "any")
	require.Error(t, err)
}

// TestRecordStore_WithNotionBackend はRecordStoreとNotionクライアントを組み合わせ、
// 重複作成の防止とチャンク追記を検証する。
func TestRecordStore_WithNotionBackend(t *testing.T) {
	f, server := newFakeNotion(t)
	c := newTestClient(f, server)

	var buf bytes.Buffer
	s := store.NewRecordStore(c, nopMetrics{}, slog.New(slog.NewJSONHandler(&buf, nil)), store.Config{})
	ctx := context.Background()

	body := make([]rune, 4500)
	for i := range body {
		body[i] = 'あ'
	}
	rec := model.PublishRecord{Title: "長い記事", Link: "https://example.com/long", Body: string(body), Date: "2025-03-04"}

	id, ok := s.Create(ctx, rec)
	require.True(t, ok)
	require.Len(t, f.blocks[id], 3)
	require.Len(t, []rune(f.blocks[id][2]), 500)

	_, ok = s.Create(ctx, rec)
	require.False(t, ok)
	require.Len(t, f.pages, 1)
}

type nopMetrics struct{}

func (nopMetrics) RecordDuplicate()                         {}
func (nopMetrics) RecordChunkAppendFailure()                {}
func (nopMetrics) RecordStoreLatency(string, time.Duration) {}
