package publish

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/feed2notion/internal/feedlist"
	"github.com/hitoshi/feed2notion/internal/model"
)

// mockFeedHandler はFeedHandlerのテスト用モック。
type mockFeedHandler struct {
	mu        sync.Mutex
	urls      []string
	processFn func(ctx context.Context, feedURL string) model.FeedResult
}

func (m *mockFeedHandler) Process(ctx context.Context, feedURL string) model.FeedResult {
	m.mu.Lock()
	m.urls = append(m.urls, feedURL)
	m.mu.Unlock()
	if m.processFn != nil {
		return m.processFn(ctx, feedURL)
	}
	return model.FeedResult{URL: feedURL}
}

func staticList(urls ...string) ListReader {
	return func(path string) (feedlist.List, error) {
		return feedlist.List{URLs: urls}, nil
	}
}

func TestBatchRunner_Run_AggregatesFeedResults(t *testing.T) {
	results := map[string]model.FeedResult{
		"https://a.example.com/feed": {Entries: 3, Succeeded: 2},
		"https://b.example.com/feed": {Entries: 0, Succeeded: 0},
		"https://c.example.com/feed": {Entries: 4, Succeeded: 1},
	}
	handler := &mockFeedHandler{
		processFn: func(ctx context.Context, feedURL string) model.FeedResult {
			r := results[feedURL]
			r.URL = feedURL
			return r
		},
	}
	var buf bytes.Buffer
	runner := NewBatchRunner(handler, staticList(
		"https://a.example.com/feed",
		"https://b.example.com/feed",
		"https://c.example.com/feed",
	), newTestLogger(&buf), 2)

	got := runner.Run(context.Background(), "feeds.csv")
	want := model.RunResult{
		FeedsAttempted:   3,
		FeedsSucceeded:   2,
		EntriesAttempted: 7,
		EntriesSucceeded: 3,
	}
	if got != want {
		t.Errorf("Run = %+v, want %+v", got, want)
	}
	if got.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", got.ExitCode())
	}
}

func TestBatchRunner_Run_ReadFailureIsZero(t *testing.T) {
	handler := &mockFeedHandler{}
	var buf bytes.Buffer
	runner := NewBatchRunner(handler, func(path string) (feedlist.List, error) {
		return feedlist.List{}, errors.New("no such file")
	}, newTestLogger(&buf), 2)

	got := runner.Run(context.Background(), "missing.csv")
	if got != (model.RunResult{}) {
		t.Errorf("Run = %+v, want zero", got)
	}
	if got.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", got.ExitCode())
	}
	if len(handler.urls) != 0 {
		t.Errorf("expected no feed processing, got %v", handler.urls)
	}
}

func TestBatchRunner_Run_EmptyListIsZero(t *testing.T) {
	var buf bytes.Buffer
	runner := NewBatchRunner(&mockFeedHandler{}, staticList(), newTestLogger(&buf), 2)

	if got := runner.Run(context.Background(), "empty.csv"); got.SuccessfulFeeds() != 0 {
		t.Errorf("SuccessfulFeeds = %d, want 0", got.SuccessfulFeeds())
	}
}

func TestBatchRunner_Run_IsolatesFeedPanic(t *testing.T) {
	handler := &mockFeedHandler{
		processFn: func(ctx context.Context, feedURL string) model.FeedResult {
			if feedURL == "https://bad.example.com/feed" {
				panic("unexpected")
			}
			return model.FeedResult{URL: feedURL, Entries: 1, Succeeded: 1}
		},
	}
	var buf bytes.Buffer
	runner := NewBatchRunner(handler, staticList(
		"https://bad.example.com/feed",
		"https://good.example.com/feed",
	), newTestLogger(&buf), 2)

	got := runner.Run(context.Background(), "feeds.csv")
	if got.FeedsAttempted != 2 || got.FeedsSucceeded != 1 {
		t.Errorf("Run = %+v, want 2 attempted and 1 succeeded", got)
	}
}

func TestBatchRunner_Run_RespectsMaxWorkers(t *testing.T) {
	var current, peak atomic.Int32
	handler := &mockFeedHandler{
		processFn: func(ctx context.Context, feedURL string) model.FeedResult {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return model.FeedResult{URL: feedURL}
		},
	}
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://example.com/feed/" + string(rune('a'+i))
	}
	var buf bytes.Buffer
	runner := NewBatchRunner(handler, staticList(urls...), newTestLogger(&buf), 2)

	got := runner.Run(context.Background(), "feeds.csv")
	if got.FeedsAttempted != 8 {
		t.Errorf("FeedsAttempted = %d, want 8", got.FeedsAttempted)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestNewBatchRunner_Defaults(t *testing.T) {
	var buf bytes.Buffer
	runner := NewBatchRunner(&mockFeedHandler{}, nil, newTestLogger(&buf), -1)
	if runner.readList == nil {
		t.Error("expected default list reader")
	}
	if runner.maxWorkers != DefaultMaxWorkers {
		t.Errorf("maxWorkers = %d, want %d", runner.maxWorkers, DefaultMaxWorkers)
	}
}
