// Package store は重複チェック付きのレコード作成と、本文のチャンク分割追記を提供する。
// 永続化そのものは外部のドキュメントストア（Backend）が担う。
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feed2notion/internal/model"
)

// DefaultChunkSize は1コンテンツブロックあたりの最大文字数。
const DefaultChunkSize = 2000

// Backend はドキュメントストアが提供するプリミティブ操作のインターフェース。
// Notion、PostgreSQL、MongoDBの各実装がこれを満たす。
type Backend interface {
	// TitleExists はタイトルが完全一致するレコードが存在するかを返す。
	TitleExists(ctx context.Context, title string) (bool, error)
	// CreatePage はタイトル・リンク・日付を持つレコードを作成し、そのIDを返す。
	// 本文は含めない。
	CreatePage(ctx context.Context, rec model.PublishRecord) (string, error)
	// AppendBlock はレコードの末尾にテキストブロックを1つ追加する。
	AppendBlock(ctx context.Context, recordID, text string) error
}

// MetricsRecorder はレコードストアのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordDuplicate()
	RecordChunkAppendFailure()
	RecordStoreLatency(operation string, duration time.Duration)
}

// Config はRecordStoreの設定。
type Config struct {
	// ChunkSize は本文を分割する文字数。0以下の場合はDefaultChunkSize。
	ChunkSize int
	// FailClosedDedup がtrueの場合、重複チェックの失敗時にレコードを作成しない。
	// falseの場合は「存在しない」とみなして作成を続行する。
	FailClosedDedup bool
}

// RecordStore はBackendの上に重複チェックとチャンク追記のポリシーを実装する。
// 複数goroutineから同時に呼び出してよい。
type RecordStore struct {
	backend Backend
	metrics MetricsRecorder
	logger  *slog.Logger
	config  Config
}

// NewRecordStore はRecordStoreの新しいインスタンスを生成する。
func NewRecordStore(backend Backend, metrics MetricsRecorder, logger *slog.Logger, config Config) *RecordStore {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	return &RecordStore{
		backend: backend,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// ChunkSize は本文分割に使用する文字数を返す。
func (s *RecordStore) ChunkSize() int {
	return s.config.ChunkSize
}

// Exists はタイトルが完全一致するレコードが存在するかを返す。
// 問い合わせ自体が失敗した場合はログを出力してfalseを返す。
// ストア障害時には重複レコードが作成されうる点に注意。
func (s *RecordStore) Exists(ctx context.Context, title string) bool {
	found, err := s.titleExists(ctx, title)
	if err != nil {
		return false
	}
	return found
}

func (s *RecordStore) titleExists(ctx context.Context, title string) (bool, error) {
	start := time.Now()
	found, err := s.backend.TitleExists(ctx, title)
	s.metrics.RecordStoreLatency("query_title", time.Since(start))
	if err != nil {
		s.logger.Error("レコードの存在確認に失敗しました",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	return found, nil
}

// Create は同一タイトルのレコードが存在しなければ新規作成し、本文をチャンク追記する。
// 作成したレコードのIDとtrueを返す。重複時や作成失敗時は空文字列とfalseを返す。
// いずれの失敗も呼び出し元には伝播させず、リトライもしない。
func (s *RecordStore) Create(ctx context.Context, rec model.PublishRecord) (string, bool) {
	found, err := s.titleExists(ctx, rec.Title)
	if err != nil && s.config.FailClosedDedup {
		s.logger.Warn("重複チェックができないためレコード作成をスキップします",
			slog.String("title", rec.Title),
		)
		return "", false
	}
	if found {
		s.logger.Info("レコードは既に存在します",
			slog.String("title", rec.Title),
		)
		s.metrics.RecordDuplicate()
		return "", false
	}

	start := time.Now()
	id, err := s.backend.CreatePage(ctx, rec)
	s.metrics.RecordStoreLatency("create_page", time.Since(start))
	if err != nil {
		s.logger.Error("レコードの作成に失敗しました",
			slog.String("title", rec.Title),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	if id == "" {
		s.logger.Error("作成したレコードのIDが空です",
			slog.String("title", rec.Title),
		)
		return "", false
	}

	s.AppendBody(ctx, id, rec.Body, s.config.ChunkSize)

	s.logger.Info("レコードを作成しました",
		slog.String("title", rec.Title),
		slog.String("record_id", id),
		slog.String("date", rec.Date),
	)
	return id, true
}

// AppendBody は本文をchunkSize文字ごとに分割し、順番に1ブロックずつ追記する。
// あるチャンクの追記に失敗しても残りのチャンクの追記は続行する。
// 追記に成功したチャンク数を返す。
func (s *RecordStore) AppendBody(ctx context.Context, recordID, body string, chunkSize int) int {
	chunks := ChunkText(body, chunkSize)
	appended := 0
	for i, chunk := range chunks {
		start := time.Now()
		err := s.backend.AppendBlock(ctx, recordID, chunk)
		s.metrics.RecordStoreLatency("append_block", time.Since(start))
		if err != nil {
			s.logger.Error("本文チャンクの追記に失敗しました",
				slog.String("record_id", recordID),
				slog.Int("chunk_index", i),
				slog.Int("chunk_count", len(chunks)),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordChunkAppendFailure()
			continue
		}
		appended++
	}
	return appended
}
