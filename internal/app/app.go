package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/feed2notion/internal/config"
	"github.com/hitoshi/feed2notion/internal/database"
	"github.com/hitoshi/feed2notion/internal/extract"
	"github.com/hitoshi/feed2notion/internal/feed"
	"github.com/hitoshi/feed2notion/internal/feedlist"
	"github.com/hitoshi/feed2notion/internal/logger"
	"github.com/hitoshi/feed2notion/internal/metrics"
	"github.com/hitoshi/feed2notion/internal/notion"
	"github.com/hitoshi/feed2notion/internal/repository"
	"github.com/hitoshi/feed2notion/internal/repository/mongo"
	"github.com/hitoshi/feed2notion/internal/security"
	"github.com/hitoshi/feed2notion/internal/store"
	"github.com/hitoshi/feed2notion/internal/worker/publish"
)

// pushTimeout はPushgatewayへの送信のタイムアウト。
const pushTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、フラグの値で上書きしてから
// JSON構造化ログをセットアップする。
func Init(w io.Writer, opts Options) (*config.Config, *slog.Logger, error) {
	// 1. 設定読み込み前にログを使えるようにする
	log := logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		log.Warn(".envファイルの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}
	applyOptions(cfg, opts)

	// 3. 設定されたレベルでロガーを作り直す
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn("不明なログレベルのためINFOを使用します", slog.String("log_level", cfg.LogLevel))
	}
	log = logger.SetupDefault(w, level)

	return cfg, log, nil
}

func applyOptions(cfg *config.Config, opts Options) {
	if opts.FeedFile != "" {
		cfg.FeedListPath = opts.FeedFile
	}
	if opts.MaxWorkers > 0 {
		cfg.MaxWorkers = opts.MaxWorkers
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
}

// Run はアプリケーションのメインエントリーポイントで、プロセスの終了コードを返す。
// argsにはos.Args[1:]を渡す。
// 1件以上のフィードで公開に成功した場合のみ0を返し、設定エラーや
// 予期しないpanicを含むそれ以外の場合は1を返す。
func Run(w io.Writer, args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Log(context.Background(), logger.LevelCritical, "予期しないエラーで終了します",
				slog.String("error", fmt.Sprint(r)),
			)
			code = 1
		}
	}()

	cmd, rest := ParseCommand(args)
	opts, err := ParseOptions(w, rest)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	cfg, log, err := Init(w, opts)
	if err != nil {
		log.Error("初期化に失敗しました", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
	)

	switch cmd {
	case CommandMigrate:
		if err := runMigrate(cfg, log); err != nil {
			log.Error("マイグレーションに失敗しました", slog.String("error", err.Error()))
			return 1
		}
		return 0
	default:
		return runBatch(ctx, cfg, log)
	}
}

// runBatch は依存関係をワイヤリングしてフィード一覧を1回処理する。
func runBatch(ctx context.Context, cfg *config.Config, log *slog.Logger) int {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	backend, closeBackend, err := backendOpener(ctx, cfg, log)
	if err != nil {
		log.Error("ストアの初期化に失敗しました",
			slog.String("store_backend", cfg.StoreBackend),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer closeBackend()

	guard := security.NewSSRFGuard(cfg.AllowPrivateNetworks, cfg.FetchAllowedPorts...)
	extractor := extract.NewExtractor(
		guard.NewSafeClient(cfg.FetchTimeout), guard, collector, log,
		extract.Config{
			Mode:        extract.ParseMode(cfg.ExtractMode),
			MaxBodySize: cfg.FetchMaxSize,
		},
	)
	recordStore := store.NewRecordStore(backend, collector, log, store.Config{
		ChunkSize:       cfg.ChunkSize,
		FailClosedDedup: cfg.DedupFailClosed,
	})
	source := feed.NewSource(guard.NewSafeClient(cfg.FetchTimeout), guard, log)

	entries := publish.NewEntryProcessor(extractor, recordStore, collector, log)
	feeds := publish.NewFeedProcessor(source, entries, collector, log, cfg.MaxWorkers)
	runner := publish.NewBatchRunner(feeds, feedlist.Read, log, cfg.MaxWorkers)

	log.Info("バッチ処理を開始します",
		slog.String("feed_list", cfg.FeedListPath),
		slog.Int("max_workers", cfg.MaxWorkers),
		slog.Int("chunk_size", recordStore.ChunkSize()),
	)

	start := time.Now()
	result := runner.Run(ctx, cfg.FeedListPath)
	elapsed := time.Since(start)
	collector.RecordRun(result, elapsed)

	log.Info("バッチ処理が完了しました",
		slog.Int("successful_feeds", result.SuccessfulFeeds()),
		slog.Int("feeds_attempted", result.FeedsAttempted),
		slog.Int("entries_succeeded", result.EntriesSucceeded),
		slog.Int("entries_attempted", result.EntriesAttempted),
		slog.Duration("elapsed", elapsed),
	)

	if cfg.PushgatewayURL != "" {
		pushMetrics(collector, cfg.PushgatewayURL, log)
	}

	return result.ExitCode()
}

// backendOpener はrunBatchが使うストアの初期化関数。テストで差し替える。
var backendOpener = openBackend

// openBackend は設定されたストアバックエンドを初期化し、終了処理の関数とともに返す。
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("database connection established")
		return repository.NewPostgresRecordRepo(db), func() { db.Close() }, nil

	case config.BackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		s, err := mongo.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		log.Info("mongodb connection established", slog.String("database", cfg.MongoDatabase))
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Close(closeCtx)
		}, nil

	default:
		client := notion.NewClient(&http.Client{Timeout: cfg.FetchTimeout}, log, notion.Config{
			Token:             cfg.NotionAPIKey,
			DatabaseID:        cfg.NotionDatabaseID,
			BaseURL:           cfg.NotionAPIBaseURL,
			Version:           cfg.NotionVersion,
			RequestsPerSecond: cfg.NotionRateLimit,
			Properties: notion.Properties{
				Title: cfg.NotionTitleProperty,
				URL:   cfg.NotionURLProperty,
				Date:  cfg.NotionDateProperty,
			},
		})
		return client, func() {}, nil
	}
}

// pushMetrics は実行結果のメトリクスをPushgatewayに送信する。
// 送信の失敗はログ出力のみで終了コードには影響しない。
func pushMetrics(collector *metrics.Collector, gatewayURL string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := collector.Push(ctx, gatewayURL); err != nil {
		log.Warn("メトリクスの送信に失敗しました", slog.String("error", err.Error()))
		return
	}
	log.Info("メトリクスを送信しました", slog.String("pushgateway_url", gatewayURL))
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解析できない場合は全体を伏せる。
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
