package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド種別。
const (
	BackendNotion   = "notion"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend    string
	ChunkSize       int
	DedupFailClosed bool

	// Notion
	NotionAPIKey        string
	NotionDatabaseID    string
	NotionAPIBaseURL    string
	NotionVersion       string
	NotionRateLimit     float64
	NotionTitleProperty string
	NotionURLProperty   string
	NotionDateProperty  string

	// Database
	DatabaseURL string

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// Feed list
	FeedListPath string

	// Fetch
	FetchTimeout         time.Duration
	FetchMaxSize         int64
	ExtractMode          string
	AllowPrivateNetworks bool
	// FetchAllowedPorts は80/443に加えて取得を許可するポート。
	FetchAllowedPorts []int

	// Worker
	MaxWorkers int

	// Logging
	LogLevel string

	// Metrics
	PushgatewayURL string
}

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 選択したストアバックエンドの必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", BackendNotion))

	// Required fields
	var missing []string

	switch cfg.StoreBackend {
	case BackendNotion:
		cfg.NotionAPIKey = os.Getenv("NOTION_API_KEY")
		if cfg.NotionAPIKey == "" {
			missing = append(missing, "NOTION_API_KEY")
		}

		cfg.NotionDatabaseID = os.Getenv("NOTION_DATABASE_ID")
		if cfg.NotionDatabaseID == "" {
			missing = append(missing, "NOTION_DATABASE_ID")
		}
	case BackendPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMongo:
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ChunkSize = getEnvPositiveInt("CHUNK_SIZE", 2000)
	cfg.DedupFailClosed = getEnvBool("DEDUP_FAIL_CLOSED", false)
	cfg.NotionAPIBaseURL = getEnvString("NOTION_API_BASE_URL", "https://api.notion.com")
	cfg.NotionVersion = getEnvString("NOTION_VERSION", "2022-06-28")
	cfg.NotionRateLimit = getEnvFloat("NOTION_RATE_LIMIT", 3)
	cfg.NotionTitleProperty = getEnvString("NOTION_TITLE_PROPERTY", "Name")
	cfg.NotionURLProperty = getEnvString("NOTION_URL_PROPERTY", "URL")
	cfg.NotionDateProperty = getEnvString("NOTION_DATE_PROPERTY", "Date")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", cfg.DatabaseURL)
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "feed2notion")
	cfg.FeedListPath = getEnvString("FEED_LIST_PATH", "feed_list.csv")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ExtractMode = getEnvString("EXTRACT_MODE", "paragraphs")
	cfg.AllowPrivateNetworks = getEnvBool("ALLOW_PRIVATE_NETWORKS", false)
	cfg.FetchAllowedPorts = getEnvPortList("FETCH_ALLOWED_PORTS")
	cfg.MaxWorkers = getEnvPositiveInt("MAX_WORKERS", 10)
	cfg.LogLevel = strings.ToUpper(getEnvString("LOG_LEVEL", "INFO"))
	cfg.PushgatewayURL = getEnvString("PUSHGATEWAY_URL", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvPositiveInt は0以下の値もデフォルト値として扱う。
func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvPortList はカンマ区切りのポート番号一覧を読み込む。
// 範囲外や数値でない要素は無視する。
func getEnvPortList(key string) []int {
	var ports []int
	for _, field := range strings.Split(os.Getenv(key), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		ports = append(ports, port)
	}
	return ports
}
