package notification

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config は通知サービスの設定。環境変数から読み込む。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DBPath はSQLiteデータベースのDSN。
	DBPath string
	// JWTSecret はJWTの署名検証に使用する秘密鍵。
	JWTSecret string
	// EventStoreURL はEvent StoreのベースURL。
	EventStoreURL string
	// Channel は配信チャネルの種類。
	Channel ChannelKind
	// WebhookURL はWebhookチャネルの送信先URL。
	WebhookURL string
	// WebhookSecret はWebhook送信時にX-Webhook-Secretヘッダーで送る共有シークレット。空なら送らない。
	WebhookSecret string
	// WebhookTimeout はWebhook送信1件あたりのタイムアウト。
	WebhookTimeout time.Duration
	// RedisAddr はRedisチャネルの接続先（host:port）。
	RedisAddr string
	// RedisStream は配信メッセージを追加するRedis Stream名。
	RedisStream string
	// DispatchConcurrency は購読者解決の最大並行数。
	DispatchConcurrency int
	// PollInterval はEvent Storeのポーリング間隔。0ならポーリングしない。
	PollInterval time.Duration
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// OTLPEndpoint はトレースの送信先。空ならトレースを送信しない。
	OTLPEndpoint string
	// TraceSampleRate はトレースのサンプリング率（0より大きく1以下）。
	TraceSampleRate float64
	// InternalToken は内部APIの呼び出しに必要なサービストークン。空なら内部APIはすべて拒否する。
	InternalToken string
	// LogLevel はログの出力レベル（debug, info, warn, error）。
	LogLevel string
}

// LoadConfig は環境変数から設定を読み込む。未設定の項目はデフォルト値を使用する。
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	get := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	channel, err := ParseChannelKind(get("NOTIFICATION_CHANNEL", string(ChannelInbox)))
	if err != nil {
		return Config{}, err
	}

	concurrency, err := strconv.Atoi(get("DISPATCH_CONCURRENCY", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("DISPATCH_CONCURRENCYの解析に失敗: %w", err)
	}

	pollInterval, err := time.ParseDuration(get("POLL_INTERVAL", "2s"))
	if err != nil {
		return Config{}, fmt.Errorf("POLL_INTERVALの解析に失敗: %w", err)
	}

	webhookTimeout, err := time.ParseDuration(get("WEBHOOK_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("WEBHOOK_TIMEOUTの解析に失敗: %w", err)
	}

	sampleRate, err := strconv.ParseFloat(get("OTEL_TRACES_SAMPLER_ARG", "1"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARGの解析に失敗: %w", err)
	}
	if sampleRate <= 0 || sampleRate > 1 {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARGは0より大きく1以下で指定してください: %v", sampleRate)
	}

	cfg := Config{
		Port:                get("PORT", "8086"),
		DBPath:              get("DB_PATH", "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		JWTSecret:           get("JWT_SECRET", "dev-secret-key"),
		EventStoreURL:       get("EVENTSTORE_URL", "http://localhost:8084"),
		Channel:             channel,
		WebhookURL:          getenv("WEBHOOK_URL"),
		WebhookSecret:       getenv("WEBHOOK_SECRET"),
		WebhookTimeout:      webhookTimeout,
		RedisAddr:           get("REDIS_ADDR", "localhost:6379"),
		RedisStream:         get("REDIS_STREAM", DefaultRedisStream),
		DispatchConcurrency: max(concurrency, 1),
		PollInterval:        pollInterval,
		AllowedOrigins:      splitList(getenv("ALLOWED_ORIGINS")),
		OTLPEndpoint:        getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRate:     sampleRate,
		InternalToken:       getenv("INTERNAL_TOKEN"),
		LogLevel:            get("LOG_LEVEL", "info"),
	}

	if cfg.Channel == ChannelWebhook && cfg.WebhookURL == "" {
		return Config{}, fmt.Errorf("NOTIFICATION_CHANNEL=webhookにはWEBHOOK_URLが必要です")
	}
	return cfg, nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var items []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
