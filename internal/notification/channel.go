package notification

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/httpclient"
	"github.com/redis/go-redis/v9"
)

// ChannelKind は配信チャネルの種類。
type ChannelKind string

const (
	// ChannelInbox はSQLiteの受信箱に保存するチャネル。
	ChannelInbox ChannelKind = "inbox"
	// ChannelWebhook はWebhookにPOSTするチャネル。
	ChannelWebhook ChannelKind = "webhook"
	// ChannelRedis はRedis Streamに追加するチャネル。
	ChannelRedis ChannelKind = "redis"
)

// ParseChannelKind は文字列を配信チャネルの種類に変換する。
func ParseChannelKind(s string) (ChannelKind, error) {
	switch k := ChannelKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ChannelInbox, ChannelWebhook, ChannelRedis:
		return k, nil
	default:
		return "", fmt.Errorf("未対応の配信チャネル: %q", s)
	}
}

// Content は受信箱に表示できる通知ペイロード。
type Content interface {
	comparable
	Title() string
	Body() string
}

// deliveryMessage はWebhookとRedisに送る配信メッセージのJSON構造。
type deliveryMessage[P comparable] struct {
	// DispatcherKey は通知カテゴリのキー。
	DispatcherKey string `json:"dispatcher_key"`
	// Login は通知先のログイン名。
	Login string `json:"login"`
	// Address は通知先のアドレス。
	Address string `json:"address"`
	// ProjectKey は通知の対象プロジェクト。
	ProjectKey string `json:"project_key"`
	// Payload は通知の内容。
	Payload P `json:"payload"`
}

func newDeliveryMessage[P comparable](key string, req fanout.DeliveryRequest[P]) deliveryMessage[P] {
	return deliveryMessage[P]{
		DispatcherKey: key,
		Login:         req.Recipient.Login,
		Address:       req.Recipient.Address,
		ProjectKey:    req.Notification.ResourceID,
		Payload:       req.Notification.Payload,
	}
}

// webhookSecretHeader はWebhookの受信側が送信元を検証するためのヘッダー名。
const webhookSecretHeader = "X-Webhook-Secret"

// ChannelDeps は配信チャネルの生成に必要な外部リソース。
type ChannelDeps struct {
	// Inbox は受信箱チャネルの保存先。
	Inbox *InboxStore
	// Redis はRedisチャネルのクライアント。nilならRedisチャネルは無効になる。
	Redis redis.Cmdable
	// Logger はチャネルのログ出力先。
	Logger *slog.Logger
}

// NewQGChangeChannel は設定に応じた品質ゲート変化通知の配信チャネルを生成する。
func NewQGChangeChannel(cfg Config, deps ChannelDeps) (fanout.Channel[QGChange], error) {
	switch cfg.Channel {
	case ChannelInbox:
		return NewInboxChannel[QGChange](deps.Inbox, QGChangeKey), nil
	case ChannelWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URLが設定されていません")
		}
		opts := []httpclient.Option{httpclient.WithTimeout(cfg.WebhookTimeout)}
		if cfg.WebhookSecret != "" {
			opts = append(opts, httpclient.WithHeader(webhookSecretHeader, cfg.WebhookSecret))
		}
		client := httpclient.New(cfg.WebhookURL, opts...)
		return NewWebhookChannel[QGChange](client, QGChangeKey, deps.Logger), nil
	case ChannelRedis:
		return NewRedisChannel[QGChange](deps.Redis, cfg.RedisStream, QGChangeKey, deps.Logger), nil
	default:
		return nil, fmt.Errorf("未対応の配信チャネル: %q", cfg.Channel)
	}
}
