package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisStream は配信メッセージを追加するRedis Streamのデフォルト名。
const DefaultRedisStream = "qgnotify:deliveries"

// RedisChannel は配信リクエストをRedis Streamに追加するチャネル。
// 外部のメール送信ワーカーがStreamを購読して実際の送信を行う。
type RedisChannel[P comparable] struct {
	client redis.Cmdable
	stream string
	key    string
	logger *slog.Logger
}

// NewRedisChannel は新しいRedisChannelを生成する。clientがnilなら無効なチャネルになる。
func NewRedisChannel[P comparable](client redis.Cmdable, stream, key string, logger *slog.Logger) *RedisChannel[P] {
	if stream == "" {
		stream = DefaultRedisStream
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisChannel[P]{client: client, stream: stream, key: key, logger: logger}
}

// IsActive はチャネルが有効かどうかを返す。
func (c *RedisChannel[P]) IsActive() bool {
	return c.client != nil
}

// Deliver は配信リクエストを1つのパイプラインでStreamに追加し、追加できた件数を返す。
// Redisに接続できない場合は1件も追加されていないものとしてエラーを返す。
// コマンド単位のエラー応答は該当リクエストだけを数えない。
func (c *RedisChannel[P]) Deliver(ctx context.Context, requests []fanout.DeliveryRequest[P]) (int, error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(requests))
	for _, req := range requests {
		values, err := redisValues(c.key, req)
		if err != nil {
			return 0, err
		}
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.stream,
			Values: values,
		}))
	}

	// 接続エラー等はExecだけが返し、各コマンドのErrはnilのままになる
	_, execErr := pipe.Exec(ctx)
	var replyErr redis.Error
	if execErr != nil && !errors.As(execErr, &replyErr) {
		return 0, fmt.Errorf("Redis Streamへの追加に失敗: %w", execErr)
	}

	var added int
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil || cmd.Val() == "" {
			c.logger.WarnContext(ctx, "Redis Streamへの追加に失敗しました",
				"stream", c.stream,
				"login", requests[i].Recipient.Login,
				"error", err,
			)
			continue
		}
		added++
	}

	if added == 0 && execErr != nil {
		return 0, fmt.Errorf("Redis Streamへの追加に失敗: %w", execErr)
	}
	return added, nil
}

// redisValues は配信リクエストをStreamのフィールドに変換する。
func redisValues[P comparable](key string, req fanout.DeliveryRequest[P]) (map[string]any, error) {
	msg := newDeliveryMessage(key, req)
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("配信メッセージのシリアライズに失敗: %w", err)
	}
	return map[string]any{
		"dispatcher_key": msg.DispatcherKey,
		"login":          msg.Login,
		"address":        msg.Address,
		"project_key":    msg.ProjectKey,
		"payload":        string(payload),
	}, nil
}
