package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/httpclient"
)

// WebhookChannel は配信リクエストを1件ずつWebhookにPOSTするチャネル。
// 一部の送信に失敗した場合は成功した件数だけを返す。
type WebhookChannel[P comparable] struct {
	client *httpclient.Client
	key    string
	logger *slog.Logger
}

// NewWebhookChannel は新しいWebhookChannelを生成する。clientがnilなら無効なチャネルになる。
func NewWebhookChannel[P comparable](client *httpclient.Client, key string, logger *slog.Logger) *WebhookChannel[P] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebhookChannel[P]{client: client, key: key, logger: logger}
}

// IsActive はチャネルが有効かどうかを返す。
func (c *WebhookChannel[P]) IsActive() bool {
	return c.client != nil
}

// Deliver は配信リクエストを送信し、成功した件数を返す。
// すべての送信に失敗した場合はエラーを返す。
func (c *WebhookChannel[P]) Deliver(ctx context.Context, requests []fanout.DeliveryRequest[P]) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := c.client.PostJSON(ctx, "", newDeliveryMessage(c.key, req), nil); err != nil {
			c.logger.WarnContext(ctx, "Webhookへの送信に失敗しました",
				"key", c.key,
				"login", req.Recipient.Login,
				"project", req.Notification.ResourceID,
				"retryable", retryable(err),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		sent++
	}

	if sent == 0 && len(errs) > 0 {
		return 0, fmt.Errorf("Webhookへの送信がすべて失敗: %w", errors.Join(errs...))
	}
	return sent, nil
}

// retryable は送信エラーが再送で解消しうるかを返す。
// 応答のない通信エラーと5xx・429は再送可能、それ以外のHTTPエラーは再送不可とする。
func retryable(err error) bool {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return true
}
