package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/httpclient"
)

// ErrInvalidEvent は通知に変換できないイベントを表す。
var ErrInvalidEvent = errors.New("通知に変換できないイベント")

// Service はイベントを通知に変換してディスパッチャーに渡し、
// 配信結果をEvent Storeに記録する。HTTP APIとPollerの両方から使用する。
type Service struct {
	// dispatcher は品質ゲート変化通知のディスパッチャー。
	dispatcher *fanout.Dispatcher[QGChange]
	// eventStoreClient はEvent Storeサービスへの通信クライアント。nilなら記録しない。
	eventStoreClient *httpclient.Client
	// logger はログの出力先。
	logger *slog.Logger
}

// NewService は新しいServiceを生成する。
func NewService(dispatcher *fanout.Dispatcher[QGChange], eventStoreClient *httpclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		dispatcher:       dispatcher,
		eventStoreClient: eventStoreClient,
		logger:           logger,
	}
}

// DispatchEvents はQualityGateChangedイベントのバッチを1回のディスパッチで配信し、配信件数を返す。
// 変換できないイベントが含まれる場合は何も配信せずErrInvalidEventを返す。
func (s *Service) DispatchEvents(ctx context.Context, events []event.Event) (int, error) {
	notifications := make([]fanout.Notification[QGChange], 0, len(events))
	for i := range events {
		n, err := FromEvent(&events[i])
		if err != nil {
			return 0, fmt.Errorf("%w (id=%s): %w", ErrInvalidEvent, events[i].ID, err)
		}
		notifications = append(notifications, n)
	}
	return s.Dispatch(ctx, notifications)
}

// Dispatch は通知のバッチを配信し、配信件数が1件以上ならNotificationDeliveredイベントを発行する。
func (s *Service) Dispatch(ctx context.Context, notifications []fanout.Notification[QGChange]) (int, error) {
	count, err := s.dispatcher.Dispatch(ctx, notifications)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.publishDelivered(ctx, len(notifications), count)
	}
	return count, nil
}

// appendEventRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// publishDelivered はNotificationDeliveredイベントをEvent Storeに送信する。
// 送信に失敗してもログに記録するだけで、配信自体は成功として扱う。
func (s *Service) publishDelivered(ctx context.Context, notifications, delivered int) {
	if s.eventStoreClient == nil {
		return
	}

	key := s.dispatcher.Metadata().Key
	ev, err := event.New("notification-"+key, event.AggregateTypeNotification, event.TypeNotificationDelivered, 0,
		event.NotificationDeliveredData{
			DispatcherKey: key,
			Notifications: notifications,
			Delivered:     delivered,
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "NotificationDeliveredイベントの生成に失敗しました", "error", err)
		return
	}

	req := appendEventRequest{
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		Data:          ev.Data,
	}
	if err := s.eventStoreClient.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		s.logger.WarnContext(ctx, "NotificationDeliveredイベントの送信に失敗しました", "key", key, "error", err)
	}
}
