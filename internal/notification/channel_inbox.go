package notification

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nao1215/qgnotify/internal/fanout"
	notificationdb "github.com/nao1215/qgnotify/internal/notification/db"
)

// InboxStore は受信箱チャネルが書き込むSQLiteデータベース。
type InboxStore struct {
	db      *sql.DB
	queries *notificationdb.Queries
}

// NewInboxStore は新しいInboxStoreを生成する。
func NewInboxStore(db *sql.DB) *InboxStore {
	return &InboxStore{db: db, queries: notificationdb.New(db)}
}

// InboxChannel は配信リクエストを受信箱（deliveriesテーブル）に保存するチャネル。
// 1回の配信は1つのトランザクションで保存され、途中で失敗した場合は1件も保存しない。
type InboxChannel[P Content] struct {
	store  *InboxStore
	key    string
	active atomic.Bool
}

// NewInboxChannel は有効状態のInboxChannelを生成する。
func NewInboxChannel[P Content](store *InboxStore, key string) *InboxChannel[P] {
	c := &InboxChannel[P]{store: store, key: key}
	c.active.Store(store != nil)
	return c
}

// SetActive はチャネルの有効状態を切り替える。
func (c *InboxChannel[P]) SetActive(active bool) {
	c.active.Store(active && c.store != nil)
}

// IsActive はチャネルが有効かどうかを返す。
func (c *InboxChannel[P]) IsActive() bool {
	return c.active.Load()
}

// Deliver は配信リクエストを受信箱に保存し、保存した件数を返す。
func (c *InboxChannel[P]) Deliver(ctx context.Context, requests []fanout.DeliveryRequest[P]) (int, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := c.store.queries.WithTx(tx)
	for _, req := range requests {
		if err := qtx.CreateDelivery(ctx, notificationdb.CreateDeliveryParams{
			ID:            uuid.New().String(),
			Login:         req.Recipient.Login,
			Email:         req.Recipient.Address,
			DispatcherKey: c.key,
			ProjectKey:    req.Notification.ResourceID,
			Title:         req.Notification.Payload.Title(),
			Message:       req.Notification.Payload.Body(),
		}); err != nil {
			return 0, fmt.Errorf("受信箱への保存に失敗 (login=%s): %w", req.Recipient.Login, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return len(requests), nil
}
