package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/httpclient"
)

// Poller はEvent StoreのQualityGateChangedイベントをポーリングし、通知として配信するバックグラウンドプロセス。
// 1回のポーリングで取得したイベントは1つのバッチとしてディスパッチする。
type Poller struct {
	// service はイベントを配信するサービス。
	service *Service
	// client はEvent Storeとの通信用HTTPクライアント。
	client *httpclient.Client
	// interval はポーリング間隔。
	interval time.Duration
	// logger はログの出力先。
	logger *slog.Logger
	// lastTimestamp は配信に成功した最後のイベントの直後の時刻。
	lastTimestamp time.Time
	// mu はlastTimestampへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はバックグラウンドゴルーチンの終了を通知する。
	done chan struct{}
}

// NewPoller は新しいPollerを生成する。
func NewPoller(service *Service, client *httpclient.Client, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		service:  service,
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Start はバックグラウンドでEvent Storeのポーリングを開始する。
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.logger.InfoContext(ctx, "Event Storeのポーリングを開始します", "interval", p.interval)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("ポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil {
					p.logger.WarnContext(ctx, "ポーリングに失敗しました", "error", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止し、終了を待つ。
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Cursor は次のポーリングで取得を開始する時刻を返す。
func (p *Poller) Cursor() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTimestamp
}

// Poll はEvent Storeから新しいイベントを取得して配信し、配信件数を返す。
// 配信に成功した場合だけカーソルを進めるため、失敗したバッチは次回のポーリングで再取得される。
func (p *Poller) Poll(ctx context.Context) (int, error) {
	since := p.Cursor()
	if since.IsZero() {
		// 初回はEvent Storeの先頭から取得する
		since = time.Unix(0, 0)
	}

	path := fmt.Sprintf("/api/v1/events/since?since=%s", url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))
	var events []event.Event
	if err := p.client.GetJSON(ctx, path, &events); err != nil {
		return 0, fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var (
		latest        time.Time
		notifications []fanout.Notification[QGChange]
	)
	for i := range events {
		ev := &events[i]
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
		if ev.EventType != event.TypeQualityGateChanged {
			continue
		}
		n, err := FromEvent(ev)
		if err != nil {
			p.logger.WarnContext(ctx, "イベントを通知に変換できません", "id", ev.ID, "error", err)
			continue
		}
		notifications = append(notifications, n)
	}

	count, err := p.service.Dispatch(ctx, notifications)
	if err != nil {
		return 0, err
	}

	if !latest.IsZero() {
		p.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		p.lastTimestamp = latest.Add(time.Nanosecond)
		p.mu.Unlock()
	}

	p.logger.InfoContext(ctx, "イベントを処理しました",
		"events", len(events),
		"notifications", len(notifications),
		"delivered", count,
	)
	return count, nil
}
