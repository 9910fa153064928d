package notification

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestApp(t *testing.T) {
	t.Parallel()

	t.Run("正常系_起動してコンテキストのキャンセルで停止する", func(t *testing.T) {
		t.Parallel()

		cfg := Config{
			Port:                "0",
			DBPath:              filepath.Join(t.TempDir(), "notification.db"),
			JWTSecret:           "test-secret",
			EventStoreURL:       "http://127.0.0.1:1",
			Channel:             ChannelInbox,
			DispatchConcurrency: 2,
			PollInterval:        time.Hour,
		}
		app, err := NewApp(t.Context(), cfg, discardLogger)
		if err != nil {
			t.Fatalf("NewAppが失敗: %v", err)
		}
		t.Cleanup(func() { app.Close() })
		if app.Poller == nil {
			t.Fatal("PollIntervalが設定されている場合はPollerが生成されるべき")
		}

		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()
		if err := app.Run(ctx); err != nil {
			t.Errorf("Runが失敗: %v", err)
		}
	})

	t.Run("正常系_ポーリング間隔が0ならPollerを生成しない", func(t *testing.T) {
		t.Parallel()

		app, err := NewApp(t.Context(), Config{
			Port:    "0",
			DBPath:  filepath.Join(t.TempDir(), "notification.db"),
			Channel: ChannelRedis,
		}, discardLogger)
		if err != nil {
			t.Fatalf("NewAppが失敗: %v", err)
		}
		defer app.Close()
		if app.Poller != nil {
			t.Error("Pollerは生成されないべき")
		}
	})

	t.Run("異常系_WebhookのURLがない場合はエラーを返す", func(t *testing.T) {
		t.Parallel()

		_, err := NewApp(t.Context(), Config{
			Port:    "0",
			DBPath:  filepath.Join(t.TempDir(), "notification.db"),
			Channel: ChannelWebhook,
		}, discardLogger)
		if err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}
