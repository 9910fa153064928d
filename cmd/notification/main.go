// 通知サービスのエントリポイント。
// Event Storeの品質ゲート変化イベントを、購読しているユーザーへ配信する。
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nao1215/qgnotify/internal/notification"
	"github.com/nao1215/qgnotify/internal/telemetry"
)

// version はビルド時に-ldflagsで設定される。
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("通知サービスの実行に失敗", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := notification.LoadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "notification",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("トレースプロバイダーの停止に失敗", "error", err)
		}
	}()

	app, err := notification.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("設定を読み込みました",
		"channel", cfg.Channel,
		"concurrency", cfg.DispatchConcurrency,
		"poll_interval", cfg.PollInterval,
	)
	return app.Run(ctx)
}

// parseLevel はログレベルの文字列をslog.Levelに変換する。不明な値はinfoとして扱う。
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
