// API Gatewayサービスのエントリポイント。
// JWTを検証し、受信箱と購読のAPIを通知サービスへ、イベントログの参照をイベントストアへ転送する。
package main

import (
	"log/slog"
	"os"

	"github.com/nao1215/qgnotify/internal/gateway"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := gateway.LoadConfig()
	if cfg.DevToken {
		logger.Warn("開発用トークンの発行が有効です")
	}

	server := gateway.NewServer(cfg, logger)
	logger.Info("Gatewayサービスを起動します", "port", cfg.Port)
	if err := server.Run(); err != nil {
		logger.Error("Gatewayサービスの起動に失敗", "error", err)
		os.Exit(1)
	}
}
