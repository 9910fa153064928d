// イベントストアサービスのエントリポイント。
// 品質ゲートの変化や通知の配信結果をイベントとして永続化し、配信する。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/nao1215/qgnotify/internal/eventstore"
	_ "modernc.org/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("イベントストアサービスの実行に失敗", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "/data/eventstore.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer sqlDB.Close()
	// バージョンの採番を直列化するため書き込みは1接続で行う
	sqlDB.SetMaxOpenConns(1)

	if err := eventstore.Migrate(context.Background(), sqlDB, logger); err != nil {
		return err
	}

	server := eventstore.NewServer(port, eventstore.NewStore(sqlDB), logger)
	logger.Info("イベントストアサービスを起動します", "port", port)
	return server.Run()
}
