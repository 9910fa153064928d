package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/httpclient"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// shutdownTimeout はHTTPサーバーの停止を待つ最大時間。
const shutdownTimeout = 10 * time.Second

// App は通知サービスを構成するサーバー、Poller、外部接続をまとめたもの。
type App struct {
	// Server はHTTPサーバー。
	Server *Server
	// Poller はEvent Storeのポーリング。PollIntervalが0ならnil。
	Poller *Poller
	db     *sql.DB
	redis  *redis.Client
	logger *slog.Logger
}

// NewApp は設定から通知サービスを組み立てる。
// データベースを開いてマイグレーションを適用し、設定された配信チャネルを生成する。
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := Migrate(ctx, sqlDB, logger); err != nil {
		sqlDB.Close()
		return nil, err
	}

	app := &App{db: sqlDB, logger: logger}

	deps := ChannelDeps{Inbox: NewInboxStore(sqlDB), Logger: logger}
	if cfg.Channel == ChannelRedis {
		app.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.Redis = app.redis
	}
	channel, err := NewQGChangeChannel(cfg, deps)
	if err != nil {
		app.Close()
		return nil, err
	}

	eventStoreClient := httpclient.New(cfg.EventStoreURL)
	dispatcher := NewQGChangeDispatcher(NewStore(sqlDB), channel,
		fanout.WithConcurrency(cfg.DispatchConcurrency),
		fanout.WithLogger(logger),
	)
	service := NewService(dispatcher, eventStoreClient, logger)

	app.Server = NewServer(cfg, sqlDB, NewRegistry(QGChangeMetadata()), service, logger)
	if cfg.PollInterval > 0 {
		app.Poller = NewPoller(service, eventStoreClient, cfg.PollInterval, logger)
	}
	return app, nil
}

// Run はPollerとHTTPサーバーを起動し、ctxがキャンセルされるまで処理を続ける。
func (a *App) Run(ctx context.Context) error {
	if a.Poller != nil {
		a.Poller.Start(ctx)
		defer a.Poller.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("通知サービスを起動します", "port", a.Server.port)
		errCh <- a.Server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return <-errCh
}

// Close はデータベースとRedisの接続を閉じる。
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
