package notification

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/nao1215/qgnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate は通知サービスのスキーマを最新の状態にする。
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return nil
}
