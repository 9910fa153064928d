package notification

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nao1215/qgnotify/internal/fanout"
	notificationdb "github.com/nao1215/qgnotify/internal/notification/db"
)

// RoleUser はAllMustHaveRoleポリシーで購読者に要求するプロジェクトのロール。
const RoleUser = "user"

// Store はSQLiteに保存された購読とロールから購読者を解決する。
// fanout.Resolverを実装する。
type Store struct {
	queries *notificationdb.Queries
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{queries: notificationdb.New(db)}
}

// Resolve はカテゴリkeyをプロジェクトprojectKeyについて受け取るべき購読者を返す。
// 全体購読とプロジェクト単位の購読の両方を対象とし、ログイン名順に並べる。
func (s *Store) Resolve(ctx context.Context, key, projectKey string, policy fanout.PermissionPolicy) ([]fanout.Recipient, error) {
	rows, err := s.queries.ListSubscribedRecipients(ctx, notificationdb.ListSubscribedRecipientsParams{
		DispatcherKey: key,
		ProjectKey:    projectKey,
		Role:          RoleUser,
	})
	if err != nil {
		return nil, fmt.Errorf("購読者の取得に失敗: %w", err)
	}

	recipients := make([]fanout.Recipient, 0, len(rows))
	for _, r := range rows {
		switch policy {
		case fanout.AllMustHaveRole:
			if r.HasRole == 0 {
				continue
			}
		case fanout.AnySubscribed:
		default:
			return nil, fmt.Errorf("未対応の権限ポリシー: %s", policy)
		}
		recipients = append(recipients, fanout.Recipient{Login: r.Login, Address: r.Email})
	}
	return recipients, nil
}
