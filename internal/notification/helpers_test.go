package notification

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/qgnotify/internal/fanout"
	notificationdb "github.com/nao1215/qgnotify/internal/notification/db"
	"github.com/nao1215/qgnotify/pkg/event"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// discardLogger はテスト用にログを捨てるロガー。
var discardLogger = slog.New(slog.DiscardHandler)

// openTestDB はマイグレーション済みのインメモリSQLiteを作成する。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// インメモリDBは接続ごとに別のデータベースになるため1接続に制限する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := Migrate(t.Context(), sqlDB, discardLogger); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return sqlDB
}

// testUser はテスト用に登録するユーザー。
type testUser struct {
	login    string
	email    string
	inactive bool
	// roles はuserロールを持つプロジェクト。
	roles []string
	// subscriptions はQGChangeKeyを購読するプロジェクト。空文字列は全体購読。
	subscriptions []string
}

// seedUsers はユーザー、ロール、購読をDBに直接登録する。
func seedUsers(t *testing.T, sqlDB *sql.DB, users ...testUser) {
	t.Helper()

	ctx := t.Context()
	q := notificationdb.New(sqlDB)
	for _, u := range users {
		active := int64(1)
		if u.inactive {
			active = 0
		}
		if err := q.UpsertUser(ctx, notificationdb.UpsertUserParams{Login: u.login, Email: u.email, Active: active}); err != nil {
			t.Fatalf("ユーザーの登録に失敗: %v", err)
		}
		for _, project := range u.roles {
			if err := q.GrantPermission(ctx, notificationdb.GrantPermissionParams{Login: u.login, ProjectKey: project, Role: RoleUser}); err != nil {
				t.Fatalf("ロールの付与に失敗: %v", err)
			}
		}
		for i, project := range u.subscriptions {
			if err := q.CreateSubscription(ctx, notificationdb.CreateSubscriptionParams{
				ID:            u.login + "-sub-" + string(rune('a'+i)),
				Login:         u.login,
				DispatcherKey: QGChangeKey,
				ProjectKey:    sql.NullString{String: project, Valid: project != ""},
			}); err != nil {
				t.Fatalf("購読の作成に失敗: %v", err)
			}
		}
	}
}

// qgEvent はテスト用のQualityGateChangedイベントを生成する。
func qgEvent(t *testing.T, projectKey, status string) event.Event {
	t.Helper()

	ev, err := event.New("project-"+projectKey, event.AggregateTypeProject, event.TypeQualityGateChanged, 1,
		event.QualityGateChangedData{
			ProjectKey:     projectKey,
			ProjectName:    "Project " + projectKey,
			PreviousStatus: "OK",
			Status:         status,
			AlertName:      "Coverage < 80%",
			IsNewAlert:     true,
		})
	if err != nil {
		t.Fatalf("イベントの生成に失敗: %v", err)
	}
	return *ev
}

// stubChannel はテスト用の配信チャネル。受け取ったリクエストを記録する。
type stubChannel struct {
	mu       sync.Mutex
	err      error
	received [][]fanout.DeliveryRequest[QGChange]
}

func (c *stubChannel) IsActive() bool { return true }

func (c *stubChannel) Deliver(_ context.Context, requests []fanout.DeliveryRequest[QGChange]) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.received = append(c.received, requests)
	return len(requests), nil
}

func (c *stubChannel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *stubChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

// errChannelDown はテスト用のチャネル障害。
var errChannelDown = errors.New("channel down")

// eventually はcondが真になるまで待つ。
func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("条件が満たされませんでした")
}
