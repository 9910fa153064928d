package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate はイベントストアのスキーマを最新の状態にする。
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return nil
}

// Store はSQLiteに保存された追記のみのイベントログ。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。dbはマイグレーション済みであること。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendParams はAppendの引数。
type AppendParams struct {
	AggregateID   string
	AggregateType event.AggregateType
	EventType     event.Type
	Data          json.RawMessage
}

// Append はイベントを追記する。バージョンはAggregateごとに1から採番する。
// created_atはストア全体で単調増加にするため、時計が戻った場合も直前のイベントより後になる。
func (s *Store) Append(ctx context.Context, arg AppendParams) (*event.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var version, lastCreated int64
	err = tx.QueryRowContext(ctx,
		`SELECT
		    (SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?),
		    (SELECT COALESCE(MAX(created_at), 0) FROM events)`,
		arg.AggregateID,
	).Scan(&version, &lastCreated)
	if err != nil {
		return nil, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}

	ev, err := event.New(arg.AggregateID, arg.AggregateType, arg.EventType, version+1, arg.Data)
	if err != nil {
		return nil, err
	}
	if ev.CreatedAt.UnixNano() <= lastCreated {
		ev.CreatedAt = time.Unix(0, lastCreated+1).UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AggregateID, string(ev.AggregateType), string(ev.EventType), string(ev.Data), ev.Version, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("イベントの追記に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return ev, nil
}

const selectEvents = `SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at FROM events`

// ListAll は全イベントを作成順に返す。
func (s *Store) ListAll(ctx context.Context) ([]event.Event, error) {
	return s.list(ctx, selectEvents+` ORDER BY created_at, seq`)
}

// ListByAggregateID はAggregateのイベントをバージョン順に返す。
func (s *Store) ListByAggregateID(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.list(ctx, selectEvents+` WHERE aggregate_id = ? ORDER BY version`, aggregateID)
}

// ListByType は指定した種類のうちsince以降に作成されたイベントを作成順に返す。
func (s *Store) ListByType(ctx context.Context, eventType event.Type, since time.Time) ([]event.Event, error) {
	return s.list(ctx, selectEvents+` WHERE event_type = ? AND created_at >= ? ORDER BY created_at, seq`,
		string(eventType), sinceNanos(since))
}

// ListSince はsince以降に作成されたイベントを作成順に返す。
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]event.Event, error) {
	return s.list(ctx, selectEvents+` WHERE created_at >= ? ORDER BY created_at, seq`, sinceNanos(since))
}

// maxStoredTime はcreated_atとして保存できる最も遅い日時。
var maxStoredTime = time.Unix(0, math.MaxInt64)

// sinceNanos はsinceを検索条件のナノ秒に変換する。
// UnixNanoが表せない範囲は丸める。1970年より前はすべてのイベントを、保存可能な範囲より後は何も返さない。
func sinceNanos(since time.Time) int64 {
	switch {
	case since.Before(time.Unix(0, 0)):
		return 0
	case since.After(maxStoredTime):
		return math.MaxInt64
	default:
		return since.UnixNano()
	}
}

// LatestVersion はAggregateの最新バージョンを返す。イベントがなければ0。
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}
	return version, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var (
			ev                       event.Event
			aggregateType, eventType string
			data                     string
			createdAt                int64
		)
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &aggregateType, &eventType, &data, &ev.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		ev.AggregateType = event.AggregateType(aggregateType)
		ev.EventType = event.Type(eventType)
		ev.Data = json.RawMessage(data)
		ev.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}
