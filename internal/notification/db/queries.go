package db

import (
	"context"
	"database/sql"
)

const upsertUser = `
INSERT INTO users (login, email, active) VALUES (?, ?, ?)
ON CONFLICT(login) DO UPDATE SET email = excluded.email, active = excluded.active
`

// UpsertUserParams はUpsertUserの引数。
type UpsertUserParams struct {
	Login  string
	Email  string
	Active int64
}

// UpsertUser はユーザーを登録または更新する。
func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) error {
	_, err := q.db.ExecContext(ctx, upsertUser, arg.Login, arg.Email, arg.Active)
	return err
}

const getUser = `
SELECT login, email, active, created_at FROM users WHERE login = ?
`

// GetUser はログイン名でユーザーを取得する。
func (q *Queries) GetUser(ctx context.Context, login string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, getUser, login).Scan(&u.Login, &u.Email, &u.Active, &u.CreatedAt)
	return u, err
}

const grantPermission = `
INSERT OR IGNORE INTO project_permissions (login, project_key, role) VALUES (?, ?, ?)
`

// GrantPermissionParams はGrantPermissionの引数。
type GrantPermissionParams struct {
	Login      string
	ProjectKey string
	Role       string
}

// GrantPermission はユーザーにプロジェクトのロールを付与する。付与済みなら何もしない。
func (q *Queries) GrantPermission(ctx context.Context, arg GrantPermissionParams) error {
	_, err := q.db.ExecContext(ctx, grantPermission, arg.Login, arg.ProjectKey, arg.Role)
	return err
}

const revokePermission = `
DELETE FROM project_permissions WHERE login = ? AND project_key = ? AND role = ?
`

// RevokePermission はユーザーからプロジェクトのロールを取り消す。
func (q *Queries) RevokePermission(ctx context.Context, arg GrantPermissionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, revokePermission, arg.Login, arg.ProjectKey, arg.Role)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createSubscription = `
INSERT INTO subscriptions (id, login, dispatcher_key, project_key) VALUES (?, ?, ?, ?)
`

// CreateSubscriptionParams はCreateSubscriptionの引数。
type CreateSubscriptionParams struct {
	ID            string
	Login         string
	DispatcherKey string
	ProjectKey    sql.NullString
}

// CreateSubscription は購読を作成する。
func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, createSubscription, arg.ID, arg.Login, arg.DispatcherKey, arg.ProjectKey)
	return err
}

const deleteSubscription = `
DELETE FROM subscriptions WHERE id = ? AND login = ?
`

// DeleteSubscriptionParams はDeleteSubscriptionの引数。
type DeleteSubscriptionParams struct {
	ID    string
	Login string
}

// DeleteSubscription はユーザー自身の購読を削除し、削除した行数を返す。
func (q *Queries) DeleteSubscription(ctx context.Context, arg DeleteSubscriptionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSubscription, arg.ID, arg.Login)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listSubscriptionsByLogin = `
SELECT id, login, dispatcher_key, project_key, created_at
FROM subscriptions
WHERE login = ?
ORDER BY dispatcher_key, IFNULL(project_key, ''), id
`

// ListSubscriptionsByLogin はユーザーの購読一覧を返す。
func (q *Queries) ListSubscriptionsByLogin(ctx context.Context, login string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsByLogin, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.Login, &s.DispatcherKey, &s.ProjectKey, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const listSubscribedRecipients = `
SELECT u.login, u.email,
    EXISTS (
        SELECT 1 FROM project_permissions p
        WHERE p.login = u.login AND p.project_key = ? AND p.role = ?
    ) AS has_role
FROM users u
WHERE u.active = 1
  AND u.email <> ''
  AND EXISTS (
        SELECT 1 FROM subscriptions s
        WHERE s.login = u.login
          AND s.dispatcher_key = ?
          AND (s.project_key IS NULL OR s.project_key = ?)
  )
ORDER BY u.login
`

// ListSubscribedRecipientsParams はListSubscribedRecipientsの引数。
type ListSubscribedRecipientsParams struct {
	DispatcherKey string
	ProjectKey    string
	Role          string
}

// ListSubscribedRecipients はプロジェクトまたは全体でカテゴリを購読している有効なユーザーを、
// ロールの有無とともに返す。
func (q *Queries) ListSubscribedRecipients(ctx context.Context, arg ListSubscribedRecipientsParams) ([]SubscribedRecipient, error) {
	rows, err := q.db.QueryContext(ctx, listSubscribedRecipients, arg.ProjectKey, arg.Role, arg.DispatcherKey, arg.ProjectKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SubscribedRecipient
	for rows.Next() {
		var r SubscribedRecipient
		if err := rows.Scan(&r.Login, &r.Email, &r.HasRole); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const createDelivery = `
INSERT INTO deliveries (id, login, email, dispatcher_key, project_key, title, message)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// CreateDeliveryParams はCreateDeliveryの引数。
type CreateDeliveryParams struct {
	ID            string
	Login         string
	Email         string
	DispatcherKey string
	ProjectKey    string
	Title         string
	Message       string
}

// CreateDelivery は受信箱に通知を1件追加する。
func (q *Queries) CreateDelivery(ctx context.Context, arg CreateDeliveryParams) error {
	_, err := q.db.ExecContext(ctx, createDelivery,
		arg.ID, arg.Login, arg.Email, arg.DispatcherKey, arg.ProjectKey, arg.Title, arg.Message)
	return err
}

const deliveryColumns = `id, login, email, dispatcher_key, project_key, title, message, is_read, created_at`

const getDeliveryByID = `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = ?`

// GetDeliveryByID はIDで通知を取得する。
func (q *Queries) GetDeliveryByID(ctx context.Context, id string) (Delivery, error) {
	row := q.db.QueryRowContext(ctx, getDeliveryByID, id)
	return scanDelivery(row)
}

const listDeliveriesByLogin = `SELECT ` + deliveryColumns + `
FROM deliveries WHERE login = ? ORDER BY created_at DESC, id`

// ListDeliveriesByLogin はユーザーの通知一覧を新しい順に返す。
func (q *Queries) ListDeliveriesByLogin(ctx context.Context, login string) ([]Delivery, error) {
	return q.listDeliveries(ctx, listDeliveriesByLogin, login)
}

const listUnreadDeliveries = `SELECT ` + deliveryColumns + `
FROM deliveries WHERE login = ? AND is_read = 0 ORDER BY created_at DESC, id`

// ListUnreadDeliveries はユーザーの未読通知一覧を新しい順に返す。
func (q *Queries) ListUnreadDeliveries(ctx context.Context, login string) ([]Delivery, error) {
	return q.listDeliveries(ctx, listUnreadDeliveries, login)
}

const markAsRead = `UPDATE deliveries SET is_read = 1 WHERE id = ?`

// MarkAsRead は通知を既読にする。
func (q *Queries) MarkAsRead(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, markAsRead, id)
	return err
}

const markAllAsRead = `UPDATE deliveries SET is_read = 1 WHERE login = ? AND is_read = 0`

// MarkAllAsRead はユーザーの全通知を既読にする。
func (q *Queries) MarkAllAsRead(ctx context.Context, login string) error {
	_, err := q.db.ExecContext(ctx, markAllAsRead, login)
	return err
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.Login, &d.Email, &d.DispatcherKey, &d.ProjectKey,
		&d.Title, &d.Message, &d.IsRead, &d.CreatedAt)
	return d, err
}

func (q *Queries) listDeliveries(ctx context.Context, query, login string) ([]Delivery, error) {
	rows, err := q.db.QueryContext(ctx, query, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
