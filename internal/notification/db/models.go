package db

import (
	"database/sql"
	"time"
)

// User はusersテーブルの行。
type User struct {
	Login     string
	Email     string
	Active    int64
	CreatedAt time.Time
}

// Subscription はsubscriptionsテーブルの行。
type Subscription struct {
	ID            string
	Login         string
	DispatcherKey string
	ProjectKey    sql.NullString
	CreatedAt     time.Time
}

// Delivery はdeliveriesテーブルの行。
type Delivery struct {
	ID            string
	Login         string
	Email         string
	DispatcherKey string
	ProjectKey    string
	Title         string
	Message       string
	IsRead        int64
	CreatedAt     time.Time
}

// SubscribedRecipient は購読者の解決結果の行。
type SubscribedRecipient struct {
	Login string
	Email string
	// HasRole は指定ロールをプロジェクトに対して持つかどうか（0または1）。
	HasRole int64
}
