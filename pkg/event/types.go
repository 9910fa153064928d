package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeProject は解析対象プロジェクトを表す。
	AggregateTypeProject AggregateType = "Project"
	// AggregateTypeNotification は通知の配信処理を表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeQualityGateChanged はプロジェクトの品質ゲートの状態が変化したことを表す。
	TypeQualityGateChanged Type = "QualityGateChanged"
	// TypeNotificationDelivered は通知のバッチが配信されたことを表す。
	TypeNotificationDelivered Type = "NotificationDelivered"
)

// Event はEvent Sourcingにおける不変のイベントレコードを表す。
// すべての状態変更はこの構造体としてEvent Storeに永続化される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。楽観的排他制御に使用する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// QualityGateChangedData はQualityGateChangedイベントのデータ。
type QualityGateChangedData struct {
	// ProjectKey は対象プロジェクトのキー。空の場合はプロジェクトに紐づかない。
	ProjectKey string `json:"project_key,omitempty"`
	// ProjectName はプロジェクトの表示名。
	ProjectName string `json:"project_name"`
	// Branch は解析対象のブランチ名。
	Branch string `json:"branch,omitempty"`
	// PreviousStatus は変化前の品質ゲートの状態（OK, ERROR等）。
	PreviousStatus string `json:"previous_status,omitempty"`
	// Status は変化後の品質ゲートの状態。
	Status string `json:"status"`
	// AlertName は状態変化の原因となった条件の名前。
	AlertName string `json:"alert_name,omitempty"`
	// IsNewAlert は新たにアラートが発生したかどうか。
	IsNewAlert bool `json:"is_new_alert"`
}

// NotificationDeliveredData はNotificationDeliveredイベントのデータ。
type NotificationDeliveredData struct {
	// DispatcherKey は配信した通知カテゴリのキー。
	DispatcherKey string `json:"dispatcher_key"`
	// Notifications はバッチに含まれていた通知の件数。
	Notifications int `json:"notifications"`
	// Delivered は配信チャネルが報告した配信件数。
	Delivered int `json:"delivered"`
}
