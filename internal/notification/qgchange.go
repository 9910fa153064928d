package notification

import (
	"fmt"
	"strings"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/event"
)

// QGChangeKey は品質ゲート変化通知のカテゴリキー。
const QGChangeKey = "NewAlerts"

// QGChangeMetadata は品質ゲート変化通知の登録情報を返す。
// 全体購読とプロジェクト単位の購読の両方を受け付け、
// 購読者全員がプロジェクトのuserロールを持つ必要がある。
func QGChangeMetadata() fanout.Metadata {
	return fanout.Metadata{
		Key:                     QGChangeKey,
		GlobalSubscription:      true,
		PerResourceSubscription: true,
		Policy:                  fanout.AllMustHaveRole,
	}
}

// QGChange は品質ゲート変化通知のペイロード。
// 同じイベントから生成された通知は等価になる。
type QGChange struct {
	// EventID は元になったイベントのID。
	EventID string `json:"event_id"`
	// ProjectName はプロジェクトの表示名。
	ProjectName string `json:"project_name"`
	// Branch はブランチ名。
	Branch string `json:"branch,omitempty"`
	// PreviousStatus は変化前の状態。
	PreviousStatus string `json:"previous_status,omitempty"`
	// Status は変化後の状態。
	Status string `json:"status"`
	// AlertName はアラートの条件名。
	AlertName string `json:"alert_name,omitempty"`
	// IsNewAlert は新しいアラートかどうか。
	IsNewAlert bool `json:"is_new_alert"`
}

// Title は受信箱に表示するタイトルを返す。
func (c QGChange) Title() string {
	name := c.ProjectName
	if c.Branch != "" {
		name = fmt.Sprintf("%s (%s)", name, c.Branch)
	}
	return fmt.Sprintf("品質ゲートの状態が変化しました: %s", name)
}

// Body は受信箱に表示する本文を返す。
func (c QGChange) Body() string {
	var b strings.Builder
	if c.PreviousStatus != "" {
		fmt.Fprintf(&b, "%s → %s", c.PreviousStatus, c.Status)
	} else {
		b.WriteString(c.Status)
	}
	if c.AlertName != "" {
		fmt.Fprintf(&b, ": %s", c.AlertName)
	}
	if c.IsNewAlert {
		b.WriteString("（新しいアラート）")
	}
	return b.String()
}

// FromEvent はQualityGateChangedイベントを通知に変換する。
// プロジェクトキーのないイベントはリソースIDが空の通知になり、ファンアウト時に除外される。
func FromEvent(ev *event.Event) (fanout.Notification[QGChange], error) {
	data, err := event.DecodeAs[event.QualityGateChangedData](ev, event.TypeQualityGateChanged)
	if err != nil {
		return fanout.Notification[QGChange]{}, err
	}

	return fanout.Notification[QGChange]{
		ResourceID: data.ProjectKey,
		Payload: QGChange{
			EventID:        ev.ID,
			ProjectName:    data.ProjectName,
			Branch:         data.Branch,
			PreviousStatus: data.PreviousStatus,
			Status:         data.Status,
			AlertName:      data.AlertName,
			IsNewAlert:     data.IsNewAlert,
		},
	}, nil
}

// NewQGChangeDispatcher は品質ゲート変化通知のディスパッチャーを生成する。
func NewQGChangeDispatcher(resolver fanout.Resolver, channel fanout.Channel[QGChange], opts ...fanout.Option) *fanout.Dispatcher[QGChange] {
	return fanout.NewDispatcher(QGChangeMetadata(), resolver, channel, opts...)
}
