package fanout

import (
	"context"
	"fmt"
)

// Notification はリソースに紐づく不変の通知を表す。
// ResourceIDが空の通知はリソーススコープ外として扱われ、配信対象にならない。
type Notification[P comparable] struct {
	// ResourceID は通知が属するリソースの識別子（プロジェクトキー等）。
	ResourceID string
	// Payload は通知の内容。構造的な等価比較のためcomparableである必要がある。
	Payload P
}

// Scoped は通知がリソースに紐づいているかを返す。
func (n Notification[P]) Scoped() bool {
	return n.ResourceID != ""
}

// Recipient は通知の受信者を表す。
// LoginとAddressの組で受信者を識別する。受信箱はログイン単位で配信するため、
// 同じアドレスを共有する別ログインは別の受信者として扱う。
type Recipient struct {
	// Login は受信者のログイン名。
	Login string
	// Address は配信先アドレス（メールアドレス等）。
	Address string
}

// DeliveryRequest は1人の受信者と1件の通知の組を表す。
// 受信者と通知が等しい2つのリクエストは重複として1つにまとめられる。
type DeliveryRequest[P comparable] struct {
	// Recipient は配信先の受信者。
	Recipient Recipient
	// Notification は配信する通知。
	Notification Notification[P]
}

// ResourceGroup は同じリソースIDを持つ通知のまとまり。
type ResourceGroup[P comparable] struct {
	// ResourceID はグループのリソースID。
	ResourceID string
	// Notifications は入力順に並んだ通知。
	Notifications []Notification[P]
}

// PermissionPolicy は購読者のうちどの受信者に配信を許可するかを表す。
type PermissionPolicy int

const (
	// AllMustHaveRole はすべての購読者がリソースに対するロールを持つ必要があることを表す。
	AllMustHaveRole PermissionPolicy = iota
	// AnySubscribed はロールに関係なく購読者全員に配信することを表す。
	AnySubscribed
)

// String はポリシー名を返す。
func (p PermissionPolicy) String() string {
	switch p {
	case AllMustHaveRole:
		return "ALL_MUST_HAVE_ROLE"
	case AnySubscribed:
		return "ANY_SUBSCRIBED"
	default:
		return fmt.Sprintf("PermissionPolicy(%d)", int(p))
	}
}

// Metadata はディスパッチャーの登録情報。
// 通知カテゴリのキーと、そのカテゴリが受け付ける購読の種類を表す。
type Metadata struct {
	// Key は通知カテゴリを識別する安定したキー。
	Key string
	// GlobalSubscription はリソースを問わない購読を受け付けるかどうか。
	GlobalSubscription bool
	// PerResourceSubscription はリソース単位の購読を受け付けるかどうか。
	PerResourceSubscription bool
	// Policy は受信者を絞り込む権限ポリシー。キーごとに固定される。
	Policy PermissionPolicy
}

// Resolver はリソースに対する購読者を解決する。
type Resolver interface {
	// Resolve はkeyのカテゴリでresourceIDを購読し、policyを満たす受信者を返す。
	// 購読者がいない場合は空のスライスを返す（エラーではない）。
	Resolve(ctx context.Context, key, resourceID string, policy PermissionPolicy) ([]Recipient, error)
}

// Channel は配信リクエストを実際に送信する配信チャネル。
type Channel[P comparable] interface {
	// IsActive はチャネルが有効かどうかを返す。
	IsActive() bool
	// Deliver は配信リクエストを送信し、実際に配信できた件数を返す。
	Deliver(ctx context.Context, requests []DeliveryRequest[P]) (int, error)
}
