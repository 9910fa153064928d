package fanout

import (
	"context"
	"sync"
)

// testPayload はテスト用の通知ペイロード。
type testPayload struct {
	// ID は通知を区別するための識別子。
	ID string
}

// note はテスト用の通知を生成するヘルパー関数。
func note(resourceID, id string) Notification[testPayload] {
	return Notification[testPayload]{ResourceID: resourceID, Payload: testPayload{ID: id}}
}

// fakeResolver は呼び出しを記録するテスト用のResolver。
type fakeResolver struct {
	mu sync.Mutex
	// recipients はリソースIDごとの解決結果。
	recipients map[string][]Recipient
	// errs はリソースIDごとに返すエラー。
	errs map[string]error
	// calls はリソースIDごとの呼び出し回数。
	calls map[string]int
	// keys は受け取ったキーとポリシーの記録。
	keys []string
	// policies は受け取ったポリシーの記録。
	policies []PermissionPolicy
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		recipients: make(map[string][]Recipient),
		errs:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (r *fakeResolver) Resolve(_ context.Context, key, resourceID string, policy PermissionPolicy) ([]Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[resourceID]++
	r.keys = append(r.keys, key)
	r.policies = append(r.policies, policy)
	if err, ok := r.errs[resourceID]; ok {
		return nil, err
	}
	return r.recipients[resourceID], nil
}

func (r *fakeResolver) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

// fakeChannel は受け取った配信リクエストを記録するテスト用のChannel。
type fakeChannel struct {
	// active はIsActiveの戻り値。
	active bool
	// activeChecks はIsActiveの呼び出し回数。
	activeChecks int
	// deliverCalls はDeliverの呼び出し回数。
	deliverCalls int
	// received は最後に受け取った配信リクエスト。
	received []DeliveryRequest[testPayload]
	// result はDeliverが返す件数。負の場合は受け取った件数を返す。
	result int
	// err はDeliverが返すエラー。
	err error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{active: true, result: -1}
}

func (c *fakeChannel) IsActive() bool {
	c.activeChecks++
	return c.active
}

func (c *fakeChannel) Deliver(_ context.Context, requests []DeliveryRequest[testPayload]) (int, error) {
	c.deliverCalls++
	c.received = requests
	if c.err != nil {
		return 0, c.err
	}
	if c.result < 0 {
		return len(requests), nil
	}
	return c.result, nil
}
