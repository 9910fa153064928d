package fanout

import (
	"context"
	"fmt"
	"iter"
)

// Build はリソースグループの購読者を一度だけ解決し、
// 受信者×通知の直積を配信リクエストとして遅延生成するシーケンスを返す。
// グループ内のすべての通知は同じ受信者のスナップショットを共有する。
func Build[P comparable](ctx context.Context, resolver Resolver, meta Metadata, group ResourceGroup[P]) (iter.Seq[DeliveryRequest[P]], error) {
	recipients, err := resolver.Resolve(ctx, meta.Key, group.ResourceID, meta.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: resource=%s: %w", ErrResolution, group.ResourceID, err)
	}

	return func(yield func(DeliveryRequest[P]) bool) {
		for _, r := range recipients {
			for _, n := range group.Notifications {
				if !yield(DeliveryRequest[P]{Recipient: r, Notification: n}) {
					return
				}
			}
		}
	}, nil
}
