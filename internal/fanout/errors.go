package fanout

import "errors"

var (
	// ErrResolution は購読者の解決に失敗したことを表す。
	ErrResolution = errors.New("購読者の解決に失敗")
	// ErrDelivery は配信チャネルがバッチ全体の配信に失敗したことを表す。
	ErrDelivery = errors.New("配信に失敗")
)
