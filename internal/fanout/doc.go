// Package fanout は通知のファンアウト処理を提供する。
//
// 受け取った通知のバッチをリソース（プロジェクトキー）ごとにグループ化し、
// リソースごとに購読者を解決して、受信者と通知の組を配信リクエストに変換する。
// 重複を除いた配信リクエストの集合を配信チャネルに一度だけ渡し、
// チャネルが報告した配信件数をそのまま返す。
//
// 購読者の解決（Resolver）と配信（Channel）は外部の協調オブジェクトであり、
// このパッケージはリトライやエラーの回復を行わない。
package fanout
