// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// すべてのサービスの状態変更をイベントとして追記のみで永続化する。
// 通知サービスはこのサービスをポーリングしてQualityGateChangedイベントを取得し、
// 配信結果をNotificationDeliveredイベントとして追記する。
//
// 主な機能:
//   - イベントの追記（Aggregateごとにバージョンを自動採番）
//   - AggregateIDによるイベント取得
//   - イベントタイプによるイベント取得
//   - 日時指定によるイベント取得（ポーリング用、ナノ秒精度）
package eventstore
