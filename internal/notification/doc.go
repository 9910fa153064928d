// Package notification は品質ゲート変化通知の配信サービスを提供する。
//
// Event StoreのQualityGateChangedイベントを通知に変換し、購読者へ配信する。
// 購読者の解決と重複排除はfanoutパッケージが行い、このパッケージは
// SQLiteに保存した購読とロール、配信チャネル（受信箱・Webhook・Redis Stream）、
// HTTP APIとEvent Storeのポーリングを担当する。
package notification
