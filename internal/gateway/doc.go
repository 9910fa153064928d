// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 開発用JWTの発行と、認証済みリクエストの内部サービスへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、通知サービスの /internal 配下や
// イベントの追記APIは公開しない。
package gateway
