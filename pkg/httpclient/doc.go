// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// Event Storeへのイベント送信やポーリング、Webhookチャネルによる
// 通知の配信など、JSONによるサービス間の通信パターンを統一する。
package httpclient
