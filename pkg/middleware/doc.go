// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンと内部API向けサービストークンの検証、パニックリカバリ、CORS設定を含む。
package middleware
