// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの発行・検証、管理者ロールの認可、パニックリカバリ、
// CORS設定など、gatewayと内部サービスで共通して使用するミドルウェアを含む。
package middleware
