// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// ユーザー登録・ログインとJWTの発行・検証、管理者ロールの認可、
// 登録済みサービスへのリバースプロキシ転送、転送先サービスの
// ヘルスチェック集約を担当する。外部からアクセス可能な唯一の
// サービスであり、セキュリティの境界線として機能する。
package gateway
