// Package transaction は家計簿データの永続化を担当するサービス。
// ユーザー・カテゴリ・取引・予算をSQLiteに保存し、gatewayサービス
// 経由で呼び出されるREST APIを提供する。
package transaction
