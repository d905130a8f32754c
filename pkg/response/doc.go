// Package response はAPI全体で統一するJSONレスポンスエンベロープを提供する。
//
// すべてのサービスが成功・失敗を問わず同じ形式
// {success, data, message, errors, timestamp} で応答するために使用する。
// フロントエンドはこの形式のみを解釈すればよい。
package response
