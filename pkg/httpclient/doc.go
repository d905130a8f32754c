// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// gatewayサービスがtransactionサービスのユーザーAPIを呼び出す際に使用する。
// リクエスト・レスポンスはすべてJSON形式で、404はErrNotFoundとして
// 呼び出し元で判別できるようにする。
package httpclient
