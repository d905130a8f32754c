// Package password はパスワードの強度検証とbcryptハッシュ化を提供する。
//
// gatewayサービスがユーザー登録時のハッシュ生成と、
// ログイン時の照合に使用する。平文パスワードは永続化しない。
package password
