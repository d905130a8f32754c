package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Body は全サービス共通のレスポンスエンベロープ。
type Body struct {
	// Success はリクエストが成功したかどうか。
	Success bool `json:"success"`
	// Data は成功時のペイロード。失敗時は省略される。
	Data any `json:"data,omitempty"`
	// Message は人間向けの短いメッセージ。
	Message string `json:"message,omitempty"`
	// Errors は失敗時の詳細メッセージのリスト。
	Errors []string `json:"errors,omitempty"`
	// Timestamp はレスポンス生成日時（UTC）。
	Timestamp time.Time `json:"timestamp"`
}

// OK は成功レスポンスを指定ステータスコードで書き込む。
func OK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Body{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Error は失敗レスポンスを指定ステータスコードで書き込む。
// errsには任意で詳細メッセージを渡せる。
func Error(c *gin.Context, status int, message string, errs ...string) {
	c.JSON(status, Body{
		Success:   false,
		Message:   message,
		Errors:    errs,
		Timestamp: time.Now().UTC(),
	})
}

// AbortError は失敗レスポンスを書き込み、後続のハンドラを中断する。
// ミドルウェアからの短絡に使用する。
func AbortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Body{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
