// Transactionサービスのエントリポイント。
// ユーザー・カテゴリ・取引・予算の永続化を担当する内部サービスで、
// gatewayサービス経由でのみアクセスされる。
package main

import (
	"log"
	"os"

	"github.com/nao1215/kakeibo/internal/transaction"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := transaction.NewServer(port)
	if err != nil {
		log.Fatalf("Transactionサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Transactionサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Transactionサービスの起動に失敗: %v", err)
	}
}
