// Command signon はGoogleログインを提供するWebアプリケーション。
//
// サブコマンド:
//
//	serve        Webサーバーを起動する（デフォルト）
//	worker       期限切れセッションを定期的に削除する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health を確認する（Dockerヘルスチェック用）
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/signon/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
