// Command feed2notion はRSS/Atomフィードの新着エントリをNotionデータベースに公開するバッチジョブ。
package main

import (
	"os"

	"github.com/hitoshi/feed2notion/internal/app"
)

func main() {
	os.Exit(app.Run(os.Stdout, os.Args[1:]))
}
