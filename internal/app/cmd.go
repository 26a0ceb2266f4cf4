package app

import (
	"flag"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun はフィード一覧を1回処理してレコードを公開することを示す。
	CommandRun Command = "run"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	// STORE_BACKEND=postgres の場合に使用する。
	CommandMigrate Command = "migrate"
)

// Options はコマンドラインフラグによる設定の上書き。
// ゼロ値の項目は環境変数の値を上書きしない。
type Options struct {
	FeedFile   string
	MaxWorkers int
	LogLevel   string
}

// ParseCommand はコマンドライン引数からサブコマンドを解析し、残りの引数とともに返す。
// 先頭がサブコマンドでない場合はCommandRunとみなし、引数全体をフラグとして扱う。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandRun, nil
	}

	switch args[0] {
	case "run":
		return CommandRun, args[1:]
	case "migrate":
		return CommandMigrate, args[1:]
	default:
		return CommandRun, args
	}
}

// ParseOptions はフラグを解析する。
// 不正なフラグの場合はusageをwに出力してエラーを返す。-hの場合はflag.ErrHelpを返す。
func ParseOptions(w io.Writer, args []string) (Options, error) {
	var opts Options

	fs := flag.NewFlagSet("feed2notion", flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&opts.FeedFile, "feed-file", "", "フィード一覧ファイルのパス（FEED_LIST_PATHを上書き）")
	fs.IntVar(&opts.MaxWorkers, "max-workers", 0, "フィード・エントリ各段の最大並列数（MAX_WORKERSを上書き）")
	fs.StringVar(&opts.LogLevel, "log-level", "", "ログレベル DEBUG|INFO|WARNING|ERROR|CRITICAL（LOG_LEVELを上書き）")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}
