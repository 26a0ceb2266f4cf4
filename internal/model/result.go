package model

// FeedResult は1フィード分の処理結果。
type FeedResult struct {
	URL       string
	Entries   int // 処理を試みたエントリ数
	Succeeded int // レコード作成に成功したエントリ数
}

// RunResult はバッチ実行全体の集計結果。
// バッチ実行後に残る唯一の状態で、終了時にログ出力される。
type RunResult struct {
	FeedsAttempted   int
	FeedsSucceeded   int // 1件以上の公開に成功したフィード数
	EntriesAttempted int
	EntriesSucceeded int
}

// Add はフィード単位の結果を集計に加算した新しいRunResultを返す。
func (r RunResult) Add(fr FeedResult) RunResult {
	r.FeedsAttempted++
	r.EntriesAttempted += fr.Entries
	r.EntriesSucceeded += fr.Succeeded
	if fr.Succeeded > 0 {
		r.FeedsSucceeded++
	}
	return r
}

// SuccessfulFeeds は1件以上の公開に成功したフィード数を返す。
func (r RunResult) SuccessfulFeeds() int {
	return r.FeedsSucceeded
}

// ExitCode はプロセスの終了ステータスを返す。
// 成功したフィードが1件以上あれば0、それ以外は1。
func (r RunResult) ExitCode() int {
	if r.FeedsSucceeded > 0 {
		return 0
	}
	return 1
}
