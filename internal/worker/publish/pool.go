// Package publish はフィード一覧からドキュメントストアへの公開処理を行うバッチワーカーを提供する。
//
// 処理は BatchRunner → FeedProcessor → EntryProcessor の3段で構成され、
// フィード単位とエントリ単位の2段階でそれぞれ独立した並列数上限のもとにファンアウトする。
// 1つのエントリやフィードの失敗は、それを含む最小の単位で吸収され、バッチ全体は止まらない。
package publish

import "sync"

// DefaultMaxWorkers は各ファンアウト段の既定の最大並列数。
const DefaultMaxWorkers = 10

// runBounded はfnを0..n-1の各インデックスについて並列実行し、全て完了するまで待つ。
// semaphoreパターンで同時実行数をlimit以下に制御する。
// 結果はfn側がインデックスごとのスロットに書き込むことで、共有カウンタを使わずに集計する。
func runBounded(n, limit int, fn func(i int)) {
	if limit <= 0 {
		limit = DefaultMaxWorkers
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}

	wg.Wait()
}
