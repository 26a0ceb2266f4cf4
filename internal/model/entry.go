// Package model はドメインモデルを定義する。
package model

import "time"

// DateLayout はレコードの日付プロパティに使用するISO形式（YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// UntitledTitle はタイトルを持たないエントリに割り当てるタイトル。
const UntitledTitle = "Untitled"

// FeedEntry はフィードから取得した1件のエントリを表す。
// フィードパーサーが生成し、EntryProcessorが1回だけ消費する。永続化はしない。
type FeedEntry struct {
	Title       string
	Link        string
	PublishedAt *time.Time // 公開日時（フィードに含まれない場合はnil）
}

// HasLink はエントリがリンクを持つかを返す。
func (e FeedEntry) HasLink() bool {
	return e.Link != ""
}

// ResolveDate はレコードに記録する日付文字列を返す。
// 公開日時があればUTCに正規化してYYYY-MM-DD形式で返し、
// なければfallbackDateをそのまま返す。
func (e FeedEntry) ResolveDate(fallbackDate string) string {
	if e.PublishedAt == nil || e.PublishedAt.IsZero() {
		return fallbackDate
	}
	return e.PublishedAt.UTC().Format(DateLayout)
}
