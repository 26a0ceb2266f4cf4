package model

// PublishRecord はドキュメントストアへ送信する公開単位。
// Titleが重複判定キーであり、同一タイトルのエントリはリンクや本文が
// 異なっていても同じ論理レコードとして扱う。
type PublishRecord struct {
	Title string
	Link  string
	Body  string
	Date  string // YYYY-MM-DD
}
