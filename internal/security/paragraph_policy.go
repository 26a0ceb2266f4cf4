package security

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ParagraphFilter は記事HTMLから段落要素以外のマークアップを取り除く。
// 段落内のインライン要素はテキストだけが残り、script/styleは内容ごと除去される。
// noscript内の段落は通常の段落と同じく残す。
type ParagraphFilter struct {
	policy *bluemonday.Policy
}

// NewParagraphFilter はpタグのみを許可するbluemondayポリシーを構築する。
// 属性はすべて除去される。
func NewParagraphFilter() *ParagraphFilter {
	p := bluemonday.NewPolicy()
	p.AllowElements("p")
	p.SkipElementsContent("script", "style", "template")

	return &ParagraphFilter{policy: p}
}

// Filter はHTMLをサニタイズしてp要素だけを含むHTMLを返す。
// bluemondayのポリシーはスレッドセーフなため複数goroutineから呼び出せる。
func (f *ParagraphFilter) Filter(rawHTML []byte) []byte {
	return f.policy.SanitizeBytes(unwrapNoscript(rawHTML))
}

var noscriptTag = []byte("<noscript")

// unwrapNoscript はnoscript要素をその子ノードで置き換える。
// HTMLトークナイザはnoscriptの中身を生テキストとして扱うため、
// スクリプト無効として解析し直して中のマークアップを要素として取り出す。
func unwrapNoscript(rawHTML []byte) []byte {
	if !bytes.Contains(bytes.ToLower(rawHTML), noscriptTag) {
		return rawHTML
	}

	root, err := html.ParseWithOptions(bytes.NewReader(rawHTML), html.ParseOptionEnableScripting(false))
	if err != nil {
		return rawHTML
	}

	doc := goquery.NewDocumentFromNode(root)
	doc.Find("noscript").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithSelection(s.Contents())
	})

	out, err := doc.Html()
	if err != nil {
		return rawHTML
	}
	return []byte(out)
}
