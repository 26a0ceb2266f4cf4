// Package security は外部から取り込むテキストとHTMLの安全化、
// および取得先URLの検証を提供する。
package security

import (
	"strings"
	"unicode/utf8"
)

// IsRepresentable はコードポイントがドキュメントストアに安全に送信できる範囲
// （サロゲートを除く基本多言語面: U+0000–U+D7FF, U+E000–U+FFFF）にあるかを返す。
func IsRepresentable(r rune) bool {
	return (r >= 0 && r <= 0xD7FF) || (r >= 0xE000 && r <= 0xFFFF)
}

// Clean は表現可能範囲外のコードポイントを除去したテキストを返す。
// 不正なUTF-8バイト列（WTF-8で符号化された孤立サロゲートを含む）も除去する。
// 純粋関数であり、Clean(Clean(s)) == Clean(s) が常に成り立つ。
func Clean(text string) string {
	if isClean(text) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if !IsRepresentable(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isClean はテキストに除去対象が含まれないかを判定する。
func isClean(text string) bool {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if (r == utf8.RuneError && size == 1) || !IsRepresentable(r) {
			return false
		}
		i += size
	}
	return true
}
