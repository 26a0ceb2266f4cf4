package store

import "unicode/utf8"

// ChunkText はテキストを先頭からsize文字（コードポイント）ごとの部分文字列に分割する。
// 最後のチャンク以外はちょうどsize文字で、連結すると元のテキストに戻る。
// 空文字列に対しては空のスライスを返す。sizeが0以下の場合はDefaultChunkSizeを使う。
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return []string{}
	}

	n := utf8.RuneCountInString(text)
	chunks := make([]string, 0, (n+size-1)/size)
	start, count := 0, 0
	for i := 0; i < len(text); {
		_, width := utf8.DecodeRuneInString(text[i:])
		i += width
		count++
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
