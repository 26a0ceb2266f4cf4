// Package feedlist はバッチ実行の入力となるフィードURL一覧ファイルを読み込む。
//
// CSV（またはプレーンテキスト）形式では各レコードの1列目をURLとして扱い、
// 「#」で始まる行はコメントとして無視する。YAML形式（拡張子.yaml/.yml）では
// URL文字列の配列、または feeds キー配下の {url: ...} の配列を受け付ける。
//
// 空行、URLを取り出せない行、CSVとして不正な行はスキップして読み込みを続行する。
package feedlist

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// SkippedRow は読み込み時にスキップした行の情報。
type SkippedRow struct {
	Line   int
	Reason string
}

// List は読み込んだフィードURLとスキップした行の一覧。
type List struct {
	URLs    []string
	Skipped []SkippedRow
}

// Read はパスの拡張子に応じた形式でフィード一覧を読み込む。
// ファイルを開けない場合やYAML全体が不正な場合はエラーを返す。
func Read(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return List{}, fmt.Errorf("failed to open feed list %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ReadYAML(f)
	default:
		return ReadCSV(f)
	}
}

// maxLineSize はフィード一覧の1行あたりの上限バイト数。
const maxLineSize = 1 << 20

// utf8BOM は先頭行から取り除くバイトオーダーマーク。
const utf8BOM = "\ufeff"

// ReadCSV はCSV形式のフィード一覧を読み込む。
// 行ごとに独立したcsv.Readerで解析するため、閉じられていない引用符があっても
// 影響はその行だけに留まる。
func ReadCSV(r io.Reader) (List, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var list List
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if lineNo == 1 {
			text = strings.TrimPrefix(text, utf8BOM)
		}

		record, err := parseLine(text)
		if err == io.EOF {
			// 空行・コメント行
			continue
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				err = parseErr.Err
			}
			list.Skipped = append(list.Skipped, SkippedRow{Line: lineNo, Reason: err.Error()})
			continue
		}

		if len(record) == 0 {
			list.Skipped = append(list.Skipped, SkippedRow{Line: lineNo, Reason: "empty row"})
			continue
		}
		url := strings.TrimSpace(record[0])
		if url == "" {
			list.Skipped = append(list.Skipped, SkippedRow{Line: lineNo, Reason: "empty first column"})
			continue
		}
		list.URLs = append(list.URLs, url)
	}
	if err := scanner.Err(); err != nil {
		return list, fmt.Errorf("failed to read feed list: %w", err)
	}
	return list, nil
}

// parseLine は1行分のCSVレコードを解析する。
func parseLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	return reader.Read()
}

type yamlFeed struct {
	URL string `yaml:"url"`
}

type yamlDocument struct {
	Feeds []yamlFeed `yaml:"feeds"`
}

// ReadYAML はYAML形式のフィード一覧を読み込む。
func ReadYAML(r io.Reader) (List, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return List{}, fmt.Errorf("failed to read feed list: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	var list List

	var urls []string
	if err := yaml.Unmarshal(data, &urls); err == nil {
		for i, u := range urls {
			list.add(strings.TrimSpace(u), i+1)
		}
		return list, nil
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return List{}, fmt.Errorf("failed to parse feed list YAML: %w", err)
	}
	for i, feed := range doc.Feeds {
		list.add(strings.TrimSpace(feed.URL), i+1)
	}
	return list, nil
}

// add はURLを追加する。空の場合はスキップとして記録する。
// YAMLではLineに要素の通し番号を入れる。
func (l *List) add(url string, index int) {
	if url == "" {
		l.Skipped = append(l.Skipped, SkippedRow{Line: index, Reason: "empty url"})
		return
	}
	l.URLs = append(l.URLs, url)
}
