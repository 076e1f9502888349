// Package parser は生成 AI の応答から構造化データを取り出し、スキーマに沿って検証します。
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shouni/go-utils/text"
)

var (
	// jsonBlockRegex は ```json ... ``` 形式のコードブロックをキャプチャします。
	jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*\\S)\\s*```")

	// trailingCommaRegex は閉じ括弧直前の余分なカンマを検出します。
	trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON は応答テキストから JSON オブジェクト部分のみを取り出します。
// コードブロック、最も外側の {...}、応答全体の順に試します。
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		raw = strings.TrimSpace(matches[1])
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		raw = raw[first : last+1]
	}

	return trailingCommaRegex.ReplaceAllString(raw, "$1")
}

// truncateString は文字単位で切り詰めます。
func truncateString(s string, maxLen int) string {
	return text.Truncate(s, maxLen, "...")
}

// flexInt は数値と数値文字列のどちらも受け付ける整数です。
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*n = 0
		return nil
	}
	var v json.Number
	if err := json.Unmarshal(b, &v); err == nil {
		i, err := strconv.Atoi(v.String())
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return err
			}
			i = int(f)
		}
		*n = flexInt(i)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	i, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return err
	}
	*n = flexInt(i)
	return nil
}

// flexStrings は文字列配列と単一の文字列のどちらも受け付けます。
type flexStrings []string

func (fs *flexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*fs = list
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	var out []string
	for _, p := range strings.Split(single, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*fs = out
	return nil
}
