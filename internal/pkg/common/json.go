package common

import (
	"errors"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// ErrNoJSONObject 模型輸出中找不到合法的 JSON 物件
var ErrNoJSONObject = errors.New("no well-formed JSON object in text")

// ParseJSON 解析 JSON 字符串到結構體
func ParseJSON(data string, v interface{}) error {
	return json.Unmarshal([]byte(data), v)
}

// ParseJSONBytes 解析 JSON 位元組切片到結構體
func ParseJSONBytes(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

var unquotedKeyPattern = regexp.MustCompile(`([{\[,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

// QuoteJSONKeys 將未加雙引號的鍵補上雙引號
func QuoteJSONKeys(raw string) string {
	return unquotedKeyPattern.ReplaceAllString(raw, `$1"$2":`)
}

// ExtractJSONObject 從模型回應中取出第一個完整且合法的 JSON 物件
// 可容忍 markdown 區塊與前後說明文字；字串內的大括號不計入層級
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchBrace(text, start)
		if end > start {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
			if quoted := QuoteJSONKeys(candidate); json.Valid([]byte(quoted)) {
				return quoted, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONObject
}

// matchBrace 回傳與 text[start] 對應的右大括號位置，找不到時回傳 -1
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
