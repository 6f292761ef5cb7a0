// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength はサニタイズ後に保持する最大文字数（rune数）。
const MaxTextLength = 200

// TextSanitizer はクライアント名や支払いメモなど、ユーザー入力のプレーンテキストを無害化する。
// bluemondayのStrictPolicyで全てのタグを除去し、エンティティを元の文字に戻した上で
// 空白を1つにまとめる。モバイルアプリとWeb管理画面のどちらで表示しても安全な文字列を返す。
type TextSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: MaxTextLength,
	}
}

// SanitizeText はタグを除去し正規化したテキストを返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	text := strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(text) > s.maxLen {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:s.maxLen]))
	}
	return text
}
