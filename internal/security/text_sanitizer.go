package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のプレーンテキストからHTMLを除去する。
// bluemondayのStrictPolicyを使い、タグをすべて取り除いた上でエンティティを戻す。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去し、前後の空白を取り除いたテキストを返す。
func (s *TextSanitizer) Clean(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
