// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はユーザーが入力した表示名などのプレーンテキストから
// HTMLタグを取り除く。bluemondayのStrictPolicyを使用する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェースを定義する。
// ユーザー登録時の表示名の保存前に使用される。
type TextSanitizerService interface {
	// SanitizeText はすべてのHTMLタグを除去し、制御文字を取り除いて前後の空白を詰める。
	// エンティティはデコードした文字で返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はプレーンテキストをサニタイズする。
func (s *textSanitizer) SanitizeText(raw string) string {
	// デコードで新たにタグが現れる場合があるため、変化しなくなるまで繰り返す
	stripped := raw
	for i := 0; i < 3; i++ {
		next := html.UnescapeString(s.policy.Sanitize(stripped))
		if next == stripped {
			break
		}
		stripped = next
	}
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}
