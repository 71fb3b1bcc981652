package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizerService はイベント本文のサニタイズ機能のインターフェースを定義する。
// プロバイダーから取得したイベントの説明文は（特にGoogleカレンダーの場合）
// HTMLを含むことがあるため、作業ログに載せる前にプレーンテキスト化する。
type DescriptionSanitizerService interface {
	// Sanitize はイベントの説明文から全てのHTMLタグを除去してプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerServiceの実装。
// bluemondayの厳格ポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerServiceの新しいインスタンスを生成する。
// 全てのタグを除去する厳格ポリシーを使用する。script, iframe, style および
// on*イベント属性は全て除去される。
func NewDescriptionSanitizer() *descriptionSanitizer {
	return &descriptionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はイベントの説明文をサニタイズしてプレーンテキストを返す。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
