package security

import "testing"

var _ DescriptionSanitizerService = (*descriptionSanitizer)(nil)

// TestSanitize_StripsHTML はHTMLタグが除去されることをテストする。
func TestSanitize_StripsHTML(t *testing.T) {
	s := NewDescriptionSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "週次定例の議題", "週次定例の議題"},
		{"空文字列", "", ""},
		{"タグ除去", "<p>議題は<strong>予算</strong>です</p>", "議題は予算です"},
		{"scriptタグ除去", `<script>alert("x")</script>資料リンク`, "資料リンク"},
		{"前後の空白を除去", "  <br>メモ  ", "メモ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力を返すことをテストする。
func TestSanitize_Idempotent(t *testing.T) {
	s := NewDescriptionSanitizer()

	input := "<div>会議の<em>準備</em>をする</div>"
	first := s.Sanitize(input)
	second := s.Sanitize(first)

	if first != second {
		t.Errorf("サニタイズが冪等でない: first=%q second=%q", first, second)
	}
}
