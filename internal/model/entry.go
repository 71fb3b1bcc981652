// Package model はドメインモデルを定義する。
package model

// EntryMetadata はカレンダーイベント由来のエントリに付与されるメタデータ。
type EntryMetadata struct {
	SourceEventID   string        `json:"source_event_id"`
	Provider        Provider      `json:"provider"`
	Location        string        `json:"location"`
	DurationMinutes int           `json:"duration_minutes"`
	Raw             CalendarEvent `json:"raw"`
}

// EntryDraft はエントリストア（外部コラボレーター）へ渡す下書きを表す。
// EventConverterが生成する。永続化はこのコアの責務ではない。
type EntryDraft struct {
	Type     string        `json:"type"`
	Content  string        `json:"content"`
	Project  string        `json:"project"`
	Tags     []string      `json:"tags"`
	People   []string      `json:"people"`
	Metadata EntryMetadata `json:"metadata"`
}
