package calsync

import (
	"strings"

	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/security"
)

const (
	entryType    = "Meeting"
	entryProject = "Calendar Sync"
)

// EventConverter はカレンダーイベントを作業ログのエントリ下書きに変換する。
// 変換は純粋で、同一イベントからは常に同一の下書きが生成される（冪等）。
type EventConverter struct {
	sanitizer security.DescriptionSanitizerService
}

// NewEventConverter はEventConverterの新しいインスタンスを生成する。
func NewEventConverter(sanitizer security.DescriptionSanitizerService) *EventConverter {
	return &EventConverter{sanitizer: sanitizer}
}

// ToEntry はイベントをエントリ下書きに変換する。
// 説明文はHTMLを除去したプレーンテキストとして本文に付与される。
// 所要時間は終了と開始の差から分単位で算出する（ゼロ分も許容する）。
func (c *EventConverter) ToEntry(event model.CalendarEvent) model.EntryDraft {
	content := event.Title
	if desc := c.sanitizer.Sanitize(event.Description); desc != "" {
		content = content + "\n" + desc
	}

	people := make([]string, len(event.Attendees))
	copy(people, event.Attendees)

	return model.EntryDraft{
		Type:    entryType,
		Content: strings.TrimSpace(content),
		Project: entryProject,
		Tags: []string{
			string(event.SourceProvider),
			"calendar",
			"meeting",
		},
		People: people,
		Metadata: model.EntryMetadata{
			SourceEventID:   event.ID,
			Provider:        event.SourceProvider,
			Location:        event.Location,
			DurationMinutes: int(event.End.Sub(event.Start).Minutes()),
			Raw:             event,
		},
	}
}
