package calsync

import (
	"context"
	"log/slog"

	"github.com/hitoshi/worklog/internal/model"
)

// LoggingEntryCreator はエントリストア未接続時の既定のEntryCreator実装。
// 外部のエントリストアは別システムであるため、ここでは作成されるはずの
// 下書きをログへ記録するのみで成功を返す。
type LoggingEntryCreator struct {
	logger *slog.Logger
}

// NewLoggingEntryCreator はLoggingEntryCreatorを生成する。
func NewLoggingEntryCreator(logger *slog.Logger) *LoggingEntryCreator {
	return &LoggingEntryCreator{logger: logger}
}

// CreateEntry は下書きの内容をログへ記録する。
func (c *LoggingEntryCreator) CreateEntry(ctx context.Context, draft model.EntryDraft) error {
	c.logger.Info("エントリ下書きを作成しました（外部ストア未接続）",
		slog.String("type", draft.Type),
		slog.String("project", draft.Project),
		slog.String("source_event_id", draft.Metadata.SourceEventID),
		slog.String("provider", string(draft.Metadata.Provider)),
	)
	return nil
}

var _ EntryCreator = (*LoggingEntryCreator)(nil)
