// Package provider は各カレンダープロバイダーのイベント取得クライアントを提供する。
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/hitoshi/worklog/internal/model"
)

// googleCalendarScope はイベント読み取りに必要なスコープ。
const googleCalendarScope = "https://www.googleapis.com/auth/calendar.readonly"

// maxEventsPerPage は1ページあたりの取得イベント数。
const maxEventsPerPage = 250

// GoogleClient はGoogleカレンダーAPIのイベント取得クライアント。
// アカウントに保存されたリフレッシュトークンでアクセストークンを更新する。
type GoogleClient struct {
	oauthConfig *oauth2.Config
	logger      *slog.Logger

	// endpoint はテスト用にAPIエンドポイントを差し替え可能。空の場合は本番エンドポイント。
	endpoint string
}

// NewGoogleClient はGoogleClientの新しいインスタンスを生成する。
func NewGoogleClient(clientID, clientSecret string, logger *slog.Logger) *GoogleClient {
	return &GoogleClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{googleCalendarScope},
			Endpoint:     google.Endpoint,
		},
		logger: logger,
	}
}

// Provider はこのクライアントが担当するプロバイダー種別を返す。
func (c *GoogleClient) Provider() model.Provider {
	return model.ProviderGoogle
}

// ListEvents は指定期間のイベントを取得する。
// 繰り返しイベントは個別のインスタンスに展開され、開始時刻の昇順で返される。
// キャンセル済みイベントは除外する。
func (c *GoogleClient) ListEvents(ctx context.Context, account model.CalendarAccount, start, end time.Time) ([]model.CalendarEvent, error) {
	svc, err := c.newService(ctx, account)
	if err != nil {
		return nil, err
	}

	calendarID := account.CalendarRef
	if calendarID == "" {
		calendarID = "primary"
	}

	var events []model.CalendarEvent
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			MaxResults(maxEventsPerPage).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list google calendar events: %w", err)
		}

		for _, item := range resp.Items {
			if item.Status == "cancelled" {
				continue
			}
			event, err := convertGoogleEvent(item)
			if err != nil {
				c.logger.Warn("イベントの変換に失敗したためスキップします",
					slog.String("event_id", item.Id),
					slog.String("error", err.Error()),
				)
				continue
			}
			events = append(events, event)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return events, nil
}

// newService はアカウントのトークンを使ってカレンダーAPIサービスを生成する。
func (c *GoogleClient) newService(ctx context.Context, account model.CalendarAccount) (*calendar.Service, error) {
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}
	if account.RefreshToken != "" {
		// 期限切れ扱いにすることでTokenSourceがリフレッシュトークンで更新する
		token.Expiry = time.Now().Add(-time.Minute)
	}

	opts := []option.ClientOption{
		option.WithTokenSource(c.oauthConfig.TokenSource(ctx, token)),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google calendar service: %w", err)
	}
	return svc, nil
}

// convertGoogleEvent はAPIレスポンスのイベントを内部表現に変換する。
// 終日イベントはStart.Dateのみが設定される（DateTimeは空）。
func convertGoogleEvent(item *calendar.Event) (model.CalendarEvent, error) {
	allDay := item.Start != nil && item.Start.Date != ""

	start, err := parseGoogleTime(item.Start)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := parseGoogleTime(item.End)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("invalid end time: %w", err)
	}

	attendees := make([]string, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		if a.Email != "" {
			attendees = append(attendees, a.Email)
		}
	}

	return model.CalendarEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Start:       start,
		End:         end,
		Description: item.Description,
		Location:    item.Location,
		Attendees:   attendees,
		AllDay:      allDay,
	}, nil
}

// parseGoogleTime はイベント時刻をパースする。
// 通常イベントはDateTime（RFC3339）、終日イベントはDate（YYYY-MM-DD）を持つ。
func parseGoogleTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, fmt.Errorf("missing event time")
	}
	if edt.DateTime != "" {
		return time.Parse(time.RFC3339, edt.DateTime)
	}
	if edt.Date != "" {
		return time.Parse("2006-01-02", edt.Date)
	}
	return time.Time{}, fmt.Errorf("event time has neither dateTime nor date")
}
