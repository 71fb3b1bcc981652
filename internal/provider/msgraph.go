package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/hitoshi/worklog/internal/model"
)

const (
	// defaultGraphEndpoint はMicrosoft Graph APIのベースURL。
	defaultGraphEndpoint = "https://graph.microsoft.com/v1.0"
	// graphPageSize は1ページあたりの取得イベント数。
	graphPageSize = 100
)

// MSGraphClient はMicrosoft Graph APIのイベント取得クライアント。
// /me/calendarView エンドポイントで指定期間のイベントを取得する。
// 繰り返しイベントはcalendarViewにより個別のインスタンスに展開される。
type MSGraphClient struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	logger      *slog.Logger
	endpoint    string // テスト用にエンドポイントを差し替え可能
}

// NewMSGraphClient はMSGraphClientの新しいインスタンスを生成する。
func NewMSGraphClient(clientID, clientSecret, tenant string, httpClient *http.Client, logger *slog.Logger) *MSGraphClient {
	if tenant == "" {
		tenant = "common"
	}
	return &MSGraphClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"offline_access", "Calendars.Read"},
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultGraphEndpoint,
	}
}

// Provider はこのクライアントが担当するプロバイダー種別を返す。
func (c *MSGraphClient) Provider() model.Provider {
	return model.ProviderMicrosoft
}

// graphEventsResponse は/me/calendarViewのレスポンス。
type graphEventsResponse struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

// graphEvent はGraph APIのイベント表現。
type graphEvent struct {
	ID          string         `json:"id"`
	Subject     string         `json:"subject"`
	BodyPreview string         `json:"bodyPreview"`
	IsAllDay    bool           `json:"isAllDay"`
	IsCancelled bool           `json:"isCancelled"`
	Start       graphDateTime  `json:"start"`
	End         graphDateTime  `json:"end"`
	Location    graphLocation  `json:"location"`
	Attendees   []graphAttende `json:"attendees"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphAttende struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// ListEvents は指定期間のイベントを取得する。
// Preferヘッダーで時刻をUTCに正規化させる。@odata.nextLinkを辿って全ページを取得する。
func (c *MSGraphClient) ListEvents(ctx context.Context, account model.CalendarAccount, start, end time.Time) ([]model.CalendarEvent, error) {
	accessToken, err := c.accessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/me/calendarView?%s", c.endpoint, url.Values{
		"startDateTime": []string{start.UTC().Format(time.RFC3339)},
		"endDateTime":   []string{end.UTC().Format(time.RFC3339)},
		"$top":          []string{fmt.Sprintf("%d", graphPageSize)},
		"$orderby":      []string{"start/dateTime"},
	}.Encode())

	var events []model.CalendarEvent
	for reqURL != "" {
		page, err := c.fetchPage(ctx, reqURL, accessToken)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Value {
			if item.IsCancelled {
				continue
			}
			event, err := convertGraphEvent(item)
			if err != nil {
				c.logger.Warn("イベントの変換に失敗したためスキップします",
					slog.String("event_id", item.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			events = append(events, event)
		}

		reqURL = page.NextLink
	}

	return events, nil
}

// fetchPage は1ページ分のイベントを取得する。
func (c *MSGraphClient) fetchPage(ctx context.Context, reqURL, accessToken string) (*graphEventsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Microsoft Graph APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Microsoft Graph APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("calendar fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var page graphEventsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse calendar response: %w", err)
	}
	return &page, nil
}

// accessToken はアカウントのトークンを返す。リフレッシュトークンがある場合は
// 期限切れ扱いにして更新を強制し、常に有効なアクセストークンを得る。
func (c *MSGraphClient) accessToken(ctx context.Context, account model.CalendarAccount) (string, error) {
	if account.RefreshToken == "" {
		return account.AccessToken, nil
	}

	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	refreshed, err := c.oauthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	return refreshed.AccessToken, nil
}

// graphTimeLayout はGraphのdateTime形式。タイムゾーンオフセットを含まず、
// PreferヘッダーによりUTCで返される。
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

// convertGraphEvent はAPIレスポンスのイベントを内部表現に変換する。
func convertGraphEvent(item graphEvent) (model.CalendarEvent, error) {
	start, err := time.Parse(graphTimeLayout, item.Start.DateTime)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(graphTimeLayout, item.End.DateTime)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("invalid end time: %w", err)
	}

	attendees := make([]string, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		if a.EmailAddress.Address != "" {
			attendees = append(attendees, a.EmailAddress.Address)
		}
	}

	return model.CalendarEvent{
		ID:          item.ID,
		Title:       item.Subject,
		Start:       start.UTC(),
		End:         end.UTC(),
		Description: item.BodyPreview,
		Location:    item.Location.DisplayName,
		Attendees:   attendees,
		AllDay:      item.IsAllDay,
	}, nil
}
