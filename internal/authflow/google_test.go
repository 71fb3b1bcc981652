package authflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/worklog/internal/model"
)

// TestGoogleProvider_Configured はクライアントID有無の判定をテストする。
func TestGoogleProvider_Configured(t *testing.T) {
	if p := NewGoogleProvider("", "", "http://localhost/cb"); p.Configured() {
		t.Error("クライアントID未設定ではConfigured() = false のはず")
	}
	if p := NewGoogleProvider("client-id", "secret", "http://localhost/cb"); !p.Configured() {
		t.Error("クライアントID設定済みではConfigured() = true のはず")
	}
}

// TestGoogleProvider_AuthCodeURL は認可URLのパラメータをテストする。
// リフレッシュトークンの取得にはaccess_type=offlineとprompt=consentが必要。
func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "secret", "http://localhost:8080/auth/calendar/google/callback")

	rawURL := p.AuthCodeURL("state-123")
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("認可URLのパースに失敗: %v", err)
	}

	q := parsed.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", q.Get("prompt"))
	}
	if !strings.Contains(q.Get("scope"), "calendar.readonly") {
		t.Errorf("scope = %q にcalendar.readonlyが含まれるべき", q.Get("scope"))
	}
}

// TestGoogleProvider_FetchProfile はユーザー情報の取得をテストする。
func TestGoogleProvider_FetchProfile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email": "user@example.com", "name": "Test User"}`))
	}))
	defer ts.Close()

	p := NewGoogleProvider("client-id", "secret", "http://localhost/cb")
	p.userInfoURL = ts.URL

	profile, err := p.FetchProfile(context.Background(), "test-token")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if profile.Email != "user@example.com" {
		t.Errorf("Email = %q", profile.Email)
	}
	if profile.Name != "Test User" {
		t.Errorf("Name = %q", profile.Name)
	}
}

// TestGoogleProvider_FetchProfile_ErrorStatus はAPIエラー時の失敗をテストする。
func TestGoogleProvider_FetchProfile_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	p := NewGoogleProvider("client-id", "secret", "http://localhost/cb")
	p.userInfoURL = ts.URL

	if _, err := p.FetchProfile(context.Background(), "bad-token"); err == nil {
		t.Error("エラーステータスでerrorを返すべき")
	}
}

// TestGoogleProvider_Name はプロバイダー種別をテストする。
func TestGoogleProvider_Name(t *testing.T) {
	p := NewGoogleProvider("id", "secret", "http://localhost/cb")
	if p.Name() != model.ProviderGoogle {
		t.Errorf("Name() = %q", p.Name())
	}
}
