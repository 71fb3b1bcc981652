package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    2,
		SyncRate:        rate.Limit(1),
		SyncBurst:       1,
		CleanupInterval: time.Minute,
	}
}

func doRequest(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestGeneralMiddleware_AllowsWithinBurst はバースト内のリクエストが通ることをテストする。
func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		if rec := doRequest(handler, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Errorf("リクエスト%d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

// TestGeneralMiddleware_BlocksOverBurst はバースト超過で429を返すことをテストする。
func TestGeneralMiddleware_BlocksOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest(handler, "10.0.0.1:1234")
	doRequest(handler, "10.0.0.1:1234")
	rec := doRequest(handler, "10.0.0.1:1234")

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されるべき")
	}
}

// TestGeneralMiddleware_IsolatesClients はIPごとに独立してカウントされることをテストする。
func TestGeneralMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest(handler, "10.0.0.1:1234")
	doRequest(handler, "10.0.0.1:1234")
	doRequest(handler, "10.0.0.1:1234") // 枯渇

	if rec := doRequest(handler, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("別IPのstatus = %d, want 200", rec.Code)
	}

	if count := rl.GeneralLimiterCount(); count != 2 {
		t.Errorf("リミッター数 = %d, want 2", count)
	}
}

// TestSyncMiddleware_IndependentBucket は同期用の制限が全般とは独立であることをテストする。
func TestSyncMiddleware_IndependentBucket(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	general := rl.GeneralMiddleware()(ok)
	sync := rl.SyncMiddleware()(ok)

	// 同期バケット（burst=1）を枯渇させる
	doRequest(sync, "10.0.0.1:1234")
	if rec := doRequest(sync, "10.0.0.1:1234"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("同期2回目のstatus = %d, want 429", rec.Code)
	}

	// 全般バケットは影響を受けない
	if rec := doRequest(general, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("全般のstatus = %d, want 200", rec.Code)
	}
}

// TestCleanup は期限切れエントリが削除されることをテストする。
func TestCleanup(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	doRequest(handler, "10.0.0.1:1234")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("期限切れエントリが削除されていない")
}
