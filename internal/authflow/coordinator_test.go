package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/registry"
)

// --- モック定義 ---

// mockAccountRegistry はAccountRegistryのテスト用モック。
type mockAccountRegistry struct {
	mu       sync.Mutex
	addCalls int
	accounts []model.CalendarAccount

	addAccountFn func(ctx context.Context, bundle registry.AccountBundle) (*model.CalendarAccount, error)
}

func (m *mockAccountRegistry) AddAccount(ctx context.Context, bundle registry.AccountBundle) (*model.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++

	if m.addAccountFn != nil {
		return m.addAccountFn(ctx, bundle)
	}

	acc := model.CalendarAccount{
		ID:          "acc-1",
		Provider:    bundle.Provider,
		DisplayName: bundle.DisplayName,
		Email:       bundle.Email,
		Enabled:     true,
	}
	m.accounts = append(m.accounts, acc)
	return &acc, nil
}

func (m *mockAccountRegistry) ListAccounts(ctx context.Context) ([]model.CalendarAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CalendarAccount, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *mockAccountRegistry) addCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls
}

// mockProvider はOAuthProviderのテスト用モック。
type mockProvider struct {
	name       model.Provider
	configured bool

	exchangeFn     func(ctx context.Context, code string) (*TokenBundle, error)
	fetchProfileFn func(ctx context.Context, accessToken string) (*Profile, error)
}

func (m *mockProvider) Name() model.Provider { return m.name }
func (m *mockProvider) Configured() bool     { return m.configured }

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*TokenBundle, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &TokenBundle{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, accessToken)
	}
	return &Profile{Email: "user@example.com", Name: "Test User"}, nil
}

var _ OAuthProvider = (*mockProvider)(nil)

// --- テストヘルパー ---

func newTestCoordinator(reg AccountRegistry, timeout time.Duration) (*Coordinator, *Dispatcher) {
	d := NewDispatcher(newTestLogger())
	providers := []OAuthProvider{
		&mockProvider{name: model.ProviderGoogle, configured: true},
		&mockProvider{name: model.ProviderMicrosoft, configured: true},
	}
	c := NewCoordinator(d, reg, providers, nil, newTestLogger(), CoordinatorConfig{
		FlowTimeout: timeout,
		OpenBrowser: false,
	})
	return c, d
}

func successMessage(provider model.Provider, email string) *AuthMessage {
	msg := NewAuthMessage(provider, MessageSuccess)
	msg.AccessToken = "access"
	msg.RefreshToken = "refresh"
	msg.Email = email
	msg.Name = "Test User"
	return msg
}

// --- テスト ---

// クライアントID未設定のプロバイダーはウィンドウを開く前に失敗することを検証
func TestInitiate_UnconfiguredProvider(t *testing.T) {
	d := NewDispatcher(newTestLogger())
	providers := []OAuthProvider{
		&mockProvider{name: model.ProviderGoogle, configured: false},
	}
	c := NewCoordinator(d, &mockAccountRegistry{}, providers, nil, newTestLogger(), CoordinatorConfig{})

	_, err := c.Initiate(context.Background(), model.ProviderGoogle)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCalendarConfigMissing {
		t.Errorf("エラーコード = %v, want CALENDAR_CONFIG_MISSING", err)
	}
}

// サポート外プロバイダーの指定が拒否されることを検証
func TestInitiate_InvalidProvider(t *testing.T) {
	c, _ := newTestCoordinator(&mockAccountRegistry{}, time.Minute)

	_, err := c.Initiate(context.Background(), model.Provider("yahoo"))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidProvider {
		t.Errorf("エラーコード = %v, want INVALID_PROVIDER", err)
	}
}

// 成功メッセージでWaitがアカウントを返すことを検証
func TestWait_SuccessMessageAddsAccount(t *testing.T) {
	ctx := context.Background()
	reg := &mockAccountRegistry{}
	c, d := newTestCoordinator(reg, time.Minute)

	pending, err := c.Initiate(ctx, model.ProviderGoogle)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if pending.AuthURL() == "" {
		t.Error("AuthURLが空であってはならない")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Publish(successMessage(model.ProviderGoogle, "user@example.com"))
	}()

	account, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if account.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", account.Email, "user@example.com")
	}
	if reg.addCallCount() != 1 {
		t.Errorf("AddAccount呼び出し回数 = %d, want 1", reg.addCallCount())
	}
}

// 同一メッセージをグローバルリスナーと呼び出しスコープのリスナーの両方が
// 受信しても、アカウント登録がちょうど1回だけ起きることを検証
func TestDualListener_ExactlyOneAccountAdded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := &mockAccountRegistry{}
	c, d := newTestCoordinator(reg, time.Minute)

	// プロセス全体リスナーを起動
	c.StartGlobalListener(ctx)

	pending, err := c.Initiate(ctx, model.ProviderGoogle)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		delivered := d.Publish(successMessage(model.ProviderGoogle, "user@example.com"))
		if delivered != 2 {
			t.Errorf("配信数 = %d, want 2（グローバル+呼び出しスコープ）", delivered)
		}
	}()

	account, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if account == nil {
		t.Fatal("アカウントが返されるべき")
	}

	// グローバルリスナーの処理完了を待ってから回数を確認
	time.Sleep(50 * time.Millisecond)
	if got := reg.addCallCount(); got != 1 {
		t.Errorf("AddAccount呼び出し回数 = %d, want 1", got)
	}
}

// エラーメッセージでAUTH_DENIEDが返ることを検証
func TestWait_ErrorMessageReturnsAuthDenied(t *testing.T) {
	ctx := context.Background()
	reg := &mockAccountRegistry{}
	c, d := newTestCoordinator(reg, time.Minute)

	pending, _ := c.Initiate(ctx, model.ProviderMicrosoft)

	go func() {
		msg := NewAuthMessage(model.ProviderMicrosoft, MessageError)
		msg.ErrorReason = "access_denied"
		d.Publish(msg)
	}()

	_, err := pending.Wait(ctx)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAuthDenied {
		t.Errorf("エラーコード = %v, want AUTH_DENIED", err)
	}
	if reg.addCallCount() != 0 {
		t.Error("エラーメッセージでアカウントが登録されてはならない")
	}
}

// メッセージが到着しない場合にAUTH_TIMEOUTで失敗することを検証
func TestWait_Timeout(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(&mockAccountRegistry{}, 20*time.Millisecond)

	pending, _ := c.Initiate(ctx, model.ProviderGoogle)

	_, err := pending.Wait(ctx)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAuthTimeout {
		t.Errorf("エラーコード = %v, want AUTH_TIMEOUT", err)
	}
}

// 重複アカウントのエラーがWaitへ伝播することを検証
func TestWait_DuplicateAccountPropagates(t *testing.T) {
	ctx := context.Background()
	reg := &mockAccountRegistry{
		addAccountFn: func(ctx context.Context, bundle registry.AccountBundle) (*model.CalendarAccount, error) {
			return nil, model.NewDuplicateAccountError(bundle.Provider, bundle.Email)
		},
	}
	c, d := newTestCoordinator(reg, time.Minute)

	pending, _ := c.Initiate(ctx, model.ProviderGoogle)

	go func() {
		d.Publish(successMessage(model.ProviderGoogle, "a@x.com"))
	}()

	_, err := pending.Wait(ctx)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDuplicateAccount {
		t.Errorf("エラーコード = %v, want DUPLICATE_ACCOUNT", err)
	}
}

// CancelがリスナーをデタッチしAddAccountが起きないことを検証
func TestCancel_DetachesListener(t *testing.T) {
	ctx := context.Background()
	reg := &mockAccountRegistry{}
	c, d := newTestCoordinator(reg, time.Minute)

	pending, _ := c.Initiate(ctx, model.ProviderGoogle)
	pending.Cancel()

	delivered := d.Publish(successMessage(model.ProviderGoogle, "user@example.com"))
	if delivered != 0 {
		t.Errorf("配信数 = %d, want 0", delivered)
	}
	if reg.addCallCount() != 0 {
		t.Error("キャンセル後にアカウントが登録されてはならない")
	}
}

// HandleCallbackが発行済みでないstateを拒否することを検証
func TestHandleCallback_InvalidState(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(&mockAccountRegistry{}, time.Minute)

	err := c.HandleCallback(ctx, model.ProviderGoogle, "code", "forged-state", "")
	if err == nil {
		t.Error("未発行のstateは拒否されるべき")
	}
}

// HandleCallbackが正しいstateでフロー全体を完了させることを検証
func TestHandleCallback_CompletesFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := &mockAccountRegistry{}
	c, _ := newTestCoordinator(reg, time.Minute)
	c.StartGlobalListener(ctx)

	pending, err := c.Initiate(ctx, model.ProviderGoogle)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	// AuthURLからstateを抽出せず、コールバック側でstateを検証するため
	// Initiateが記録したstateを直接使う
	c.mu.Lock()
	var state string
	for s := range c.states {
		state = s
	}
	c.mu.Unlock()

	go func() {
		if err := c.HandleCallback(ctx, model.ProviderGoogle, "auth-code", state, ""); err != nil {
			t.Errorf("HandleCallback() error = %v", err)
		}
	}()

	account, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if account.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", account.Email, "user@example.com")
	}
}

// プロバイダーのエラーパラメータがAUTH_DENIEDとして配信されることを検証
func TestHandleCallback_ErrorParam(t *testing.T) {
	ctx := context.Background()
	reg := &mockAccountRegistry{}
	c, _ := newTestCoordinator(reg, time.Minute)

	pending, _ := c.Initiate(ctx, model.ProviderGoogle)

	c.mu.Lock()
	var state string
	for s := range c.states {
		state = s
	}
	c.mu.Unlock()

	go func() {
		if err := c.HandleCallback(ctx, model.ProviderGoogle, "", state, "access_denied"); err != nil {
			t.Errorf("HandleCallback() error = %v", err)
		}
	}()

	_, err := pending.Wait(ctx)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAuthDenied {
		t.Errorf("エラーコード = %v, want AUTH_DENIED", err)
	}
}
