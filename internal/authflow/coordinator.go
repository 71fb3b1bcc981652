package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/worklog/internal/model"
	"github.com/hitoshi/worklog/internal/registry"
)

// defaultFlowTimeout は認証フローの既定タイムアウト。
const defaultFlowTimeout = 5 * time.Minute

// AccountRegistry はコーディネーターが必要とするレジストリ操作のインターフェース。
type AccountRegistry interface {
	AddAccount(ctx context.Context, bundle registry.AccountBundle) (*model.CalendarAccount, error)
	ListAccounts(ctx context.Context) ([]model.CalendarAccount, error)
}

// AuthMetrics は認証フローの結果を記録するインターフェース。
type AuthMetrics interface {
	RecordAuthOutcome(provider string, outcome string)
}

// CoordinatorConfig はCoordinatorの設定。
type CoordinatorConfig struct {
	// FlowTimeout はメッセージ到着を待つ上限。0以下の場合は5分。
	FlowTimeout time.Duration
	// OpenBrowser がtrueの場合、Initiateは認可URLをシステムブラウザで開く。
	OpenBrowser bool
}

// Coordinator はプロバイダーごとの対話的な認可コードフローを駆動する。
//
// フローの完了はディスパッチャ経由のメッセージ到着のみで判定する。
// ブラウザウィンドウの状態は一切参照しない。成功メッセージの業務効果
// （アカウント登録）は、プロセス全体リスナーと呼び出しスコープのリスナーの
// どちらが先に処理しても、メッセージの処理済みマーカーにより最大1回となる。
type Coordinator struct {
	dispatcher *Dispatcher
	accounts   AccountRegistry
	providers  map[model.Provider]OAuthProvider
	metrics    AuthMetrics
	logger     *slog.Logger
	config     CoordinatorConfig

	mu     sync.Mutex
	states map[string]issuedState
}

// issuedState は発行済みのOAuth state（CSRF対策）を表す。
type issuedState struct {
	provider model.Provider
	issuedAt time.Time
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(
	dispatcher *Dispatcher,
	accounts AccountRegistry,
	providers []OAuthProvider,
	metrics AuthMetrics,
	logger *slog.Logger,
	config CoordinatorConfig,
) *Coordinator {
	if config.FlowTimeout <= 0 {
		config.FlowTimeout = defaultFlowTimeout
	}

	providerMap := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		providerMap[p.Name()] = p
	}

	return &Coordinator{
		dispatcher: dispatcher,
		accounts:   accounts,
		providers:  providerMap,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		states:     make(map[string]issuedState),
	}
}

// PendingAuth は進行中の認証フローを表す。
// Waitで完了を待機するか、Cancelでリスナーをデタッチする。
type PendingAuth struct {
	provider model.Provider
	authURL  string
	sub      *Subscription
	coord    *Coordinator
}

// AuthURL はユーザーに提示する認可URLを返す。
func (p *PendingAuth) AuthURL() string {
	return p.authURL
}

// Wait はメッセージ到着またはタイムアウトまで待機する。
// タイムアウト時はリスナーをデタッチしてAUTH_TIMEOUTを返す。ブラウザの
// ウィンドウは閉じない（ユーザーが手動で閉じる）。
func (p *PendingAuth) Wait(ctx context.Context) (*model.CalendarAccount, error) {
	defer p.coord.dispatcher.Unsubscribe(p.sub)

	timer := time.NewTimer(p.coord.config.FlowTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		p.coord.logger.Warn("認証フローがタイムアウトしました",
			slog.String("provider", string(p.provider)),
		)
		p.coord.recordOutcome(p.provider, "timeout")
		return nil, model.NewAuthTimeoutError(p.provider)
	case msg := <-p.sub.C:
		// プロセス全体リスナーが先に処理済みの場合、handleMessageは何もしない。
		// どちらが処理してもAwaitで同一の結果を観測する。
		p.coord.handleMessage(ctx, msg)
		return msg.Await(ctx)
	}
}

// Cancel はリスナーをデタッチする。部分的な効果は残らない。
// 成功メッセージが完全に処理されない限りアカウントは登録されない。
func (p *PendingAuth) Cancel() {
	p.coord.dispatcher.Unsubscribe(p.sub)
}

// Initiate は指定プロバイダーの認証フローを1つ開始する。
// クライアントID未設定の場合はウィンドウを開く前にCALENDAR_CONFIG_MISSINGで失敗する。
// 複数プロバイダーのフローは同時に進行できる（それぞれが独自の購読を持つ）。
func (c *Coordinator) Initiate(ctx context.Context, provider model.Provider) (*PendingAuth, error) {
	prov, ok := c.providers[provider]
	if !ok {
		return nil, model.NewInvalidProviderError(string(provider))
	}
	if !prov.Configured() {
		return nil, model.NewCalendarConfigMissingError(provider)
	}

	state := uuid.New().String()
	c.recordState(state, provider)

	authURL := prov.AuthCodeURL(state)
	sub := c.dispatcher.Subscribe(provider)

	if c.config.OpenBrowser {
		if err := OpenBrowser(authURL); err != nil {
			c.logger.Warn("ブラウザの起動に失敗しました。URLを手動で開いてください",
				slog.String("provider", string(provider)),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("認証フローを開始しました",
		slog.String("provider", string(provider)),
	)

	return &PendingAuth{
		provider: provider,
		authURL:  authURL,
		sub:      sub,
		coord:    c,
	}, nil
}

// InitiateDetached は呼び出しスコープのリスナーを持たずに認証フローを開始し、
// 認可URLのみを返す。フローの完了はプロセス全体リスナーが処理する。
// HTTP API経由の連携開始で使用する（リクエストは完了を待たずに返る）。
func (c *Coordinator) InitiateDetached(ctx context.Context, provider model.Provider) (string, error) {
	pending, err := c.Initiate(ctx, provider)
	if err != nil {
		return "", err
	}
	pending.Cancel()
	return pending.AuthURL(), nil
}

// HandleCallback はOAuthリダイレクトを処理し、結果をディスパッチャへ配信する。
// stateが発行済みでない場合はエラーを返す（メッセージは配信されない）。
func (c *Coordinator) HandleCallback(ctx context.Context, provider model.Provider, code, state, errParam string) error {
	prov, ok := c.providers[provider]
	if !ok {
		return model.NewInvalidProviderError(string(provider))
	}

	if !c.consumeState(state, provider) {
		return fmt.Errorf("invalid or expired state parameter")
	}

	if errParam != "" {
		msg := NewAuthMessage(provider, MessageError)
		msg.ErrorReason = errParam
		c.dispatcher.Publish(msg)
		c.logger.Warn("プロバイダーが認証エラーを返しました",
			slog.String("provider", string(provider)),
			slog.String("reason", errParam),
		)
		return nil
	}

	bundle, err := prov.Exchange(ctx, code)
	if err != nil {
		msg := NewAuthMessage(provider, MessageError)
		msg.ErrorReason = err.Error()
		c.dispatcher.Publish(msg)
		return fmt.Errorf("code exchange failed: %w", err)
	}

	profile, err := prov.FetchProfile(ctx, bundle.AccessToken)
	if err != nil {
		msg := NewAuthMessage(provider, MessageError)
		msg.ErrorReason = err.Error()
		c.dispatcher.Publish(msg)
		return fmt.Errorf("profile fetch failed: %w", err)
	}

	msg := NewAuthMessage(provider, MessageSuccess)
	msg.AccessToken = bundle.AccessToken
	msg.RefreshToken = bundle.RefreshToken
	msg.Email = profile.Email
	msg.Name = profile.Name

	delivered := c.dispatcher.Publish(msg)
	c.logger.Info("認証コールバックを処理しました",
		slog.String("provider", string(provider)),
		slog.String("email", profile.Email),
		slog.Int("delivered", delivered),
	)

	return nil
}

// StartGlobalListener はプロセス全体の購読者を起動する。起動時に1回だけ呼ぶ。
// 呼び出しスコープのリスナーが存在しない場合（UIがWaitせずに離脱した場合等）でも
// 成功メッセージの業務効果が失われないようにする。
func (c *Coordinator) StartGlobalListener(ctx context.Context) {
	sub := c.dispatcher.Subscribe("")

	go func() {
		defer c.dispatcher.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.C:
				c.handleMessage(ctx, msg)
			}
		}
	}()
}

// handleMessage はメッセージの処理権を取得し、業務効果を1回だけ実行する。
// 既に処理済みのメッセージは何もしない。
func (c *Coordinator) handleMessage(ctx context.Context, msg *AuthMessage) {
	if !msg.ClaimHandling() {
		return
	}

	if msg.Type == MessageError {
		c.recordOutcome(msg.Provider, "denied")
		msg.Resolve(nil, model.NewAuthDeniedError(msg.Provider, msg.ErrorReason))
		return
	}

	account, err := c.accounts.AddAccount(ctx, registry.AccountBundle{
		Provider:     msg.Provider,
		DisplayName:  msg.Name,
		Email:        msg.Email,
		AccessToken:  msg.AccessToken,
		RefreshToken: msg.RefreshToken,
	})
	if err != nil {
		c.logger.Warn("アカウント登録に失敗しました",
			slog.String("provider", string(msg.Provider)),
			slog.String("email", msg.Email),
			slog.String("error", err.Error()),
		)
		c.recordOutcome(msg.Provider, "error")
	} else {
		c.recordOutcome(msg.Provider, "success")
	}
	msg.Resolve(account, err)
}

// recordOutcome はメトリクスが設定されている場合のみ結果を記録する。
func (c *Coordinator) recordOutcome(provider model.Provider, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordAuthOutcome(string(provider), outcome)
	}
}

// recordState は発行済みstateを記録し、期限切れのstateを掃除する。
func (c *Coordinator) recordState(state string, provider model.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.config.FlowTimeout)
	for s, issued := range c.states {
		if issued.issuedAt.Before(cutoff) {
			delete(c.states, s)
		}
	}

	c.states[state] = issuedState{provider: provider, issuedAt: time.Now()}
}

// consumeState はstateを検証し、1回で消費する。
func (c *Coordinator) consumeState(state string, provider model.Provider) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	issued, ok := c.states[state]
	if !ok || issued.provider != provider {
		return false
	}
	if time.Since(issued.issuedAt) > c.config.FlowTimeout {
		delete(c.states, state)
		return false
	}

	delete(c.states, state)
	return true
}
