// Package authflow はカレンダープロバイダーとの対話的な認可コードフローを提供する。
// コールバックハンドラーとフロー呼び出し元の間はプロセス内のpub/subディスパッチャで疎結合にする。
package authflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/worklog/internal/model"
)

// MessageType は認証結果メッセージの種別を表す。
type MessageType string

const (
	// MessageSuccess は認可コード交換が成功したことを示す。
	MessageSuccess MessageType = "success"
	// MessageError はプロバイダーがエラーを返したことを示す。
	MessageError MessageType = "error"
)

// AuthMessage はコールバックページからディスパッチャ経由で配信される認証結果。
//
// 同じメッセージをプロセス全体リスナーと呼び出しスコープのリスナーの両方が
// 受信しうるため、処理済みマーカーをメッセージ自身に持たせる。
// 最初にClaimHandlingに成功したリスナーだけが業務効果（アカウント登録）を実行し、
// Resolveで結果を共有する。他のリスナーはAwaitで同じ結果を観測する。
type AuthMessage struct {
	Provider     model.Provider
	Type         MessageType
	AccessToken  string
	RefreshToken string
	Email        string
	Name         string
	ErrorReason  string

	handled atomic.Bool
	done    chan struct{}
	account *model.CalendarAccount
	err     error
}

// NewAuthMessage はAuthMessageを生成する。
func NewAuthMessage(provider model.Provider, msgType MessageType) *AuthMessage {
	return &AuthMessage{
		Provider: provider,
		Type:     msgType,
		done:     make(chan struct{}),
	}
}

// ClaimHandling は処理権の獲得を試みる。最初の呼び出しのみtrueを返す。
func (m *AuthMessage) ClaimHandling() bool {
	return m.handled.CompareAndSwap(false, true)
}

// Resolve は処理権を獲得したリスナーが結果を設定する。1回だけ呼ぶこと。
func (m *AuthMessage) Resolve(account *model.CalendarAccount, err error) {
	m.account = account
	m.err = err
	close(m.done)
}

// Await は結果が設定されるまで待機する。
func (m *AuthMessage) Await(ctx context.Context) (*model.CalendarAccount, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return m.account, m.err
	}
}

// Subscription はディスパッチャへの購読を表す。
type Subscription struct {
	id       int
	provider model.Provider
	C        chan *AuthMessage
}

// Dispatcher は認証結果メッセージのプロセス内pub/subディスパッチャ。
// 各購読者へちょうど1回ずつ配信する。
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		subs:   make(map[int]*Subscription),
	}
}

// Subscribe は指定プロバイダーのメッセージ購読を開始する。
// providerが空の場合はすべてのプロバイダーのメッセージを受信する。
func (d *Dispatcher) Subscribe(provider model.Provider) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &Subscription{
		id:       d.nextID,
		provider: provider,
		C:        make(chan *AuthMessage, 4),
	}
	d.subs[sub.id] = sub
	return sub
}

// Unsubscribe は購読を解除する。解除後のチャネルには配信されない。
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, sub.id)
}

// Publish はメッセージを該当する全購読者へ配信し、配信数を返す。
// 購読者のバッファが満杯の場合は配信をスキップする（遅延した購読者が
// フロー全体を止めないようにするため）。
func (d *Dispatcher) Publish(msg *AuthMessage) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivered := 0
	for _, sub := range d.subs {
		if sub.provider != "" && sub.provider != msg.Provider {
			continue
		}
		select {
		case sub.C <- msg:
			delivered++
		default:
			d.logger.Warn("認証メッセージの配信をスキップしました",
				slog.String("provider", string(msg.Provider)),
				slog.Int("subscriber_id", sub.id),
			)
		}
	}

	return delivered
}
