package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.im.messaging/internal/model"
)

// State 订阅状态
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	}
	return "unknown"
}

// RefreshFunc 请求全量重算未读状态
type RefreshFunc func(reason string)

// Bridge 维持用户变更通道的订阅，把相关事件转成刷新请求，
// 自身不修改未读状态
type Bridge struct {
	feed      Feed
	userID    int64
	refresh   RefreshFunc
	retryWait time.Duration
	onState   func(State)
	logger    *slog.Logger

	state   atomic.Int32
	stopped atomic.Bool
	started atomic.Bool

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option Bridge 选项
type Option func(*Bridge)

// WithRetryWait 设置失败后重新订阅的等待时间
func WithRetryWait(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.retryWait = d
		}
	}
}

// WithStateListener 监听状态变化
func WithStateListener(fn func(State)) Option {
	return func(b *Bridge) {
		b.onState = fn
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge 创建 Bridge，调用 Start 后开始订阅
func NewBridge(feed Feed, userID int64, refresh RefreshFunc, opts ...Option) *Bridge {
	b := &Bridge{
		feed:      feed,
		userID:    userID,
		refresh:   refresh,
		retryWait: 3 * time.Second,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State 当前状态
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Start 启动订阅循环，Stop 之后调用无效
func (b *Bridge) Start() {
	if b.stopped.Load() || !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run()
}

// Wake 立即结束重试等待
func (b *Bridge) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Stop 取消订阅并等待循环退出，可重复调用
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.stopCh)
	})
	if b.started.Load() {
		<-b.done
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	defer b.setState(Disconnected)

	for {
		b.setState(Connecting)
		sub, err := b.feed.Subscribe(b.userID, b.handle)
		if err != nil {
			b.logger.Warn("Realtime subscription failed",
				"userId", b.userID,
				"retryWait", b.retryWait,
				"error", err,
			)
			b.setState(Disconnected)
			if !b.sleep() {
				return
			}
			continue
		}

		b.setState(Subscribed)
		// 未订阅期间可能漏掉事件
		b.refresh("subscribed")

		select {
		case <-sub.Lost():
			b.logger.Warn("Realtime subscription lost", "userId", b.userID)
			b.unsubscribe(sub)
			b.setState(Disconnected)
			if !b.sleep() {
				return
			}
		case <-b.stopCh:
			b.unsubscribe(sub)
			return
		}
	}
}

func (b *Bridge) handle(evt *model.ChangeEvent) {
	if b.stopped.Load() || evt == nil {
		return
	}
	if !evt.Kind.Known() {
		b.logger.Debug("Ignoring unknown change event", "userId", b.userID, "kind", evt.Kind)
		return
	}
	b.refresh(string(evt.Kind))
}

// sleep 等待重试间隔，已停止时返回 false
func (b *Bridge) sleep() bool {
	timer := time.NewTimer(b.retryWait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-b.wake:
		return true
	case <-b.stopCh:
		return false
	}
}

func (b *Bridge) unsubscribe(sub Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Debug("Unsubscribe failed", "userId", b.userID, "error", err)
	}
}

func (b *Bridge) setState(s State) {
	if State(b.state.Swap(int32(s))) == s {
		return
	}
	if b.onState != nil {
		b.onState(s)
	}
}
