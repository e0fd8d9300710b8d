// Package session 客户端会话的未读状态管理：
// 一个实时 Bridge、一个兜底定时器、一个单飞刷新协调器，
// 共同维护进程内的 UnreadState。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.messaging/internal/realtime"
	"sudooom.im.messaging/internal/unread"
)

// Config 会话时间配置
type Config struct {
	RetryWait        time.Duration
	FallbackInterval time.Duration
	SafetyInterval   time.Duration
	FetchTimeout     time.Duration
}

// Session 单个客户端的未读状态
type Session struct {
	ID     string
	UserID int64

	state      *UnreadState
	coord      *Coordinator
	bridge     *realtime.Bridge
	reconciler *Reconciler
	logger     *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
}

// New 创建会话，Start 之前不运行
func New(id string, userID int64, feed realtime.Feed, fetch FetchFunc, cfg Config) *Session {
	logger := slog.Default().With("sessionId", id, "userId", userID)

	s := &Session{
		ID:     id,
		UserID: userID,
		state:  NewUnreadState(),
		logger: logger,
	}
	s.coord = NewCoordinator(fetch, s.state, cfg.FetchTimeout, logger)
	s.reconciler = NewReconciler(s.coord.Trigger, cfg.FallbackInterval, cfg.SafetyInterval)
	s.bridge = realtime.NewBridge(feed, userID, s.coord.Trigger,
		realtime.WithRetryWait(cfg.RetryWait),
		realtime.WithStateListener(s.onRealtimeState),
		realtime.WithLogger(logger),
	)
	return s
}

// Start 加载初始状态并启动 Bridge 和定时器
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.coord.Trigger("start")
		s.reconciler.Start()
		s.bridge.Start()
	})
}

// Close 关闭会话，进行中的刷新结果被丢弃，可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.coord.Close()
		s.bridge.Stop()
		s.reconciler.Stop()
		s.logger.Info("Session closed")
	})
}

// Snapshot 最近一次的未读状态，首次刷新成功前为 nil
func (s *Session) Snapshot() *unread.Snapshot {
	snap, _ := s.state.Snapshot()
	return snap
}

// Total 最近一次的未读总数
func (s *Session) Total() int {
	return s.state.Total()
}

// Subscribe 订阅状态变化
func (s *Session) Subscribe(fn func(*unread.Snapshot)) func() {
	return s.state.Subscribe(fn)
}

// Trigger 请求后台刷新
func (s *Session) Trigger(reason string) {
	s.coord.Trigger(reason)
}

// Refresh 强制刷新并等待完成
func (s *Session) Refresh(ctx context.Context) error {
	return s.coord.RefreshAndWait(ctx)
}

// Degraded 是否仅靠轮询
func (s *Session) Degraded() bool {
	return s.reconciler.Degraded()
}

// RealtimeState Bridge 状态
func (s *Session) RealtimeState() realtime.State {
	return s.bridge.State()
}

// Wake 让断开的 Bridge 立即重试
func (s *Session) Wake() {
	s.bridge.Wake()
}

func (s *Session) onRealtimeState(st realtime.State) {
	degraded := st != realtime.Subscribed
	s.reconciler.SetDegraded(degraded)

	switch st {
	case realtime.Subscribed:
		s.logger.Info("Realtime subscribed", "state", st.String(), "reconcileInterval", s.reconciler.Interval())
	case realtime.Disconnected:
		s.logger.Warn("Realtime degraded, polling only", "state", st.String(), "reconcileInterval", s.reconciler.Interval())
	default:
		s.logger.Debug("Realtime state", "state", st.String())
	}
}
