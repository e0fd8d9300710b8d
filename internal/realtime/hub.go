package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
)

// ErrHubDisconnected Hub 断开时 Publish 返回
var ErrHubDisconnected = errors.New("realtime hub disconnected")

// Hub 单机部署的进程内变更通道，同时实现 Feed 和 Publisher。
// Disconnect/Reconnect 模拟连接断开
type Hub struct {
	mu        sync.Mutex
	connected bool
	subs      map[int64]map[*hubSubscription]struct{}
	logger    *slog.Logger
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		connected: true,
		subs:      make(map[int64]map[*hubSubscription]struct{}),
		logger:    slog.Default(),
	}
}

// Subscribe 订阅用户事件
func (h *Hub) Subscribe(userID int64, handler Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return nil, appErrors.ErrSubscriptionError.Wrap(ErrHubDisconnected)
	}

	s := &hubSubscription{
		hub:     h,
		userID:  userID,
		handler: handler,
		lost:    make(chan struct{}),
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*hubSubscription]struct{})
	}
	h.subs[userID][s] = struct{}{}
	return s, nil
}

// Publish 投递事件给用户的所有订阅者，断开期间的事件直接丢弃
func (h *Hub) Publish(ctx context.Context, userID int64, evt *model.ChangeEvent) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return ErrHubDisconnected
	}
	handlers := make([]Handler, 0, len(h.subs[userID]))
	for s := range h.subs[userID] {
		handlers = append(handlers, s.handler)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		e := *evt
		fn(&e)
	}
	return nil
}

// Disconnect 断开所有订阅，Reconnect 之前拒绝新订阅
func (h *Hub) Disconnect() {
	h.mu.Lock()
	h.connected = false
	var lost []*hubSubscription
	for userID, set := range h.subs {
		for s := range set {
			lost = append(lost, s)
		}
		delete(h.subs, userID)
	}
	h.mu.Unlock()

	for _, s := range lost {
		s.markLost()
	}
	h.logger.Warn("Realtime hub disconnected", "droppedSubscriptions", len(lost))
}

// Reconnect 恢复连接
func (h *Hub) Reconnect() {
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	h.logger.Info("Realtime hub reconnected")
}

// Connected 是否已连接
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Subscribers 用户当前订阅数
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

type hubSubscription struct {
	hub     *Hub
	userID  int64
	handler Handler

	lostOnce sync.Once
	lost     chan struct{}
}

func (s *hubSubscription) Lost() <-chan struct{} {
	return s.lost
}

func (s *hubSubscription) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *hubSubscription) Unsubscribe() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.userID)
		}
	}
	return nil
}
