package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"sudooom.im.messaging/internal/realtime"
	"sudooom.im.messaging/internal/unread"
)

// UnreadSource 计算用户未读快照
type UnreadSource interface {
	GetUnreadCount(ctx context.Context, userID int64) (*unread.Snapshot, error)
}

// Manager 管理本进程的客户端会话，每个客户端的未读状态只由它维护
type Manager struct {
	feed   realtime.Feed
	source UnreadSource
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[int64]map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(feed realtime.Feed, source UnreadSource, cfg Config) *Manager {
	return &Manager{
		feed:     feed,
		source:   source,
		cfg:      cfg,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
		byUser:   make(map[int64]map[string]*Session),
	}
}

// Open 创建并启动会话
func (m *Manager) Open(userID int64) *Session {
	id := uuid.NewString()
	fetch := func(ctx context.Context) (*unread.Snapshot, error) {
		return m.source.GetUnreadCount(ctx, userID)
	}
	s := New(id, userID, m.feed, fetch, m.cfg)

	m.mu.Lock()
	m.sessions[id] = s
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][id] = s
	m.mu.Unlock()

	s.Start()
	m.logger.Info("Session opened", "sessionId", id, "userId", userID)
	return s
}

// Close 关闭并移除会话
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if set := m.byUser[s.UserID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Get 获取会话
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForceRefresh 刷新用户的所有会话
func (m *Manager) ForceRefresh(userID int64) {
	for _, s := range m.userSessions(userID) {
		s.Trigger("force")
	}
}

// WakeAll 让所有断开的 Bridge 立即重试
func (m *Manager) WakeAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Wake()
	}
}

// Count 会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown 关闭所有会话
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.byUser = make(map[int64]map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) userSessions(userID int64) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.byUser[userID]))
	for _, s := range m.byUser[userID] {
		list = append(list, s)
	}
	return list
}
