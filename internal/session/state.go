package session

import (
	"sync"

	"sudooom.im.messaging/internal/unread"
)

// UnreadState 进程内的会话未读状态，只通过 Apply 整体替换，
// 返回的快照共享，不可修改
type UnreadState struct {
	mu     sync.RWMutex
	snap   *unread.Snapshot
	seq    uint64
	nextID int
	subs   map[int]func(*unread.Snapshot)
}

// NewUnreadState 创建空状态
func NewUnreadState() *UnreadState {
	return &UnreadState{
		subs: make(map[int]func(*unread.Snapshot)),
	}
}

// Apply seq 大于上次应用的序号时替换状态，返回是否已应用
func (s *UnreadState) Apply(seq uint64, snap *unread.Snapshot) bool {
	if snap == nil {
		return false
	}

	s.mu.Lock()
	if seq <= s.seq {
		s.mu.Unlock()
		return false
	}
	s.seq = seq
	s.snap = snap
	subs := make([]func(*unread.Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return true
}

// Snapshot 最近应用的快照及序号，首次刷新前快照为 nil
func (s *UnreadState) Snapshot() (*unread.Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.seq
}

// Total 最近的未读总数，首次刷新前为 0
func (s *UnreadState) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.Total
}

// Subscribe 订阅已应用的快照，fn 在刷新协程中执行，不能阻塞。
// 调用返回的函数取消订阅
func (s *UnreadState) Subscribe(fn func(*unread.Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
