package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/unread"
)

// MemoryStore 进程内存储，语义与 PostgreSQL 实现一致。
// 所有读取都在锁内完成，聚合结果是一致快照
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[int64]*model.Conversation
	direct        map[string]int64
	participants  map[int64]map[int64]*model.Participant
	messages      map[int64][]*model.Message
	byID          map[int64]*model.Message
	now           func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int64]*model.Conversation),
		direct:        make(map[string]int64),
		participants:  make(map[int64]map[int64]*model.Participant),
		messages:      make(map[int64][]*model.Message),
		byID:          make(map[int64]*model.Message),
		now:           time.Now,
	}
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.ErrTransientStore.Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.ConversationSummary, 0)
	for convID, members := range s.participants {
		me, ok := members[userID]
		if !ok {
			continue
		}
		conv := s.conversations[convID]

		summary := model.ConversationSummary{
			Conversation: *conv,
			UnreadCount:  unread.CountUnread(s.messages[convID], me.LastReadAt, userID),
			LastReadAt:   copyTime(me.LastReadAt),
			Participants: s.participantList(convID),
		}
		summary.LastMessageAt = copyTime(conv.LastMessageAt)
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return summaries[i].ID > summaries[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return summaries[i].ID > summaries[j].ID
		}
		return a.After(*b)
	})
	return summaries, nil
}

func (s *MemoryStore) GetParticipants(ctx context.Context, conversationID, requesterID int64) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkMembership(conversationID, requesterID); err != nil {
		return nil, err
	}
	return s.participantList(conversationID), nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMembership(conversationID, userID); err != nil {
		return time.Time{}, err
	}

	p := s.participants[conversationID][userID]
	if p.LastReadAt == nil || at.After(*p.LastReadAt) {
		t := at
		p.LastReadAt = &t
	}
	watermark := *p.LastReadAt

	if !s.conversations[conversationID].IsGroup {
		for _, m := range s.messages[conversationID] {
			if m.SenderID != userID && m.ReadAt == nil && !m.CreateAt.After(watermark) {
				t := watermark
				m.ReadAt = &t
			}
		}
	}
	return watermark, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, conversationID, userID int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMembership(conversationID, userID); err != nil {
		return 0, err
	}

	var n int64
	for _, m := range s.messages[conversationID] {
		if m.SenderID != userID && m.DeliveredAt == nil && !m.CreateAt.After(at) {
			t := at
			m.DeliveredAt = &t
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation, members []model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; ok {
		return appErrors.ErrDBError
	}

	var key string
	if !conv.IsGroup && len(members) == 2 {
		key = directKey(members[0].UserID, members[1].UserID)
		if _, ok := s.direct[key]; ok {
			return appErrors.ErrDBError
		}
	}

	now := s.now()
	conv.CreateAt = now
	conv.UpdateAt = now
	stored := *conv
	s.conversations[conv.ID] = &stored
	if key != "" {
		s.direct[key] = conv.ID
	}

	members0 := make(map[int64]*model.Participant, len(members))
	for _, m := range members {
		if _, ok := members0[m.UserID]; ok {
			continue
		}
		members0[m.UserID] = &model.Participant{
			ConversationID: conv.ID,
			UserID:         m.UserID,
			JoinedAt:       now,
			DisplayName:    m.DisplayName,
			AvatarURL:      m.AvatarURL,
		}
	}
	s.participants[conv.ID] = members0
	return nil
}

func (s *MemoryStore) FindDirectConversation(ctx context.Context, a, b int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.direct[directKey(a, b)]
	if !ok {
		return nil, appErrors.ErrConversationNotFound
	}
	conv := *s.conversations[id]
	conv.LastMessageAt = copyTime(conv.LastMessageAt)
	return &conv, nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMembership(conversationID, userID); err != nil {
		return err
	}
	delete(s.participants[conversationID], userID)
	return nil
}

func (s *MemoryStore) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantIDs(conversationID), nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMembership(msg.ConversationID, msg.SenderID); err != nil {
		return nil, err
	}

	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	s.byID[msg.ID] = &stored

	conv := s.conversations[msg.ConversationID]
	if conv.LastMessageAt == nil || !msg.CreateAt.Before(*conv.LastMessageAt) {
		t := msg.CreateAt
		conv.LastMessageAt = &t
		conv.LastMessagePreview = previewOf(msg.Content, string(msg.Type))
	}
	conv.UpdateAt = s.now()

	return s.participantIDs(msg.ConversationID), nil
}

func (s *MemoryStore) SoftDeleteMessage(ctx context.Context, messageID, userID int64) (*model.Message, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return nil, nil, appErrors.ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, nil, appErrors.ErrForbidden
	}

	if !msg.IsDeleted {
		msg.IsDeleted = true

		conv := s.conversations[msg.ConversationID]
		conv.LastMessagePreview = ""
		var newest *model.Message
		for _, m := range s.messages[msg.ConversationID] {
			if !m.IsDeleted && (newest == nil || newest.Before(m)) {
				newest = m
			}
		}
		if newest != nil {
			conv.LastMessagePreview = previewOf(newest.Content, string(newest.Type))
		}
		conv.UpdateAt = s.now()
	}

	out := *msg
	return &out, s.participantIDs(msg.ConversationID), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID, requesterID, beforeID int64, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkMembership(conversationID, requesterID); err != nil {
		return nil, err
	}

	var cursor *model.Message
	if beforeID != 0 {
		c, ok := s.byID[beforeID]
		if !ok || c.ConversationID != conversationID {
			return nil, appErrors.ErrInvalidParams
		}
		cursor = c
	}

	all := make([]*model.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		out := *m
		if out.IsDeleted {
			out.Content = ""
			out.MediaRef = ""
		}
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })

	end := len(all)
	if cursor != nil {
		end = 0
		for i, m := range all {
			if m.Before(cursor) {
				end = i + 1
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return all[start:end], nil
}

// SetClock 替换时钟
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) checkMembership(conversationID, userID int64) error {
	if _, ok := s.conversations[conversationID]; !ok {
		return appErrors.ErrConversationNotFound
	}
	if _, ok := s.participants[conversationID][userID]; !ok {
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *MemoryStore) participantList(conversationID int64) []model.Participant {
	list := make([]model.Participant, 0, len(s.participants[conversationID]))
	for _, p := range s.participants[conversationID] {
		cp := *p
		cp.LastReadAt = copyTime(p.LastReadAt)
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func (s *MemoryStore) participantIDs(conversationID int64) []int64 {
	ids := make([]int64, 0, len(s.participants[conversationID]))
	for id := range s.participants[conversationID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
