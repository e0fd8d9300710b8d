// Package unread 根据存储状态计算未读数，始终全量重算，不做增量维护
package unread

import (
	"time"

	"sudooom.im.messaging/internal/model"
)

// IsUnread 判断消息对用户是否未读，水位为 nil 表示从未读过
func IsUnread(msg *model.Message, watermark *time.Time, userID int64) bool {
	if msg.IsDeleted || msg.SenderID == userID {
		return false
	}
	if watermark == nil {
		return true
	}
	return msg.CreateAt.After(*watermark)
}

// CountUnread 统计未读消息数
func CountUnread(msgs []*model.Message, watermark *time.Time, userID int64) int {
	n := 0
	for _, m := range msgs {
		if IsUnread(m, watermark, userID) {
			n++
		}
	}
	return n
}

// Snapshot 用户某一时刻的完整未读状态
type Snapshot struct {
	UserID          int64                `json:"user_id,string"`
	Total           int                  `json:"total"`
	PerConversation map[int64]int        `json:"per_conversation"`
	Conversations   []ConversationUnread `json:"conversations"`
	ComputedAt      time.Time            `json:"computed_at"`
}

// ConversationUnread 快照中的单个会话
type ConversationUnread struct {
	ConversationID int64      `json:"conversation_id,string"`
	Count          int        `json:"count"`
	HasUnread      bool       `json:"has_unread"`
	LastMessageAt  *time.Time `json:"last_message_at"`
}

// Unread 会话未读数，不存在返回 0
func (s *Snapshot) Unread(conversationID int64) int {
	if s == nil {
		return 0
	}
	return s.PerConversation[conversationID]
}

// Aggregate 将聚合查询结果汇总为快照
func Aggregate(userID int64, summaries []model.ConversationSummary) *Snapshot {
	snap := &Snapshot{
		UserID:          userID,
		PerConversation: make(map[int64]int, len(summaries)),
		Conversations:   make([]ConversationUnread, 0, len(summaries)),
		ComputedAt:      time.Now(),
	}
	for i := range summaries {
		s := &summaries[i]
		count := s.UnreadCount
		if count < 0 {
			count = 0
		}
		snap.Total += count
		snap.PerConversation[s.ID] = count
		snap.Conversations = append(snap.Conversations, ConversationUnread{
			ConversationID: s.ID,
			Count:          count,
			HasUnread:      count > 0,
			LastMessageAt:  s.LastMessageAt,
		})
	}
	return snap
}

// Equal 两个快照的未读数是否相同
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Total != o.Total || len(s.PerConversation) != len(o.PerConversation) {
		return false
	}
	for id, n := range s.PerConversation {
		if m, ok := o.PerConversation[id]; !ok || m != n {
			return false
		}
	}
	return true
}
