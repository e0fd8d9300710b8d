package model

import "time"

// Conversation 会话
// LastMessageAt 只增不减：软删除最新消息时保持不变，只重算预览，因此可能晚于最新未删除消息的 create_at
type Conversation struct {
	ID                 int64      `json:"id,string"`
	IsGroup            bool       `json:"is_group"`
	Name               string     `json:"name,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	LastMessagePreview string     `json:"last_message_preview"`
	CreateAt           time.Time  `json:"create_at"`
	UpdateAt           time.Time  `json:"update_at"`
}

// Participant 会话成员，携带已读水位
// LastReadAt 在用户首次已读之前为 nil
type Participant struct {
	ConversationID int64      `json:"conversation_id,string"`
	UserID         int64      `json:"user_id,string"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at"`
	DisplayName    string     `json:"display_name"`
	AvatarURL      string     `json:"avatar_url"`
}

// ConversationSummary 用户聚合查询的一行
type ConversationSummary struct {
	Conversation
	UnreadCount  int           `json:"unread_count"`
	LastReadAt   *time.Time    `json:"last_read_at"`
	Participants []Participant `json:"participants"`
}

// Member 创建会话时的成员参数
type Member struct {
	UserID      int64  `json:"user_id,string"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}
