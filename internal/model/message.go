package model

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// Valid 是否为已知的消息类型
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Message 消息，创建后除 IsDeleted 和回执时间外不可变。
// 按 (CreateAt, ID) 排序。
type Message struct {
	ID             int64       `json:"id,string"`
	ConversationID int64       `json:"conversation_id,string"`
	SenderID       int64       `json:"sender_id,string"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	MediaRef       string      `json:"media_ref,omitempty"`
	IsDeleted      bool        `json:"is_deleted"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreateAt       time.Time   `json:"create_at"`
}

// Before m 是否排在 o 之前
func (m *Message) Before(o *Message) bool {
	if m.CreateAt.Equal(o.CreateAt) {
		return m.ID < o.ID
	}
	return m.CreateAt.Before(o.CreateAt)
}
