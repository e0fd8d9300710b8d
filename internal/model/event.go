package model

import "time"

// EventKind 变更通知类型
type EventKind string

const (
	EventMessageInserted  EventKind = "message_inserted"
	EventWatermarkUpdated EventKind = "watermark_updated"
	EventMessageDeleted   EventKind = "message_deleted"
	EventParticipantLeft  EventKind = "participant_left"
)

// Known 是否为影响未读状态的事件类型
func (k EventKind) Known() bool {
	switch k {
	case EventMessageInserted, EventWatermarkUpdated, EventMessageDeleted, EventParticipantLeft:
		return true
	}
	return false
}

// ChangeEvent 发布到用户变更通道的事件。
// 接收方不会把它当增量应用，它只表示需要刷新。
type ChangeEvent struct {
	Kind           EventKind `json:"kind"`
	ConversationID int64     `json:"conversation_id,string"`
	MessageID      int64     `json:"message_id,string,omitempty"`
	UserID         int64     `json:"user_id,string"`
	At             time.Time `json:"at"`
}
