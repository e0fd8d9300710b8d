package service

import (
	"context"
	"log/slog"
	"time"

	"sudooom.im.messaging/internal/model"
)

// ConversationStore 会话存储接口，
// 由 repository.ConversationRepository 和 repository.MemoryStore 实现
type ConversationStore interface {
	ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error)
	GetParticipants(ctx context.Context, conversationID, requesterID int64) ([]model.Participant, error)
	MarkRead(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error)
	MarkDelivered(ctx context.Context, conversationID, userID int64, at time.Time) (int64, error)
	CreateConversation(ctx context.Context, conv *model.Conversation, members []model.Member) error
	FindDirectConversation(ctx context.Context, a, b int64) (*model.Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

// MessageStore 消息存储接口
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) ([]int64, error)
	SoftDeleteMessage(ctx context.Context, messageID, userID int64) (*model.Message, []int64, error)
	ListMessages(ctx context.Context, conversationID, requesterID, beforeID int64, limit int) ([]*model.Message, error)
}

// Publisher 变更通知发布接口
type Publisher interface {
	Publish(ctx context.Context, userID int64, evt *model.ChangeEvent) error
}

// notify 发布事件给所有用户，失败只记日志，由兜底刷新补偿
func notify(ctx context.Context, pub Publisher, logger *slog.Logger, userIDs []int64, evt *model.ChangeEvent) {
	if pub == nil {
		return
	}
	for _, uid := range userIDs {
		if err := pub.Publish(ctx, uid, evt); err != nil {
			logger.Warn("Failed to publish change event",
				"kind", evt.Kind,
				"conversationId", evt.ConversationID,
				"userId", uid,
				"error", err,
			)
		}
	}
}
