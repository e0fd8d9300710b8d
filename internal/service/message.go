package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/snowflake"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	maxContentLength    = 4000
)

// MessageService 消息服务，持久化消息并通知所有成员
type MessageService struct {
	store     MessageStore
	publisher Publisher
	sfNode    *snowflake.Node
	now       func() time.Time
	logger    *slog.Logger
}

// NewMessageService 创建消息服务
func NewMessageService(store MessageStore, publisher Publisher, sfNode *snowflake.Node) *MessageService {
	return &MessageService{
		store:     store,
		publisher: publisher,
		sfNode:    sfNode,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content  string            `json:"content"`
	Type     model.MessageType `json:"type"`
	MediaRef string            `json:"media_ref"`
}

// Send 发送消息
func (s *MessageService) Send(ctx context.Context, conversationID, senderID int64, req *SendMessageRequest) (*model.Message, error) {
	if senderID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	if err := validateSend(conversationID, req); err != nil {
		return nil, err
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	msg := &model.Message{
		ID:             s.sfNode.Generate().Int64(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		Type:           msgType,
		MediaRef:       req.MediaRef,
		CreateAt:       s.now(),
	}

	recipients, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Message stored",
		"messageId", msg.ID,
		"conversationId", conversationID,
		"senderId", senderID,
		"recipients", len(recipients),
	)

	notify(ctx, s.publisher, s.logger, recipients, &model.ChangeEvent{
		Kind:           model.EventMessageInserted,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		UserID:         senderID,
		At:             msg.CreateAt,
	})
	return msg, nil
}

// Delete 软删除消息，仅作者可删除
func (s *MessageService) Delete(ctx context.Context, messageID, userID int64) error {
	if userID <= 0 {
		return appErrors.ErrUnauthorized
	}
	if messageID <= 0 {
		return appErrors.ErrInvalidParams
	}

	msg, recipients, err := s.store.SoftDeleteMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}

	notify(ctx, s.publisher, s.logger, recipients, &model.ChangeEvent{
		Kind:           model.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         userID,
		At:             s.now(),
	})
	return nil
}

// History 按显示顺序分页获取历史消息
func (s *MessageService) History(ctx context.Context, conversationID, userID, beforeID int64, limit int) ([]*model.Message, error) {
	if userID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	if conversationID <= 0 || beforeID < 0 {
		return nil, appErrors.ErrInvalidParams
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListMessages(ctx, conversationID, userID, beforeID, limit)
}

func validateSend(conversationID int64, req *SendMessageRequest) error {
	if conversationID <= 0 || req == nil {
		return appErrors.ErrInvalidParams
	}
	if req.Type != "" && !req.Type.Valid() {
		return appErrors.ErrInvalidParams
	}
	if len(req.Content) > maxContentLength {
		return appErrors.ErrInvalidParams
	}
	if req.Type == "" || req.Type == model.MessageTypeText {
		if strings.TrimSpace(req.Content) == "" {
			return appErrors.ErrInvalidParams
		}
		return nil
	}
	if req.MediaRef == "" {
		return appErrors.ErrInvalidParams
	}
	return nil
}
