package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/snowflake"
	"sudooom.im.messaging/internal/unread"
)

// ConversationService 会话服务
type ConversationService struct {
	store     ConversationStore
	publisher Publisher
	sfNode    *snowflake.Node
	logger    *slog.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(store ConversationStore, publisher Publisher, sfNode *snowflake.Node) *ConversationService {
	return &ConversationService{
		store:     store,
		publisher: publisher,
		sfNode:    sfNode,
		logger:    slog.Default(),
	}
}

// CreateConversationRequest 创建单聊或群聊，创建者始终是成员
type CreateConversationRequest struct {
	Name    string         `json:"name"`
	IsGroup bool           `json:"is_group"`
	Members []model.Member `json:"members" binding:"required,min=1"`
}

// ListConversations 获取会话列表，按最后活跃时间倒序
func (s *ConversationService) ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	if userID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	return s.store.ListConversations(ctx, userID)
}

// GetParticipants 获取会话成员
func (s *ConversationService) GetParticipants(ctx context.Context, conversationID, userID int64) ([]model.Participant, error) {
	if userID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	if conversationID <= 0 {
		return nil, appErrors.ErrInvalidParams
	}
	return s.store.GetParticipants(ctx, conversationID, userID)
}

// GetUnreadCount 通过聚合查询重算未读状态，是未读数的唯一来源
func (s *ConversationService) GetUnreadCount(ctx context.Context, userID int64) (*unread.Snapshot, error) {
	summaries, err := s.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return unread.Aggregate(userID, summaries), nil
}

// Create 创建会话，已存在的单聊直接返回
func (s *ConversationService) Create(ctx context.Context, userID int64, req *CreateConversationRequest) (*model.Conversation, error) {
	if userID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}

	members := dedupeMembers(userID, req.Members)
	if len(members) < 2 {
		return nil, appErrors.ErrNotEnoughMembers
	}
	if !req.IsGroup && len(members) != 2 {
		return nil, appErrors.ErrInvalidParams
	}

	if !req.IsGroup {
		conv, err := s.store.FindDirectConversation(ctx, members[0].UserID, members[1].UserID)
		if err == nil {
			return conv, nil
		}
		if !appErrors.Is(err, appErrors.ErrConversationNotFound) {
			return nil, err
		}
	}

	conv := &model.Conversation{
		ID:      s.sfNode.Generate().Int64(),
		IsGroup: req.IsGroup,
		Name:    strings.TrimSpace(req.Name),
	}
	if err := s.store.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}

	s.logger.Info("Conversation created",
		"conversationId", conv.ID,
		"isGroup", conv.IsGroup,
		"members", len(members),
	)
	return conv, nil
}

// Leave 退出会话
func (s *ConversationService) Leave(ctx context.Context, conversationID, userID int64) error {
	if userID <= 0 {
		return appErrors.ErrUnauthorized
	}
	if err := s.store.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	notify(ctx, s.publisher, s.logger, []int64{userID}, &model.ChangeEvent{
		Kind:           model.EventParticipantLeft,
		ConversationID: conversationID,
		UserID:         userID,
		At:             time.Now(),
	})
	return nil
}

// dedupeMembers 创建者排首位，去重并过滤非法 ID
func dedupeMembers(creatorID int64, members []model.Member) []model.Member {
	seen := map[int64]bool{creatorID: true}
	out := []model.Member{{UserID: creatorID}}
	for _, m := range members {
		if m.UserID == creatorID {
			out[0].DisplayName = m.DisplayName
			out[0].AvatarURL = m.AvatarURL
			continue
		}
		if m.UserID <= 0 || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m)
	}
	return out
}
