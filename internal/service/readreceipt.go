package service

import (
	"context"
	"log/slog"
	"time"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
)

// ReadReceiptService 已读回执服务
type ReadReceiptService struct {
	store     ConversationStore
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewReadReceiptService 创建已读回执服务
func NewReadReceiptService(store ConversationStore, publisher Publisher) *ReadReceiptService {
	return &ReadReceiptService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// MarkRead 推进已读水位。at 为零值或晚于服务端时间时取服务端时间，
// 水位不会回退，重复或乱序调用无副作用
func (s *ReadReceiptService) MarkRead(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error) {
	if userID <= 0 {
		return time.Time{}, appErrors.ErrUnauthorized
	}
	if conversationID <= 0 {
		return time.Time{}, appErrors.ErrInvalidParams
	}

	now := s.now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	watermark, err := s.store.MarkRead(ctx, conversationID, userID, at)
	if err != nil {
		return time.Time{}, err
	}

	notify(ctx, s.publisher, s.logger, []int64{userID}, &model.ChangeEvent{
		Kind:           model.EventWatermarkUpdated,
		ConversationID: conversationID,
		UserID:         userID,
		At:             watermark,
	})
	return watermark, nil
}

// MarkDelivered 标记已送达，送达不影响未读数，不发布事件
func (s *ReadReceiptService) MarkDelivered(ctx context.Context, conversationID, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, appErrors.ErrUnauthorized
	}
	if conversationID <= 0 {
		return 0, appErrors.ErrInvalidParams
	}
	return s.store.MarkDelivered(ctx, conversationID, userID, s.now())
}
