package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.messaging/internal/model"
)

// EventPublisher 变更事件发布器
type EventPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{
		nc:     nc,
		logger: slog.Default(),
	}
}

// Publish 发布事件到用户变更通道
func (p *EventPublisher) Publish(ctx context.Context, userID int64, evt *model.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := BuildUserEventsSubject(userID)
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to marshal change event", "error", err)
		return err
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish change event", "userId", userID, "error", err)
		return err
	}

	p.logger.Debug("Published change event", "subject", subject, "kind", evt.Kind)
	return nil
}
