package nats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/realtime"
)

// Feed 为会话订阅用户变更 Subject
type Feed struct {
	client *Client
	logger *slog.Logger
}

// NewFeed 创建 Feed
func NewFeed(client *Client) *Feed {
	return &Feed{
		client: client,
		logger: slog.Default(),
	}
}

// Subscribe 订阅用户 Subject，连接断开时直接失败，由调用方重试
func (f *Feed) Subscribe(userID int64, handler realtime.Handler) (realtime.Subscription, error) {
	if !f.client.IsConnected() {
		return nil, appErrors.ErrSubscriptionError.Wrap(nats.ErrConnectionClosed)
	}

	s := &subscription{lost: make(chan struct{})}
	s.removeListener = f.client.OnDisconnect(s.markLost)

	sub, err := f.client.Conn().Subscribe(BuildUserEventsSubject(userID), func(msg *nats.Msg) {
		var evt model.ChangeEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			f.logger.Warn("Dropping malformed change event", "subject", msg.Subject, "error", err)
			return
		}
		handler(&evt)
	})
	if err != nil {
		s.removeListener()
		return nil, appErrors.ErrSubscriptionError.Wrap(err)
	}
	s.sub = sub

	// 检查与订阅之间连接可能已断开
	if !f.client.IsConnected() {
		s.markLost()
	}
	return s, nil
}

type subscription struct {
	sub            *nats.Subscription
	removeListener func()

	lostOnce sync.Once
	lost     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) Lost() <-chan struct{} {
	return s.lost
}

func (s *subscription) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.stopOnce.Do(func() {
		s.removeListener()
		if s.sub == nil {
			return
		}
		err = s.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
	})
	return err
}
