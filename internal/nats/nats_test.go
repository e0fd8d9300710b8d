package nats

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.messaging/internal/config"
	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
)

func TestBuildUserEventsSubject(t *testing.T) {
	assert.Equal(t, "im.chat.user.42.events", BuildUserEventsSubject(42))
	assert.Equal(t, "im.chat.user.7207154845401788416.events", BuildUserEventsSubject(7207154845401788416))
}

func newDetachedClient() *Client {
	return &Client{
		onDisconnect: make(map[int]func()),
		onReconnect:  make(map[int]func()),
	}
}

func TestClient_Listeners(t *testing.T) {
	c := newDetachedClient()

	var downs, ups atomic.Int32
	removeDown := c.OnDisconnect(func() { downs.Add(1) })
	c.OnReconnect(func() { ups.Add(1) })

	c.fire(c.disconnectListeners())
	c.fire(c.reconnectListeners())
	assert.Equal(t, int32(1), downs.Load())
	assert.Equal(t, int32(1), ups.Load())

	removeDown()
	c.fire(c.disconnectListeners())
	assert.Equal(t, int32(1), downs.Load())
}

func TestFeed_SubscribeWhileDisconnected(t *testing.T) {
	feed := NewFeed(newDetachedClient())

	sub, err := feed.Subscribe(1, func(*model.ChangeEvent) {})
	assert.Nil(t, sub)
	assert.True(t, appErrors.Is(err, appErrors.ErrSubscriptionError))
}

func TestSubscription_LostAndUnsubscribe(t *testing.T) {
	c := newDetachedClient()
	s := &subscription{lost: make(chan struct{})}
	s.removeListener = c.OnDisconnect(s.markLost)

	c.fire(c.disconnectListeners())
	select {
	case <-s.Lost():
	default:
		t.Fatal("subscription not marked lost")
	}

	// 再次断开不能因关闭的 channel 而 panic
	c.fire(c.disconnectListeners())

	require.NoError(t, s.Unsubscribe())
	require.NoError(t, s.Unsubscribe())
	assert.Empty(t, c.disconnectListeners())
}

func TestFeed_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://127.0.0.1:4222"
	}
	client, err := NewClient(config.NATSConfig{URL: url, MaxReconnects: 1, ReconnectWait: 100 * time.Millisecond})
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer client.Close()

	received := make(chan *model.ChangeEvent, 1)
	sub, err := NewFeed(client).Subscribe(99, func(evt *model.ChangeEvent) {
		received <- evt
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, client.Conn().Flush())

	pub := NewEventPublisher(client.Conn())
	require.NoError(t, pub.Publish(context.Background(), 99, &model.ChangeEvent{
		Kind:           model.EventMessageInserted,
		ConversationID: 5,
		MessageID:      6,
	}))

	select {
	case evt := <-received:
		assert.Equal(t, model.EventMessageInserted, evt.Kind)
		assert.Equal(t, int64(5), evt.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	client.Close()
	select {
	case <-sub.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not marked lost after close")
	}
}
