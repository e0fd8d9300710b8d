package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/realtime"
	"sudooom.im.messaging/internal/repository"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/snowflake"
	"sudooom.im.messaging/internal/unread"
)

const (
	waitFor   = 2 * time.Second
	tickEvery = 5 * time.Millisecond
)

// blockingFetch 统计调用次数，每次调用阻塞到被释放
type blockingFetch struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	total   atomic.Int32
}

func newBlockingFetch() *blockingFetch {
	return &blockingFetch{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (f *blockingFetch) fetch(ctx context.Context) (*unread.Snapshot, error) {
	f.calls.Add(1)
	f.entered <- struct{}{}
	<-f.release
	return &unread.Snapshot{Total: int(f.total.Load()), PerConversation: map[int64]int{}}, nil
}

func TestCoordinator_CoalescesConcurrentTriggers(t *testing.T) {
	f := newBlockingFetch()
	state := NewUnreadState()
	c := NewCoordinator(f.fetch, state, time.Second, nil)

	c.Trigger("first")
	<-f.entered

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Trigger("burst")
		}()
	}
	wg.Wait()

	close(f.release)
	require.Eventually(t, func() bool {
		_, seq := state.Snapshot()
		return seq == 2
	}, waitFor, tickEvery)

	// 留出时间让多余的第三次查询暴露出来
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCoordinator_SingleTriggerRunsOnce(t *testing.T) {
	var calls atomic.Int32
	state := NewUnreadState()
	c := NewCoordinator(func(ctx context.Context) (*unread.Snapshot, error) {
		calls.Add(1)
		return &unread.Snapshot{}, nil
	}, state, time.Second, nil)

	c.Trigger("once")
	require.Eventually(t, func() bool { _, seq := state.Snapshot(); return seq == 1 }, waitFor, tickEvery)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnreadState_RejectsStale(t *testing.T) {
	state := NewUnreadState()
	newer := &unread.Snapshot{Total: 5}
	older := &unread.Snapshot{Total: 1}

	assert.True(t, state.Apply(2, newer))
	assert.False(t, state.Apply(1, older))
	assert.False(t, state.Apply(2, older))

	snap, seq := state.Snapshot()
	assert.Same(t, newer, snap)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, 5, state.Total())
}

func TestUnreadState_SubscribeAndUnsubscribe(t *testing.T) {
	state := NewUnreadState()
	var got []int
	unsubscribe := state.Subscribe(func(s *unread.Snapshot) { got = append(got, s.Total) })

	state.Apply(1, &unread.Snapshot{Total: 1})
	state.Apply(2, &unread.Snapshot{Total: 3})
	unsubscribe()
	unsubscribe()
	state.Apply(3, &unread.Snapshot{Total: 4})

	assert.Equal(t, []int{1, 3}, got)
}

func TestCoordinator_DiscardsResultAfterClose(t *testing.T) {
	f := newBlockingFetch()
	f.total.Store(9)
	state := NewUnreadState()
	c := NewCoordinator(f.fetch, state, time.Second, nil)

	c.Trigger("in flight")
	<-f.entered
	c.Close()
	close(f.release)

	time.Sleep(30 * time.Millisecond)
	snap, _ := state.Snapshot()
	assert.Nil(t, snap)

	c.Trigger("after close")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCoordinator_SwallowsFetchErrors(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	state := NewUnreadState()
	c := NewCoordinator(func(ctx context.Context) (*unread.Snapshot, error) {
		if fail.Load() {
			return nil, appErrors.ErrTransientStore.Wrap(errors.New("connection reset"))
		}
		return &unread.Snapshot{Total: 2}, nil
	}, state, time.Second, nil)

	c.Trigger("tick")
	require.Eventually(t, func() bool { return c.Seq() == 1 }, waitFor, tickEvery)
	time.Sleep(10 * time.Millisecond)
	snap, _ := state.Snapshot()
	assert.Nil(t, snap)

	fail.Store(false)
	c.Trigger("tick")
	require.Eventually(t, func() bool { return state.Total() == 2 }, waitFor, tickEvery)
}

func TestCoordinator_RefreshAndWait(t *testing.T) {
	var fail atomic.Bool
	state := NewUnreadState()
	c := NewCoordinator(func(ctx context.Context) (*unread.Snapshot, error) {
		if fail.Load() {
			return nil, appErrors.ErrTransientStore
		}
		return &unread.Snapshot{Total: 4}, nil
	}, state, time.Second, nil)

	ctx := context.Background()
	require.NoError(t, c.RefreshAndWait(ctx))
	assert.Equal(t, 4, state.Total())

	fail.Store(true)
	err := c.RefreshAndWait(ctx)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransientStore))

	c.Close()
	assert.ErrorIs(t, c.RefreshAndWait(ctx), ErrSessionClosed)
}

func TestCoordinator_RefreshAndWaitSeesLaterFetch(t *testing.T) {
	f := newBlockingFetch()
	state := NewUnreadState()
	c := NewCoordinator(f.fetch, state, time.Second, nil)

	c.Trigger("first")
	<-f.entered

	done := make(chan error, 1)
	go func() { done <- c.RefreshAndWait(context.Background()) }()

	// 等待方不能被调用前已在运行的查询满足
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 1
	}, waitFor, tickEvery)

	f.release <- struct{}{}
	<-f.entered
	select {
	case <-done:
		t.Fatal("waiter returned before its own fetch finished")
	case <-time.After(20 * time.Millisecond):
	}

	f.release <- struct{}{}
	require.NoError(t, <-done)
	_, seq := state.Snapshot()
	assert.Equal(t, uint64(2), seq)
}

func TestReconciler_IntervalFollowsMode(t *testing.T) {
	var ticks atomic.Int32
	r := NewReconciler(func(string) { ticks.Add(1) }, 5*time.Millisecond, time.Hour)
	r.Start()
	defer r.Stop()

	assert.True(t, r.Degraded())
	assert.Equal(t, 5*time.Millisecond, r.Interval())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, waitFor, tickEvery)

	r.SetDegraded(false)
	assert.Equal(t, time.Hour, r.Interval())
	time.Sleep(20 * time.Millisecond)
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())

	r.SetDegraded(true)
	require.Eventually(t, func() bool { return ticks.Load() >= settled+3 }, waitFor, tickEvery)
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	r := NewReconciler(func(string) {}, time.Millisecond, time.Second)
	r.Stop()
	r.Start()
	r.Stop()

	r2 := NewReconciler(func(string) {}, time.Millisecond, time.Second)
	r2.Start()
	r2.Stop()
	r2.Stop()
}

// messagingEnv 基于内存存储和进程内 Hub 组装服务
type messagingEnv struct {
	hub      *realtime.Hub
	convs    *service.ConversationService
	messages *service.MessageService
	receipts *service.ReadReceiptService
	manager  *Manager
}

func newMessagingEnv(t *testing.T, cfg Config) *messagingEnv {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	hub := realtime.NewHub()
	env := &messagingEnv{
		hub:      hub,
		convs:    service.NewConversationService(store, hub, node),
		messages: service.NewMessageService(store, hub, node),
		receipts: service.NewReadReceiptService(store, hub),
	}
	env.manager = NewManager(hub, env.convs, cfg)
	t.Cleanup(env.manager.Shutdown)
	return env
}

func totalIs(s *Session, want int) func() bool {
	return func() bool {
		snap := s.Snapshot()
		return snap != nil && snap.Total == want
	}
}

func TestSession_EventDrivenRefresh(t *testing.T) {
	env := newMessagingEnv(t, Config{
		RetryWait:        10 * time.Millisecond,
		FallbackInterval: time.Hour,
		SafetyInterval:   time.Hour,
	})
	ctx := context.Background()
	const alice, bob = 1, 2

	conv, err := env.convs.Create(ctx, alice, &service.CreateConversationRequest{Members: []model.Member{{UserID: bob}}})
	require.NoError(t, err)

	bobSession := env.manager.Open(bob)
	aliceSession := env.manager.Open(alice)
	require.Eventually(t, func() bool { return bobSession.RealtimeState() == realtime.Subscribed }, waitFor, tickEvery)
	require.Eventually(t, totalIs(bobSession, 0), waitFor, tickEvery)
	assert.False(t, bobSession.Degraded())

	time.Sleep(time.Millisecond)
	_, err = env.messages.Send(ctx, conv.ID, alice, &service.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	require.Eventually(t, totalIs(bobSession, 1), waitFor, tickEvery)
	assert.Equal(t, 1, bobSession.Snapshot().Unread(conv.ID))

	time.Sleep(time.Millisecond)
	_, err = env.receipts.MarkRead(ctx, conv.ID, bob, time.Time{})
	require.NoError(t, err)
	require.Eventually(t, totalIs(bobSession, 0), waitFor, tickEvery)

	require.Eventually(t, totalIs(aliceSession, 0), waitFor, tickEvery)
}

func TestSession_ReconnectHealsMissedMessages(t *testing.T) {
	env := newMessagingEnv(t, Config{
		RetryWait:        10 * time.Millisecond,
		FallbackInterval: time.Hour,
		SafetyInterval:   time.Hour,
	})
	ctx := context.Background()
	const alice, bob = 1, 2

	conv, err := env.convs.Create(ctx, alice, &service.CreateConversationRequest{Members: []model.Member{{UserID: bob}}})
	require.NoError(t, err)

	bobSession := env.manager.Open(bob)
	require.Eventually(t, func() bool { return bobSession.RealtimeState() == realtime.Subscribed }, waitFor, tickEvery)
	require.Eventually(t, totalIs(bobSession, 0), waitFor, tickEvery)

	env.hub.Disconnect()
	require.Eventually(t, bobSession.Degraded, waitFor, tickEvery)

	for _, text := range []string{"one", "two"} {
		time.Sleep(time.Millisecond)
		_, err := env.messages.Send(ctx, conv.ID, alice, &service.SendMessageRequest{Content: text})
		require.NoError(t, err)
	}

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, bobSession.Total())

	env.hub.Reconnect()
	require.Eventually(t, totalIs(bobSession, 2), waitFor, tickEvery)
	assert.False(t, bobSession.Degraded())
}

func TestSession_DegradedModePolls(t *testing.T) {
	env := newMessagingEnv(t, Config{
		RetryWait:        time.Hour,
		FallbackInterval: 10 * time.Millisecond,
		SafetyInterval:   time.Hour,
	})
	ctx := context.Background()
	env.hub.Disconnect()

	conv, err := env.convs.Create(ctx, 1, &service.CreateConversationRequest{Members: []model.Member{{UserID: 2}}})
	require.NoError(t, err)

	bobSession := env.manager.Open(2)
	require.Eventually(t, totalIs(bobSession, 0), waitFor, tickEvery)
	assert.True(t, bobSession.Degraded())

	time.Sleep(time.Millisecond)
	_, err = env.messages.Send(ctx, conv.ID, 1, &service.SendMessageRequest{Content: "polled"})
	require.NoError(t, err)

	require.Eventually(t, totalIs(bobSession, 1), waitFor, tickEvery)
	assert.Equal(t, realtime.Disconnected, bobSession.RealtimeState())
}

func TestManager_ForceRefreshAndClose(t *testing.T) {
	var calls atomic.Int32
	source := unreadSourceFunc(func(ctx context.Context, userID int64) (*unread.Snapshot, error) {
		n := calls.Add(1)
		return &unread.Snapshot{UserID: userID, Total: int(n)}, nil
	})
	hub := realtime.NewHub()
	m := NewManager(hub, source, Config{
		RetryWait:        10 * time.Millisecond,
		FallbackInterval: time.Hour,
		SafetyInterval:   time.Hour,
	})
	defer m.Shutdown()

	s := m.Open(5)
	require.Eventually(t, func() bool { return s.Snapshot() != nil }, waitFor, tickEvery)
	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	before := s.Total()
	m.ForceRefresh(5)
	require.Eventually(t, func() bool { return s.Total() > before }, waitFor, tickEvery)

	m.Close(s.ID)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, hub.Subscribers(5))
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrSessionClosed)

	m.Close(s.ID)
	m.ForceRefresh(5)
}

type unreadSourceFunc func(ctx context.Context, userID int64) (*unread.Snapshot, error)

func (f unreadSourceFunc) GetUnreadCount(ctx context.Context, userID int64) (*unread.Snapshot, error) {
	return f(ctx, userID)
}
