package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/unread"
)

// ErrSessionClosed 会话已关闭
var ErrSessionClosed = errors.New("session closed")

// FetchFunc 执行用户的聚合查询
type FetchFunc func(ctx context.Context) (*unread.Snapshot, error)

type waiter struct {
	minSeq uint64
	ch     chan error
}

// Coordinator 同一会话同时最多一个查询，
// 查询期间到达的请求合并为一次后续查询
type Coordinator struct {
	fetch   FetchFunc
	state   *UnreadState
	timeout time.Duration
	logger  *slog.Logger

	// live 在 Close 时置为 false，每次派发持有当时的指针，
	// 期间被置 false 则丢弃结果
	live *atomic.Bool

	mu      sync.Mutex
	running bool
	pending bool
	seq     uint64
	waiters []waiter
}

// NewCoordinator 创建协调器
func NewCoordinator(fetch FetchFunc, state *UnreadState, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	live := &atomic.Bool{}
	live.Store(true)
	return &Coordinator{
		fetch:   fetch,
		state:   state,
		timeout: timeout,
		logger:  logger,
		live:    live,
	}
}

// Trigger 请求刷新，不阻塞不失败，错误只记日志，下次触发重试
func (c *Coordinator) Trigger(reason string) {
	c.mu.Lock()
	if !c.live.Load() {
		c.mu.Unlock()
		return
	}
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.loop(reason)
}

// RefreshAndWait 请求刷新并等待调用之后开始的查询完成，返回查询错误
func (c *Coordinator) RefreshAndWait(ctx context.Context) error {
	c.mu.Lock()
	if !c.live.Load() {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	w := waiter{minSeq: c.seq + 1, ch: make(chan error, 1)}
	c.waiters = append(c.waiters, w)
	start := !c.running
	if c.running {
		c.pending = true
	} else {
		c.running = true
	}
	c.mu.Unlock()

	if start {
		go c.loop("force")
	}

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接受刷新，进行中的查询结果被丢弃
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.live.Store(false)
	c.pending = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.ch <- ErrSessionClosed
	}
}

// Seq 最近一次派发的序号
func (c *Coordinator) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Coordinator) loop(reason string) {
	for {
		c.mu.Lock()
		c.seq++
		seq := c.seq
		live := c.live
		c.mu.Unlock()

		err := c.run(seq, live, reason)

		c.mu.Lock()
		c.resolveLocked(seq, err)
		if c.pending && live.Load() {
			c.pending = false
			c.mu.Unlock()
			reason = "coalesced"
			continue
		}
		c.running = false
		c.pending = false
		c.mu.Unlock()
		return
	}
}

func (c *Coordinator) run(seq uint64, live *atomic.Bool, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := c.fetch(ctx)
	if err != nil {
		if appErrors.IsTerminal(err) {
			c.logger.Error("Unread refresh rejected", "seq", seq, "reason", reason, "error", err)
		} else {
			c.logger.Warn("Unread refresh failed, will retry", "seq", seq, "reason", reason, "error", err)
		}
		return err
	}

	if !live.Load() {
		c.logger.Debug("Discarding refresh for closed session", "seq", seq)
		return ErrSessionClosed
	}

	if !c.state.Apply(seq, snap) {
		c.logger.Debug("Discarding stale refresh", "seq", seq)
	}
	return nil
}

func (c *Coordinator) resolveLocked(seq uint64, err error) {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.minSeq <= seq {
			w.ch <- err
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}
