package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"sudooom.im.messaging/internal/config"
)

// Client NATS 客户端，连接状态变化通知给已注册的监听器
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu           sync.Mutex
	nextID       int
	onDisconnect map[int]func()
	onReconnect  map[int]func()
}

// NewClient 创建 NATS 客户端
func NewClient(cfg config.NATSConfig) (*Client, error) {
	c := &Client{
		logger:       slog.Default(),
		onDisconnect: make(map[int]func()),
		onReconnect:  make(map[int]func()),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("Disconnected from NATS", "error", err)
			c.fire(c.disconnectListeners())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
			c.fire(c.reconnectListeners())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
			c.fire(c.disconnectListeners())
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Conn 获取底层连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// OnDisconnect 注册断开回调，返回取消注册函数
func (c *Client) OnDisconnect(fn func()) func() {
	return c.register(c.onDisconnect, fn)
}

// OnReconnect 注册重连回调
func (c *Client) OnReconnect(fn func()) func() {
	return c.register(c.onReconnect, fn)
}

func (c *Client) register(set map[int]func(), fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	set[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(set, id)
		c.mu.Unlock()
	}
}

func (c *Client) disconnectListeners() []func() {
	return c.snapshot(c.onDisconnect)
}

func (c *Client) reconnectListeners() []func() {
	return c.snapshot(c.onReconnect)
}

func (c *Client) snapshot(set map[int]func()) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fns := make([]func(), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	return fns
}

func (c *Client) fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
