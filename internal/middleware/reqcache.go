package middleware

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
)

const ctxRequestCache = "request_cache"

// UserProfile 当前请求的用户信息
type UserProfile struct {
	UserID   int64
	Nickname string
	Avatar   string
	DeviceID string
	Platform string
}

// ProfileLoader 缓存未命中时加载用户信息
type ProfileLoader func(ctx context.Context, userID int64) (*UserProfile, error)

type profileEntry struct {
	once    sync.Once
	profile *UserProfile
	err     error
}

// requestCache 请求级缓存
type requestCache struct {
	mu      sync.Mutex
	entries map[int64]*profileEntry
}

func (rc *requestCache) entry(userID int64) *profileEntry {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[userID]
	if !ok {
		e = &profileEntry{}
		rc.entries[userID] = e
	}
	return e
}

// RequestCache 请求级缓存中间件
func RequestCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxRequestCache, &requestCache{entries: make(map[int64]*profileEntry)})
		c.Next()
	}
}

func cacheFrom(c *gin.Context) *requestCache {
	if v, ok := c.Get(ctxRequestCache); ok {
		return v.(*requestCache)
	}
	rc := &requestCache{entries: make(map[int64]*profileEntry)}
	c.Set(ctxRequestCache, rc)
	return rc
}

// Profile 获取用户信息，同一请求内 load 最多调用一次
func Profile(c *gin.Context, userID int64, load ProfileLoader) (*UserProfile, error) {
	e := cacheFrom(c).entry(userID)
	e.once.Do(func() {
		e.profile, e.err = load(c.Request.Context(), userID)
	})
	return e.profile, e.err
}

// CurrentProfile 获取当前登录用户信息，TokenAuth 已写入缓存，不会再访问 Redis
func CurrentProfile(c *gin.Context) *UserProfile {
	userID := GetUserID(c)
	p, err := Profile(c, userID, func(ctx context.Context, id int64) (*UserProfile, error) {
		return &UserProfile{UserID: id, DeviceID: GetDeviceID(c)}, nil
	})
	if err != nil || p == nil {
		return &UserProfile{UserID: userID}
	}
	return p
}
