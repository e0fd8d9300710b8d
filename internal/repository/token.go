package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// token:info:{accessToken} -> TokenInfo JSON，登录时由认证服务写入，登出时删除
const tokenInfoPrefix = "token:info:"

// TokenInfo Token 对应的用户信息
type TokenInfo struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
}

// TokenRepository Token 存储
type TokenRepository struct {
	rdb *redis.Client
}

// NewTokenRepository 创建 Token Repository
func NewTokenRepository(rdb *redis.Client) *TokenRepository {
	return &TokenRepository{rdb: rdb}
}

func buildTokenInfoKey(accessToken string) string {
	return tokenInfoPrefix + accessToken
}

// Lookup 获取 Token 对应的用户信息，Token 已撤销或过期时返回 nil
func (r *TokenRepository) Lookup(ctx context.Context, accessToken string) (*TokenInfo, error) {
	data, err := r.rdb.Get(ctx, buildTokenInfoKey(accessToken)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}
	return &info, nil
}

// Save 保存 Token 信息
func (r *TokenRepository) Save(ctx context.Context, info *TokenInfo, accessToken string, expiration time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}
	return r.rdb.Set(ctx, buildTokenInfoKey(accessToken), data, expiration).Err()
}

// Revoke 撤销 Token
func (r *TokenRepository) Revoke(ctx context.Context, accessToken string) error {
	return r.rdb.Del(ctx, buildTokenInfoKey(accessToken)).Err()
}

// Ping 检查 Redis 连接
func (r *TokenRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
