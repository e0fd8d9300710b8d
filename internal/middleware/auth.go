package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/jwt"
	"sudooom.im.messaging/internal/repository"
	"sudooom.im.messaging/pkg/response"
)

const (
	ctxUserID   = "user_id"
	ctxDeviceID = "device_id"
)

// TokenLookup 查询 Token 对应的用户信息
type TokenLookup interface {
	Lookup(ctx context.Context, accessToken string) (*repository.TokenInfo, error)
}

// TokenAuth Token 认证中间件。tokens 非空时校验 Redis 中会话仍有效，
// 用户信息写入请求级缓存
func TokenAuth(jwtService *jwt.Service, tokens TokenLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			if err == jwt.ErrTokenExpired {
				response.ErrorFromAppError(c, appErrors.ErrTokenExpired)
			} else {
				response.Unauthorized(c)
			}
			c.Abort()
			return
		}

		_, err = Profile(c, claims.UserID, func(ctx context.Context, userID int64) (*UserProfile, error) {
			p := &UserProfile{
				UserID:   claims.UserID,
				DeviceID: claims.DeviceID,
				Platform: string(claims.Platform),
			}
			if tokens == nil {
				return p, nil
			}
			info, err := tokens.Lookup(ctx, token)
			if err != nil {
				return nil, appErrors.ErrTransientStore.Wrap(err)
			}
			if info == nil || info.UserID != claims.UserID {
				return nil, appErrors.ErrUnauthorized
			}
			p.Nickname = info.Nickname
			p.Avatar = info.Avatar
			return p, nil
		})
		if err != nil {
			response.ErrorFromAppError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxDeviceID, claims.DeviceID)
		c.Next()
	}
}

// extractToken 从 "Authorization: Bearer <token>" 提取 Token，
// WebSocket 无法设置请求头，也接受 token 查询参数
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// GetUserID 获取当前用户 ID，未登录返回 0
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get(ctxUserID)
	if !exists {
		return 0
	}
	return userID.(int64)
}

// GetDeviceID 获取当前设备 ID
func GetDeviceID(c *gin.Context) string {
	deviceID, exists := c.Get(ctxDeviceID)
	if !exists {
		return ""
	}
	return deviceID.(string)
}
