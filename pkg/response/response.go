package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.messaging/internal/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

const (
	CodeSuccess       = appErrors.CodeSuccess
	CodeUnauthorized  = appErrors.CodeUnauthorized
	CodeTokenExpired  = appErrors.CodeTokenExpired
	CodeInvalidParams = appErrors.CodeInvalidParams
	CodeServerError   = appErrors.CodeServerError
)

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 自定义错误信息响应
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 根据 AppError 返回错误响应，
// 未知错误统一返回服务器错误，不暴露内部信息
func ErrorFromAppError(c *gin.Context, err error) {
	code := appErrors.GetCode(err)
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context) {
	ErrorFromAppError(c, appErrors.ErrUnauthorized)
}

// statusFor 终态错误映射为 HTTP 状态码，其余错误保持 200 + 业务码
func statusFor(code int) int {
	switch code {
	case appErrors.CodeUnauthorized, appErrors.CodeTokenExpired:
		return http.StatusUnauthorized
	case appErrors.CodeForbidden:
		return http.StatusForbidden
	case appErrors.CodeConversationNotFound, appErrors.CodeMessageNotFound:
		return http.StatusNotFound
	case appErrors.CodeInvalidParams, appErrors.CodeNotEnoughMembers:
		return http.StatusBadRequest
	case appErrors.CodeTransientStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
