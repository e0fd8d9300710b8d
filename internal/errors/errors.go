package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误。Code 标识类别，Message 可返回给调用方，
// Err 保留底层原因用于日志
type AppError struct {
	Code    int
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建应用错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装底层错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断错误码是否相同
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，非 AppError 返回 CodeServerError
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误信息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// IsTerminal 是否为不可重试、需直接返回调用方的错误
func IsTerminal(err error) bool {
	switch GetCode(err) {
	case CodeUnauthorized, CodeForbidden, CodeConversationNotFound, CodeMessageNotFound, CodeInvalidParams:
		return true
	}
	return false
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeUnauthorized = 10003
	CodeTokenExpired = 10004

	// 参数相关 11000-11999
	CodeInvalidParams = 11002

	// 会话相关 13000-13999
	CodeForbidden            = 13001
	CodeConversationNotFound = 13002
	CodeMessageNotFound      = 13003
	CodeNotEnoughMembers     = 13004

	// 系统错误 50000-50999
	CodeServerError       = 50001
	CodeDBError           = 50002
	CodeTransientStore    = 50004
	CodeSubscriptionError = 50005
)

// ============== 预定义错误 ==============

var (
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")
	ErrTokenExpired = NewError(CodeTokenExpired, "token expired")
)

var (
	ErrInvalidParams = NewError(CodeInvalidParams, "invalid parameters")
)

var (
	ErrForbidden            = NewError(CodeForbidden, "not a participant of this conversation")
	ErrConversationNotFound = NewError(CodeConversationNotFound, "conversation not found")
	ErrMessageNotFound      = NewError(CodeMessageNotFound, "message not found")
	ErrNotEnoughMembers     = NewError(CodeNotEnoughMembers, "a conversation needs at least two participants")
)

var (
	ErrServerError       = NewError(CodeServerError, "internal server error")
	ErrDBError           = NewError(CodeDBError, "database error")
	ErrTransientStore    = NewError(CodeTransientStore, "store temporarily unavailable")
	ErrSubscriptionError = NewError(CodeSubscriptionError, "realtime subscription failed")
)
