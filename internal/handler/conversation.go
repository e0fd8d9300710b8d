package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/middleware"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/session"
	"sudooom.im.messaging/pkg/response"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	convs    *service.ConversationService
	receipts *service.ReadReceiptService
	sessions *session.Manager
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(convs *service.ConversationService, receipts *service.ReadReceiptService, sessions *session.Manager) *ConversationHandler {
	return &ConversationHandler{
		convs:    convs,
		receipts: receipts,
		sessions: sessions,
	}
}

// MarkReadRequest 标记已读请求，at 可选
type MarkReadRequest struct {
	At *time.Time `json:"at"`
}

// List godoc
// @Summary  List conversations with unread counts
// @Tags     conversations
// @Produce  json
// @Security BearerAuth
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	list, err := h.convs.ListConversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// Create godoc
// @Summary  Create a conversation
// @Tags     conversations
// @Accept   json
// @Produce  json
// @Security BearerAuth
// @Param    body body service.CreateConversationRequest true "members"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	var req service.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	me := middleware.CurrentProfile(c)
	req.Members = append(req.Members, memberFromProfile(me))

	conv, err := h.convs.Create(c.Request.Context(), me.UserID, &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, conv)
}

// Participants godoc
// @Summary  List the participants of a conversation
// @Tags     conversations
// @Produce  json
// @Security BearerAuth
// @Param    id path string true "conversation id"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/participants [get]
func (h *ConversationHandler) Participants(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	participants, err := h.convs.GetParticipants(c.Request.Context(), convID, middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": participants})
}

// Leave godoc
// @Summary  Leave a conversation
// @Tags     conversations
// @Security BearerAuth
// @Param    id path string true "conversation id"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/participants/me [delete]
func (h *ConversationHandler) Leave(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.convs.Leave(c.Request.Context(), convID, userID); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	h.sessions.ForceRefresh(userID)
	response.Success(c, nil)
}

// MarkRead godoc
// @Summary  Mark a conversation as read
// @Tags     conversations
// @Accept   json
// @Security BearerAuth
// @Param    id   path string          true  "conversation id"
// @Param    body body MarkReadRequest false "read time"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/read [post]
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
			return
		}
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	userID := middleware.GetUserID(c)
	watermark, err := h.receipts.MarkRead(c.Request.Context(), convID, userID, at)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	h.sessions.ForceRefresh(userID)
	response.Success(c, gin.H{"last_read_at": watermark})
}

// MarkDelivered godoc
// @Summary  Acknowledge delivery of a conversation's messages
// @Tags     conversations
// @Security BearerAuth
// @Param    id path string true "conversation id"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/delivered [post]
func (h *ConversationHandler) MarkDelivered(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.receipts.MarkDelivered(c.Request.Context(), convID, middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// pathID 解析路径中的雪花 ID，非法时直接写错误响应
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ErrorFromAppError(c, appErrors.ErrInvalidParams)
		return 0, false
	}
	return id, true
}
