package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.messaging/internal/middleware"
	"sudooom.im.messaging/internal/model"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/session"
	"sudooom.im.messaging/pkg/response"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	messages *service.MessageService
	sessions *session.Manager
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messages *service.MessageService, sessions *session.Manager) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		sessions: sessions,
	}
}

// History godoc
// @Summary  Page through a conversation's messages
// @Tags     messages
// @Produce  json
// @Security BearerAuth
// @Param    id     path  string true  "conversation id"
// @Param    before query string false "message id cursor"
// @Param    limit  query int    false "page size"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/messages [get]
func (h *MessageHandler) History(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := h.messages.History(c.Request.Context(), convID, middleware.GetUserID(c), before, limit)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if page == nil {
		page = []*model.Message{}
	}
	response.Success(c, gin.H{"list": page})
}

// Send godoc
// @Summary  Send a message
// @Tags     messages
// @Accept   json
// @Produce  json
// @Security BearerAuth
// @Param    id   path string                     true "conversation id"
// @Param    body body service.SendMessageRequest true "message"
// @Success  200 {object} response.Response
// @Router   /api/v1/conversations/{id}/messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	msg, err := h.messages.Send(c.Request.Context(), convID, userID, &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	h.sessions.ForceRefresh(userID)
	response.Success(c, msg)
}

// Delete godoc
// @Summary  Delete one of your own messages
// @Tags     messages
// @Security BearerAuth
// @Param    id path string true "message id"
// @Success  200 {object} response.Response
// @Router   /api/v1/messages/{id} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	msgID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.messages.Delete(c.Request.Context(), msgID, middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
