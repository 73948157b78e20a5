package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	httppkg "pomelo/internal/pkg/http"
	"pomelo/internal/service"
)

// ConversationHandler 对话管理处理器
type ConversationHandler struct {
	svc *service.ChatService
}

// NewConversationHandler 创建对话管理处理器
func NewConversationHandler(svc *service.ChatService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// List 获取对话列表（按最近活跃倒序）
// GET /conversations
func (h *ConversationHandler) List(c *gin.Context) {
	var query model.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httppkg.NewErrorResponse(
			httppkg.CodeInvalidRequest, "Invalid query parameters", err.Error()))
		return
	}

	summaries, err := h.svc.ListConversations(c.Request.Context(), query.Limit, query.Offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": summaries,
		"total":         len(summaries),
	})
}

// Get 获取对话详情
// GET /conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.svc.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// GetMessages 获取对话消息（按追加顺序）
// GET /conversations/:id/messages
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	messages, err := h.svc.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"total":    len(messages),
	})
}

// Delete 删除对话及其全部消息
// DELETE /conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Conversation deleted",
	})
}

// ClearMessages 清空对话消息，保留对话记录
// DELETE /conversations/:id/messages
func (h *ConversationHandler) ClearMessages(c *gin.Context) {
	if err := h.svc.ClearMessages(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Conversation cleared",
	})
}
