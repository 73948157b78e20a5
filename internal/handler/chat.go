package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	httppkg "pomelo/internal/pkg/http"
	"pomelo/internal/service"
)

// ChatHandler 对话处理器
type ChatHandler struct {
	svc *service.ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// Chat 对话接口
// POST /chat
// 无 conversation_id 时隐式创建新对话，响应中返回其 id
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httppkg.NewErrorResponse(
			httppkg.CodeInvalidRequest, "Invalid request body", err.Error()))
		return
	}

	resp, err := h.svc.Chat(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
