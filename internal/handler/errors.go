package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	httppkg "pomelo/internal/pkg/http"
	"pomelo/internal/service"
)

// writeError 将业务错误映射为 HTTP 响应
// 调用方已持久化的用户输入不受影响，客户端可凭同一 conversation_id 重试
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, httppkg.NewErrorResponse(
			httppkg.CodeConversationNotFound, "Conversation not found"))
	case errors.Is(err, service.ErrModelNotFound):
		c.JSON(http.StatusNotFound, httppkg.NewErrorResponse(
			httppkg.CodeModelNotFound, "Model not found", err.Error()))
	case errors.Is(err, service.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, httppkg.NewErrorResponse(
			httppkg.CodeUpstreamUnavailable, "Inference engine unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, httppkg.NewErrorResponse(
			httppkg.CodeStorageError, "Internal error", err.Error()))
	}
}
