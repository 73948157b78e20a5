package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	httppkg "pomelo/internal/pkg/http"
	"pomelo/internal/service"
)

// ModelHandler 模型目录处理器
type ModelHandler struct {
	svc *service.ChatService
}

// NewModelHandler 创建模型目录处理器
func NewModelHandler(svc *service.ChatService) *ModelHandler {
	return &ModelHandler{svc: svc}
}

// List 实时查询推理引擎的模型目录
// GET /models
// 引擎不可用时返回 502 和空列表，客户端回退到默认模型
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.svc.ListModels(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrUpstreamUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{
				"code":   httppkg.CodeUpstreamUnavailable,
				"models": models,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"models": models,
	})
}
