package handler

import (
	"net/http"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ModelHandler 提供模型列表和系统提示模板。
type ModelHandler struct {
	service service.ModelService
}

// NewModelHandler 创建一个新的 ModelHandler。
func NewModelHandler(service service.ModelService) *ModelHandler {
	return &ModelHandler{service: service}
}

// ListModels 返回全部可用模型。
func (h *ModelHandler) ListModels(c *gin.Context) {
	models, err := h.service.ListModels(c.Request.Context())
	if err != nil {
		failWith(c, err, http.StatusBadRequest, "ModelHandler")
		return
	}
	success(c, models)
}

// ListTemplates 返回系统提示模板，默认模板在前。
func (h *ModelHandler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context())
	if err != nil {
		failWith(c, err, http.StatusBadRequest, "ModelHandler")
		return
	}
	success(c, templates)
}

// Health 返回服务存活状态。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": model.Now()})
}

// Banner 是根路径的欢迎信息。
func Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Baguettotron API is running"})
}
