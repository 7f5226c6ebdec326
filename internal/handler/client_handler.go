package handler

import (
	"net/http"

	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ClientHandler 处理客户端设置的查询和修改。
type ClientHandler struct {
	service service.ClientService
}

// NewClientHandler 创建一个新的 ClientHandler。
func NewClientHandler(service service.ClientService) *ClientHandler {
	return &ClientHandler{service: service}
}

// Get 返回客户端设置，首次出现的客户端会被创建。
func (h *ClientHandler) Get(c *gin.Context) {
	client, err := h.service.GetOrCreate(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "ClientHandler")
		return
	}
	success(c, client)
}

// Update 部分更新客户端设置。
func (h *ClientHandler) Update(c *gin.Context) {
	var req service.ClientUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	fingerprint := c.Param("client_id")
	client, err := h.service.Update(c.Request.Context(), fingerprint, req)
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "ClientHandler")
		return
	}
	log.Infof("[ClientHandler] 客户端设置已更新: %s", fingerprint)
	success(c, client)
}
