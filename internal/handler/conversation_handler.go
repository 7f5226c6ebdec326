package handler

import (
	"net/http"

	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type titleUpdate struct {
	Title string `json:"title" binding:"required,max=255"`
}

// List 返回客户端的全部对话，最近访问的在前。
func (h *ConversationHandler) List(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	convs, err := h.service.List(c.Request.Context(), clientID)
	if err != nil {
		failWith(c, err, http.StatusBadRequest, "ConversationHandler")
		return
	}
	success(c, convs)
}

// Create 新建一个对话。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req service.ConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	conv, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "ConversationHandler")
		return
	}
	log.Infof("[ConversationHandler] 对话已创建: id=%s, client=%s", conv.ID, req.ClientID)
	success(c, conv)
}

// Get 返回对话及其消息。
func (h *ConversationHandler) Get(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), c.Param("conversation_id"), clientID)
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "ConversationHandler")
		return
	}
	success(c, detail)
}

// UpdateTitle 修改对话标题。
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	var req titleUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	conv, err := h.service.UpdateTitle(c.Request.Context(), c.Param("conversation_id"), clientID, req.Title)
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "ConversationHandler")
		return
	}
	success(c, conv)
}

// Delete 删除对话及其消息和文档。
func (h *ConversationHandler) Delete(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	id := c.Param("conversation_id")
	if err := h.service.Delete(c.Request.Context(), id, clientID); err != nil {
		failWith(c, err, http.StatusInternalServerError, "ConversationHandler")
		return
	}
	success(c, gin.H{"id": id})
}

// Touch 更新对话的最近访问时间。
func (h *ConversationHandler) Touch(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	id := c.Param("conversation_id")
	if err := h.service.Touch(c.Request.Context(), id, clientID); err != nil {
		failWith(c, err, http.StatusInternalServerError, "ConversationHandler")
		return
	}
	success(c, gin.H{"id": id})
}
