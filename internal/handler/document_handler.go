package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"baguette-chat-go/internal/events"
	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理对话内文档的上传、查询、删除、搜索和事件流。
type DocumentHandler struct {
	service   service.DocumentService
	heartbeat time.Duration
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。heartbeat 为事件流空闲多久后发送心跳。
func NewDocumentHandler(service service.DocumentService, heartbeat time.Duration) *DocumentHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &DocumentHandler{service: service, heartbeat: heartbeat}
}

// Upload 接收 multipart 上传的文件并启动后台摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "缺少上传文件: "+err.Error())
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	conversationID := c.Param("conversation_id")
	log.Infof("[DocumentHandler] 收到上传请求: conversation=%s, file=%s, size=%d", conversationID, fileHeader.Filename, fileHeader.Size)
	view, err := h.service.Upload(c.Request.Context(), service.UploadRequest{
		ConversationID: conversationID,
		ClientID:       clientID,
		Filename:       fileHeader.Filename,
		Size:           fileHeader.Size,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Content:        file,
	})
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "DocumentHandler")
		return
	}
	success(c, view)
}

// List 返回对话内的全部文档，最新上传的在前。
func (h *DocumentHandler) List(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	docs, err := h.service.List(c.Request.Context(), c.Param("conversation_id"), clientID)
	if err != nil {
		failWith(c, err, http.StatusBadRequest, "DocumentHandler")
		return
	}
	success(c, docs)
}

// Delete 删除文档、存储的原件和关键词索引。
func (h *DocumentHandler) Delete(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	documentID := c.Param("document_id")
	if err := h.service.Delete(c.Request.Context(), c.Param("conversation_id"), documentID, clientID); err != nil {
		failWith(c, err, http.StatusInternalServerError, "DocumentHandler")
		return
	}
	success(c, gin.H{"id": documentID})
}

// Search 在对话的文档中做关键词搜索。
func (h *DocumentHandler) Search(c *gin.Context) {
	clientID, ok := requireClientID(c)
	if !ok {
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(service.DefaultKeywordSearchSize)))
	if err != nil || size <= 0 {
		size = service.DefaultKeywordSearchSize
	}
	query := c.Query("q")
	hits, err := h.service.Search(c.Request.Context(), c.Param("conversation_id"), clientID, query, size)
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "DocumentHandler")
		return
	}
	log.Infof("[DocumentHandler] 关键词搜索完成: query='%s', 返回 %d 条结果", query, len(hits))
	success(c, hits)
}

// Events 以 SSE 推送文档的处理进度：先发送当前状态，再回放历史，然后推送实时事件。
func (h *DocumentHandler) Events(c *gin.Context) {
	conversationID, documentID := c.Param("conversation_id"), c.Param("document_id")
	doc, err := h.service.AuthorizeStream(c.Request.Context(), conversationID, documentID, c.Query("client_id"), c.Query("ticket"))
	if err != nil {
		failWith(c, err, http.StatusInternalServerError, "DocumentHandler")
		return
	}

	sub, history := h.service.Subscribe(documentID)
	defer h.service.Unsubscribe(sub)
	log.Infof("[DocumentHandler] 事件流已建立: document=%s, 回放 %d 条历史", documentID, len(history))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := writeSSE(c.Writer, service.StatusSnapshot(doc)); err != nil {
		return
	}
	for _, ev := range history {
		if err := writeSSE(c.Writer, ev); err != nil {
			return
		}
	}

	idle := time.NewTimer(h.heartbeat)
	defer idle.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Infof("[DocumentHandler] 事件流客户端已断开: document=%s", documentID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(c.Writer, ev); err != nil {
				return
			}
		case <-idle.C:
			if err := writeSSE(c.Writer, events.Event{"type": events.TypeHeartbeat}); err != nil {
				return
			}
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(h.heartbeat)
	}
}

func writeSSE(w gin.ResponseWriter, ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Warnf("[DocumentHandler] 序列化事件失败: %v", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.Flush()
	return nil
}
