package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 排队等待的消息上限，生成过程中超出的消息会被丢弃。
const pendingMessageLimit = 16

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatMessage 是连接上收到的一条消息：{"type":"stop"} 或一轮对话请求。
type chatMessage struct {
	Type string `json:"type"`
	service.TurnRequest
}

// chatSession 是一个连接的状态。同一时刻最多有一轮生成，stop 关闭时提前结束。
type chatSession struct {
	mu   sync.Mutex
	stop chan struct{}
}

func (s *chatSession) begin() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = make(chan struct{})
	return s.stop
}

func (s *chatSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = nil
}

// requestStop 结束进行中的生成，返回是否有生成被结束。
func (s *chatSession) requestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return false
	}
	close(s.stop)
	s.stop = nil
	return true
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	remote := c.ClientIP()
	log.Infof("[ChatHandler] WebSocket 连接已建立: %s", remote)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := &chatSession{}
	pending := make(chan chatMessage, pendingMessageLimit)
	go h.readLoop(conn, session, pending, cancel)

	send := func(ev service.ChatEvent) error {
		return conn.WriteJSON(ev)
	}

	for msg := range pending {
		if strings.TrimSpace(msg.Message) == "" {
			_ = send(service.ChatEvent{"type": service.ChatEventError, "message": "message must not be empty"})
			continue
		}
		req := msg.TurnRequest
		if req.ClientID == "" {
			req.ClientID = remote
		}
		if req.ClientID == "" {
			req.ClientID = "anonymous"
		}

		stop := session.begin()
		err := h.chatService.Turn(ctx, req, stop, send)
		session.end()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warnf("[ChatHandler] 本轮对话失败: client=%s, err=%v", req.ClientID, err)
		}
	}
	log.Infof("[ChatHandler] WebSocket 连接已关闭: %s", remote)
}

// readLoop 持续读取连接上的消息。停止指令直接作用于进行中的生成，其余消息排队。
// 读取失败时取消进行中的生成并关闭 pending。
func (h *ChatHandler) readLoop(conn *websocket.Conn, session *chatSession, pending chan<- chatMessage, cancel context.CancelFunc) {
	defer close(pending)
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var msg chatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("[ChatHandler] 无法解析的消息: %v", err)
			continue
		}
		if msg.Type == "stop" {
			if session.requestStop() {
				log.Info("[ChatHandler] 收到停止指令，正在中断流式响应...")
			}
			continue
		}

		select {
		case pending <- msg:
		default:
			log.Warnf("[ChatHandler] 排队消息过多，丢弃一条消息")
		}
	}
}
