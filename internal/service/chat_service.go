package service

import (
	"context"
	"fmt"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/prompt"
	"baguette-chat-go/internal/rag"
	"baguette-chat-go/internal/repository"
	"baguette-chat-go/internal/stream"
	"baguette-chat-go/pkg/llm"
	"baguette-chat-go/pkg/log"
)

// 发送给前端的聊天事件类型。
const (
	ChatEventStart    = "start"
	ChatEventComplete = "complete"
	ChatEventError    = "error"
)

// ChatEvent 是一条发送给聊天连接的消息。
type ChatEvent map[string]any

// TurnRequest 是一轮聊天的输入。
type TurnRequest struct {
	Message        string `json:"message"`
	ThinkingMode   *bool  `json:"thinking_mode"`
	Model          string `json:"model"`
	ClientID       string `json:"client_id"`
	ConversationID string `json:"conversation_id"`
}

// ModelProvider 返回模型对应的生成客户端。
type ModelProvider interface {
	Get(model string) llm.Client
}

// ContextRetriever 为查询检索文档上下文，失败或无结果时返回 nil。
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, conversationID string, opts rag.SearchOptions) *rag.RAGContext
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Turn 执行一轮对话。stop 关闭时生成提前结束，已生成的内容照常持久化。
	// ctx 取消时直接返回，不持久化回复。
	Turn(ctx context.Context, req TurnRequest, stop <-chan struct{}, send func(ChatEvent) error) error
}

// ChatDeps 是 ChatService 的依赖。Retriever 为 nil 时不做检索增强。
type ChatDeps struct {
	Clients       repository.ClientRepository
	Conversations ConversationService
	Messages      repository.MessageRepository
	Documents     repository.DocumentRepository
	Models        ModelService
	LLM           ModelProvider
	Retriever     ContextRetriever
	Chat          config.ChatConfig
	RAG           config.RAGConfig
}

type chatService struct {
	ChatDeps
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(deps ChatDeps) ChatService {
	return &chatService{ChatDeps: deps}
}

func (s *chatService) Turn(ctx context.Context, req TurnRequest, stop <-chan struct{}, send func(ChatEvent) error) error {
	conversationID := req.ConversationID
	err := s.turn(ctx, req, stop, send, &conversationID)
	if err == nil || ctx.Err() != nil {
		return err
	}

	ev := ChatEvent{"type": ChatEventError, "message": err.Error()}
	if conversationID != "" {
		ev["conversation_id"] = conversationID
	}
	if sendErr := send(ev); sendErr != nil {
		log.Warnf("[ChatService] 发送错误事件失败: %v", sendErr)
	}
	return err
}

func (s *chatService) turn(ctx context.Context, req TurnRequest, stop <-chan struct{}, send func(ChatEvent) error, conversationID *string) error {
	thinkingMode := true
	if req.ThinkingMode != nil {
		thinkingMode = *req.ThinkingMode
	}
	modelName := req.Model
	if modelName == "" {
		modelName = s.Chat.DefaultModel
	}
	log.Infof("[ChatService] 新的对话请求: model=%s, thinking_mode=%t, client=%s", modelName, thinkingMode, req.ClientID)

	client, err := s.Clients.GetOrCreate(ctx, req.ClientID)
	if err != nil {
		return fmt.Errorf("加载客户端失败: %w", err)
	}
	modelCfg, behavior, err := s.Models.Lookup(ctx, modelName)
	if err != nil {
		return fmt.Errorf("加载模型配置失败: %w", err)
	}

	conv, err := s.Conversations.ResolveForTurn(ctx, client, req.ConversationID)
	if err != nil {
		return err
	}
	*conversationID = conv.ID
	if err := s.Conversations.Touch(ctx, conv.ID, req.ClientID); err != nil {
		return err
	}

	backend := s.LLM.Get(modelName)
	systemPrompt := ""
	if client.SystemPrompt != nil {
		systemPrompt = *client.SystemPrompt
	}
	systemTokens, err := prompt.CountSystemPromptTokens(ctx, backend, systemPrompt)
	if err != nil {
		return fmt.Errorf("统计系统提示 token 失败: %w", err)
	}

	history, err := s.persistUserTurn(ctx, conv.ID, req.Message, backend, systemTokens)
	if err != nil {
		return err
	}

	var text string
	if ragCtx := s.retrieve(ctx, req.Message, conv.ID); ragCtx != nil {
		text = prompt.FormatPromptWithRAG(history[:len(history)-1], thinkingMode, systemPrompt, ragCtx.Sources, req.Message)
	} else {
		text = prompt.FormatPrompt(history, thinkingMode, systemPrompt)
	}

	if err := send(ChatEvent{
		"type":            ChatEventStart,
		"model":           modelName,
		"thinking_mode":   thinkingMode,
		"conversation_id": conv.ID,
	}); err != nil {
		return err
	}

	forwardThinking := behavior == stream.BehaviorFixed || thinkingMode
	emit := func(evs []stream.Event) error {
		for _, ev := range evs {
			if ev.Type == stream.EventThinking && !forwardThinking {
				continue
			}
			if err := send(wireEvent(ev, conv.ID)); err != nil {
				return err
			}
		}
		return nil
	}

	// 停止指令同时取消生成请求，后端卡在首个片段之前也能立即结束
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()
	go func() {
		select {
		case <-stop:
			cancelGen()
		case <-genCtx.Done():
		}
	}()

	state := stream.NewState(behavior, thinkingMode)
	params := prompt.ResolveGenerationParams(client, modelCfg)
	err = backend.StreamCompletion(genCtx, text, params, func(fragment string) error {
		select {
		case <-stop:
			log.Infof("[ChatService] 收到停止指令，结束生成: conversation=%s", conv.ID)
			return llm.ErrStopped
		default:
		}
		var evs []stream.Event
		state, evs = state.Feed(fragment)
		if err := emit(evs); err != nil {
			return err
		}
		if state.Ended {
			return llm.ErrStopped
		}
		return nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warnf("[ChatService] 连接已断开，放弃本轮回复: conversation=%s", conv.ID)
		return ctxErr
	}
	if err != nil {
		if genCtx.Err() == nil {
			return fmt.Errorf("生成失败: %w", err)
		}
		log.Infof("[ChatService] 生成已按停止指令中断: conversation=%s", conv.ID)
	}

	_, evs, result := state.Finish()
	if err := emit(evs); err != nil {
		return err
	}
	if len(evs) > 0 {
		log.Warnf("[ChatService] 思考段未闭合，已重新归类为回复: conversation=%s", conv.ID)
	}

	if err := s.persistAssistantTurn(ctx, conv.ID, result, backend, systemTokens); err != nil {
		return err
	}
	log.Infof("[ChatService] 本轮生成完成: conversation=%s, response=%d 字节", conv.ID, len(result.Response))

	return send(ChatEvent{
		"type":            ChatEventComplete,
		"conversation_id": conv.ID,
		"full_response":   result.Response,
	})
}

func wireEvent(ev stream.Event, conversationID string) ChatEvent {
	out := ChatEvent{"type": string(ev.Type), "conversation_id": conversationID}
	switch ev.Type {
	case stream.EventThinking:
		out["content"] = ev.Content
		out["complete"] = ev.Complete
	case stream.EventToken:
		out["content"] = ev.Content
	}
	return out
}

// retrieve 在开启检索增强且对话有就绪文档时检索上下文，任何失败都降级为无上下文。
func (s *chatService) retrieve(ctx context.Context, query, conversationID string) *rag.RAGContext {
	if !s.RAG.Enabled || s.Retriever == nil {
		log.Debugf("[ChatService] 跳过检索增强: 未启用或没有向量化能力")
		return nil
	}
	n, err := s.Documents.CountReady(ctx, conversationID)
	if err != nil {
		log.Warnf("[ChatService] 查询就绪文档失败，跳过检索增强: %v", err)
		return nil
	}
	if n == 0 {
		log.Debugf("[ChatService] 对话 %s 没有就绪文档，跳过检索增强", conversationID)
		return nil
	}
	ragCtx := s.Retriever.Retrieve(ctx, query, conversationID, rag.SearchOptions{
		TopK:          s.RAG.TopK,
		MinSimilarity: s.RAG.MinSimilarity,
	})
	if ragCtx != nil {
		log.Infof("[ChatService] 检索到 %d 个相关分块", len(ragCtx.Chunks))
	}
	return ragCtx
}

func toPromptMessages(msgs []model.Message) []prompt.Message {
	out := make([]prompt.Message, len(msgs))
	for i, m := range msgs {
		out[i] = prompt.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// appendTurn 截断 存量消息+新消息 到预算内，在一个事务中删除被截掉的旧消息并写入新消息。
// 返回截断后的历史，最后一条是新消息。
func (s *chatService) appendTurn(ctx context.Context, msg *model.Message, counter prompt.TokenCounter, systemTokens int) ([]prompt.Message, error) {
	stored, err := s.Messages.ListByConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("加载对话历史失败: %w", err)
	}
	all := append(toPromptMessages(stored), prompt.Message{Role: msg.Role, Content: msg.Content})
	kept, err := prompt.TruncateHistory(ctx, all, counter, s.Chat.PromptBudget(), systemTokens)
	if err != nil {
		return nil, err
	}

	dropped := len(all) - len(kept)
	pruneIDs := make([]uint, 0, dropped)
	for i := 0; i < dropped && i < len(stored); i++ {
		pruneIDs = append(pruneIDs, stored[i].ID)
	}
	if err := s.Messages.AppendAndPrune(ctx, msg, pruneIDs); err != nil {
		return nil, fmt.Errorf("保存消息失败: %w", err)
	}
	return kept, nil
}

func (s *chatService) persistUserTurn(ctx context.Context, conversationID, content string, counter prompt.TokenCounter, systemTokens int) ([]prompt.Message, error) {
	return s.appendTurn(ctx, &model.Message{
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        content,
	}, counter, systemTokens)
}

func (s *chatService) persistAssistantTurn(ctx context.Context, conversationID string, result stream.Result, counter prompt.TokenCounter, systemTokens int) error {
	_, err := s.appendTurn(ctx, &model.Message{
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        result.Response,
		Thinking:       result.Thinking,
	}, counter, systemTokens)
	return err
}
