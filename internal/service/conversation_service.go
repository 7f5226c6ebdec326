package service

import (
	"context"
	"errors"
	"time"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/repository"
	"baguette-chat-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ObjectRemover 删除存储的上传原件。
type ObjectRemover interface {
	Remove(ctx context.Context, objectName string) error
}

// KeywordCleaner 删除关键词索引中的镜像分块。
type KeywordCleaner interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

// ConversationCreate 是新建对话的请求体，ID 由前端生成，为空时由服务端生成。
type ConversationCreate struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id" binding:"required"`
	Title    string `json:"title"`
}

// ConversationDetail 是对话及其全部消息。
type ConversationDetail struct {
	model.Conversation
	Messages []model.Message `json:"messages"`
}

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	List(ctx context.Context, fingerprint string) ([]model.ConversationSummary, error)
	Create(ctx context.Context, req ConversationCreate) (*model.ConversationSummary, error)
	Get(ctx context.Context, id, fingerprint string) (*ConversationDetail, error)
	UpdateTitle(ctx context.Context, id, fingerprint, title string) (*model.ConversationSummary, error)
	// Delete 删除对话，文档与消息级联删除，并清理存储的原件和关键词索引。
	Delete(ctx context.Context, id, fingerprint string) error
	// Touch 更新访问时间，不存在或不属于该客户端时返回 ErrNotFound。
	Touch(ctx context.Context, id, fingerprint string) error
	// ResolveForTurn 返回一轮对话使用的对话：id 为空时取最近访问的对话，没有则新建。
	ResolveForTurn(ctx context.Context, client *model.Client, id string) (*model.Conversation, error)
}

type conversationService struct {
	clients       repository.ClientRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	documents     repository.DocumentRepository
	objects       ObjectRemover
	keyword       KeywordCleaner
	now           func() time.Time
}

// NewConversationService 创建一个新的 ConversationService。objects 和 keyword 可以为 nil。
func NewConversationService(
	clients repository.ClientRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	documents repository.DocumentRepository,
	objects ObjectRemover,
	keyword KeywordCleaner,
) ConversationService {
	return &conversationService{
		clients:       clients,
		conversations: conversations,
		messages:      messages,
		documents:     documents,
		objects:       objects,
		keyword:       keyword,
		now:           time.Now,
	}
}

func (s *conversationService) List(ctx context.Context, fingerprint string) ([]model.ConversationSummary, error) {
	client, err := s.clients.GetOrCreate(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	return s.conversations.ListByClient(ctx, client.ID)
}

func (s *conversationService) Create(ctx context.Context, req ConversationCreate) (*model.ConversationSummary, error) {
	client, err := s.clients.GetOrCreate(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	conv := &model.Conversation{
		ID:             req.ID,
		ClientID:       client.ID,
		Title:          req.Title,
		LastAccessedAt: s.now(),
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Title == "" {
		conv.Title = model.DefaultConversationTitle
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return &model.ConversationSummary{Conversation: *conv}, nil
}

// owned 加载对话并校验归属：不存在为 ErrNotFound，属于他人为 ErrForbidden。
func (s *conversationService) owned(ctx context.Context, id, fingerprint string) (*model.Conversation, error) {
	client, err := s.clients.GetOrCreate(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrNotFound)
	}
	if conv.ClientID != client.ID {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, id, fingerprint string) (*ConversationDetail, error) {
	conv, err := s.owned(ctx, id, fingerprint)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: *conv, Messages: msgs}, nil
}

func (s *conversationService) UpdateTitle(ctx context.Context, id, fingerprint, title string) (*model.ConversationSummary, error) {
	conv, err := s.owned(ctx, id, fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.UpdateTitle(ctx, id, title); err != nil {
		return nil, err
	}
	conv.Title = title
	msgs, err := s.messages.ListByConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.ConversationSummary{Conversation: *conv, MessageCount: int64(len(msgs))}, nil
}

func (s *conversationService) Delete(ctx context.Context, id, fingerprint string) error {
	if _, err := s.owned(ctx, id, fingerprint); err != nil {
		return err
	}
	docs, err := s.documents.ListByConversation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.conversations.Delete(ctx, id); err != nil {
		return err
	}

	// 数据库记录已删除，外部存储的清理失败只记录日志
	if s.objects != nil {
		for _, d := range docs {
			if err := s.objects.Remove(ctx, d.OriginalPath); err != nil {
				log.Warnf("[ConversationService] 删除文档原件 %s 失败: %v", d.OriginalPath, err)
			}
		}
	}
	if s.keyword != nil && len(docs) > 0 {
		if err := s.keyword.DeleteByConversation(ctx, id); err != nil {
			log.Warnf("[ConversationService] 清理对话 %s 的关键词索引失败: %v", id, err)
		}
	}
	log.Infof("[ConversationService] 对话 %s 已删除，包含 %d 个文档", id, len(docs))
	return nil
}

func (s *conversationService) Touch(ctx context.Context, id, fingerprint string) error {
	if _, err := s.owned(ctx, id, fingerprint); err != nil {
		if errors.Is(err, ErrForbidden) {
			return ErrNotFound
		}
		return err
	}
	return s.conversations.Touch(ctx, id, s.now())
}

func (s *conversationService) ResolveForTurn(ctx context.Context, client *model.Client, id string) (*model.Conversation, error) {
	if id != "" {
		conv, err := s.conversations.FindByID(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, ErrNotFound)
		}
		if conv.ClientID != client.ID {
			return nil, ErrForbidden
		}
		return conv, nil
	}

	conv, err := s.conversations.FindMostRecent(ctx, client.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	conv = &model.Conversation{
		ID:             uuid.NewString(),
		ClientID:       client.ID,
		Title:          model.DefaultConversationTitle,
		LastAccessedAt: s.now(),
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	log.Infof("[ConversationService] 为客户端 %d 创建默认对话 %s", client.ID, conv.ID)
	return conv, nil
}
