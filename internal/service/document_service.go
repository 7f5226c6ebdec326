package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/internal/events"
	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/repository"
	"baguette-chat-go/pkg/log"
	"baguette-chat-go/pkg/tasks"
	"baguette-chat-go/pkg/token"

	"github.com/google/uuid"
)

// DefaultKeywordSearchSize 关键词搜索的默认返回条数。
const DefaultKeywordSearchSize = 10

// ObjectStore 保存和删除上传的原件。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	ObjectRemover
}

// Dispatcher 把摄取任务交给后台执行。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.DocumentTask) error
}

// KeywordIndex 是关键词镜像的查询和清理能力。
type KeywordIndex interface {
	KeywordCleaner
	SearchKeyword(ctx context.Context, conversationID, query string, size int) ([]model.KeywordHit, error)
}

// EventHub 是文档事件的发布与订阅。
type EventHub interface {
	Broadcast(documentID string, event events.Event)
	SubscribeWithHistory(documentID string) (*events.Subscription, []events.Event)
	Unsubscribe(sub *events.Subscription)
}

// UploadRequest 是一次文档上传。
type UploadRequest struct {
	ConversationID string
	ClientID       string
	Filename       string
	Size           int64
	ContentType    string
	Content        io.Reader
}

// DocumentView 是返回给前端的文档，附带事件流地址。
type DocumentView struct {
	model.Document
	SSEURL string `json:"sse_url"`
}

// DocumentService 定义了文档上传、查询、删除和事件订阅的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, req UploadRequest) (*DocumentView, error)
	List(ctx context.Context, conversationID, clientID string) ([]DocumentView, error)
	Delete(ctx context.Context, conversationID, documentID, clientID string) error
	Search(ctx context.Context, conversationID, clientID, query string, size int) ([]model.KeywordHit, error)
	// AuthorizeStream 通过票据或客户端指纹校验事件流的访问权，返回文档当前状态。
	AuthorizeStream(ctx context.Context, conversationID, documentID, clientID, ticket string) (*model.Document, error)
	// Subscribe 订阅文档事件，返回订阅和历史事件。
	Subscribe(documentID string) (*events.Subscription, []events.Event)
	Unsubscribe(sub *events.Subscription)
}

// DocumentDeps 是 DocumentService 的依赖。Keyword 可以为 nil。
type DocumentDeps struct {
	Clients       repository.ClientRepository
	Conversations repository.ConversationRepository
	Documents     repository.DocumentRepository
	Objects       ObjectStore
	Dispatcher    Dispatcher
	Events        EventHub
	Tickets       *token.TicketManager
	Keyword       KeywordIndex
	// Supports 判断扩展名是否有对应的抽取器。
	Supports      func(ext string) bool
	RAG           config.RAGConfig
	PublicBaseURL string
}

type documentService struct {
	DocumentDeps
	allowed map[string]bool
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(deps DocumentDeps) DocumentService {
	allowed := make(map[string]bool, len(deps.RAG.AllowedExtensions))
	for _, ext := range deps.RAG.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &documentService{DocumentDeps: deps, allowed: allowed}
}

func (s *documentService) allowedList() string {
	exts := make([]string, 0, len(s.RAG.AllowedExtensions))
	for _, ext := range s.RAG.AllowedExtensions {
		if s.Supports == nil || s.Supports(ext) {
			exts = append(exts, strings.ToLower(ext))
		}
	}
	return strings.Join(exts, ", ")
}

func (s *documentService) validate(req UploadRequest) (string, error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if ext == "" || !s.allowed[ext] || (s.Supports != nil && !s.Supports(ext)) {
		return "", validationErrorf("Unsupported file type. Allowed: %s", s.allowedList())
	}
	if req.Size <= 0 {
		return "", validationErrorf("Uploaded file is empty")
	}
	limit := s.RAG.MaxFileSizeMB * 1024 * 1024
	if limit > 0 && req.Size > limit {
		return "", validationErrorf("File size (%.1fMB) exceeds maximum allowed size (%dMB)",
			float64(req.Size)/(1024*1024), s.RAG.MaxFileSizeMB)
	}
	return ext, nil
}

// ownedConversation 文档接口不区分不存在和属于他人，统一返回 ErrNotFound。
func (s *documentService) ownedConversation(ctx context.Context, conversationID, clientID string) error {
	client, err := s.Clients.GetOrCreate(ctx, clientID)
	if err != nil {
		return err
	}
	conv, err := s.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return notFoundAs(err, ErrNotFound)
	}
	if conv.ClientID != client.ID {
		return ErrNotFound
	}
	return nil
}

func (s *documentService) findInConversation(ctx context.Context, conversationID, documentID string) (*model.Document, error) {
	doc, err := s.Documents.FindByID(ctx, documentID)
	if err != nil {
		return nil, notFoundAs(err, ErrNotFound)
	}
	if doc.ConversationID != conversationID {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *documentService) view(doc model.Document, clientID string) DocumentView {
	v := DocumentView{Document: doc}
	path := fmt.Sprintf("/api/conversations/%s/documents/%s/events", doc.ConversationID, doc.ID)
	ticket, err := s.Tickets.Generate(doc.ID, doc.ConversationID, clientID)
	if err != nil {
		log.Errorf("[DocumentService] 签发事件流票据失败: %v", err)
		v.SSEURL = s.PublicBaseURL + path + "?client_id=" + url.QueryEscape(clientID)
		return v
	}
	v.SSEURL = s.PublicBaseURL + path + "?ticket=" + url.QueryEscape(ticket)
	return v
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*DocumentView, error) {
	ext, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if err := s.ownedConversation(ctx, req.ConversationID, req.ClientID); err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	objectName := fmt.Sprintf("documents/%s/%s%s", req.ConversationID, documentID, ext)
	if err := s.Objects.Put(ctx, objectName, req.Content, req.Size, req.ContentType); err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = "document" + ext
	}
	doc := &model.Document{
		ID:             documentID,
		ConversationID: req.ConversationID,
		Filename:       filename,
		OriginalPath:   objectName,
		Status:         model.DocumentProcessing,
	}
	if err := s.Documents.Create(ctx, doc); err != nil {
		if rmErr := s.Objects.Remove(context.WithoutCancel(ctx), objectName); rmErr != nil {
			log.Warnf("[DocumentService] 回滚上传的原件 %s 失败: %v", objectName, rmErr)
		}
		return nil, err
	}
	log.Infof("[DocumentService] 文档已上传: id=%s, file=%s, size=%d, conversation=%s", documentID, filename, req.Size, req.ConversationID)

	s.Events.Broadcast(documentID, events.Event{
		"type":            events.TypeUploadReceived,
		"document_id":     documentID,
		"conversation_id": req.ConversationID,
		"filename":        filename,
		"status":          model.DocumentProcessing,
	})

	task := tasks.DocumentTask{
		DocumentID:     documentID,
		ConversationID: req.ConversationID,
		ObjectName:     objectName,
		FileName:       filename,
		ClientID:       req.ClientID,
	}
	if err := s.Dispatcher.Dispatch(ctx, task); err != nil {
		msg := fmt.Sprintf("failed to dispatch ingestion task: %v", err)
		if markErr := s.Documents.MarkFailed(context.WithoutCancel(ctx), documentID, msg); markErr != nil {
			log.Errorf("[DocumentService] 标记文档 %s 失败状态时出错: %v", documentID, markErr)
		}
		s.Events.Broadcast(documentID, events.Event{
			"type":            events.TypeFailed,
			"document_id":     documentID,
			"conversation_id": req.ConversationID,
			"error":           msg,
		})
		return nil, fmt.Errorf("分派摄取任务失败: %w", err)
	}

	v := s.view(*doc, req.ClientID)
	return &v, nil
}

func (s *documentService) List(ctx context.Context, conversationID, clientID string) ([]DocumentView, error) {
	if err := s.ownedConversation(ctx, conversationID, clientID); err != nil {
		return nil, err
	}
	docs, err := s.Documents.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	views := make([]DocumentView, len(docs))
	for i, d := range docs {
		views[i] = s.view(d, clientID)
	}
	return views, nil
}

func (s *documentService) Delete(ctx context.Context, conversationID, documentID, clientID string) error {
	if err := s.ownedConversation(ctx, conversationID, clientID); err != nil {
		return err
	}
	doc, err := s.findInConversation(ctx, conversationID, documentID)
	if err != nil {
		return err
	}
	if err := s.Documents.Delete(ctx, documentID); err != nil {
		return err
	}

	if err := s.Objects.Remove(ctx, doc.OriginalPath); err != nil {
		log.Warnf("[DocumentService] 删除文档原件 %s 失败: %v", doc.OriginalPath, err)
	}
	if s.Keyword != nil {
		if err := s.Keyword.DeleteByDocument(ctx, documentID); err != nil {
			log.Warnf("[DocumentService] 清理文档 %s 的关键词索引失败: %v", documentID, err)
		}
	}
	log.Infof("[DocumentService] 文档已删除: id=%s, file=%s", documentID, doc.Filename)
	return nil
}

func (s *documentService) Search(ctx context.Context, conversationID, clientID, query string, size int) ([]model.KeywordHit, error) {
	if s.Keyword == nil {
		return nil, ErrKeywordSearchDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationErrorf("query must not be empty")
	}
	if size <= 0 {
		size = DefaultKeywordSearchSize
	}
	if err := s.ownedConversation(ctx, conversationID, clientID); err != nil {
		return nil, err
	}
	return s.Keyword.SearchKeyword(ctx, conversationID, query, size)
}

func (s *documentService) AuthorizeStream(ctx context.Context, conversationID, documentID, clientID, ticket string) (*model.Document, error) {
	switch {
	case ticket != "":
		claims, err := s.Tickets.Verify(ticket)
		if err != nil {
			log.Warnf("[DocumentService] 事件流票据无效: %v", err)
			return nil, ErrForbidden
		}
		if claims.DocumentID != documentID || claims.ConversationID != conversationID {
			return nil, ErrForbidden
		}
	case clientID != "":
		if err := s.ownedConversation(ctx, conversationID, clientID); err != nil {
			return nil, err
		}
	default:
		return nil, validationErrorf("ticket or client_id is required")
	}
	return s.findInConversation(ctx, conversationID, documentID)
}

func (s *documentService) Subscribe(documentID string) (*events.Subscription, []events.Event) {
	return s.Events.SubscribeWithHistory(documentID)
}

func (s *documentService) Unsubscribe(sub *events.Subscription) {
	s.Events.Unsubscribe(sub)
}

// StatusSnapshot 是事件流开始时发送的文档状态。
func StatusSnapshot(doc *model.Document) events.Event {
	return events.Event{
		"type":            events.TypeStatus,
		"status":          doc.Status,
		"document_id":     doc.ID,
		"chunk_count":     doc.ChunkCount,
		"filename":        doc.Filename,
		"conversation_id": doc.ConversationID,
	}
}
