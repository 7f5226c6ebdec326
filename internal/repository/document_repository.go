package repository

import (
	"context"
	"time"

	"baguette-chat-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档记录的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	// ListByConversation 按上传时间倒序返回会话内的文档。
	ListByConversation(ctx context.Context, conversationID string) ([]model.Document, error)
	CountReady(ctx context.Context, conversationID string) (int64, error)
	// FindReadyByHash 查找同一会话内内容哈希相同且已就绪的其他文档。
	FindReadyByHash(ctx context.Context, conversationID, contentHash, excludeID string) (*model.Document, error)
	// MarkReady 把文档标记为 ready，并记录分块数量和内容哈希。
	MarkReady(ctx context.Context, id string, chunkCount int, contentHash string) error
	MarkFailed(ctx context.Context, id, message string) error
	// ListStaleProcessing 返回在 before 之前上传且仍处于 processing 的文档。
	ListStaleProcessing(ctx context.Context, before time.Time) ([]model.Document, error)
	Delete(ctx context.Context, id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("upload_timestamp DESC").
		Find(&docs).Error
	return docs, err
}

func (r *documentRepository) CountReady(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("conversation_id = ? AND status = ?", conversationID, model.DocumentReady).
		Count(&n).Error
	return n, err
}

func (r *documentRepository) FindReadyByHash(ctx context.Context, conversationID, contentHash, excludeID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND content_hash = ? AND status = ? AND id <> ?",
			conversationID, contentHash, model.DocumentReady, excludeID).
		Order("upload_timestamp ASC").
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) MarkReady(ctx context.Context, id string, chunkCount int, contentHash string) error {
	return markReady(r.db.WithContext(ctx), id, chunkCount, contentHash)
}

func markReady(db *gorm.DB, id string, chunkCount int, contentHash string) error {
	return db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.DocumentReady,
		"chunk_count":   chunkCount,
		"content_hash":  contentHash,
		"error_message": nil,
	}).Error
}

func (r *documentRepository) MarkFailed(ctx context.Context, id, message string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(map[string]any{
		"status":        model.DocumentFailed,
		"error_message": message,
	}).Error
}

func (r *documentRepository) ListStaleProcessing(ctx context.Context, before time.Time) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("status = ? AND upload_timestamp < ?", model.DocumentProcessing, before).
		Find(&docs).Error
	return docs, err
}

func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}
