package repository

import (
	"context"

	"baguette-chat-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了文档分块的持久化操作。
type ChunkRepository interface {
	// StoreForDocument 在一个事务内替换文档的分块，并把文档标记为 ready，
	// 保证 ready 文档的 chunk_count 与分块行数一致。
	StoreForDocument(ctx context.Context, documentID, contentHash string, chunks []model.Chunk) error
	// ListForSearch 返回会话内所有文档的分块，documentID 非空时只取该文档。
	ListForSearch(ctx context.Context, conversationID, documentID string) ([]model.Chunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) StoreForDocument(ctx context.Context, documentID, contentHash string, chunks []model.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil { // 每100条记录一批
				return err
			}
		}
		return markReady(tx, documentID, len(chunks), contentHash)
	})
}

func (r *chunkRepository) ListForSearch(ctx context.Context, conversationID, documentID string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	q := r.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("documents.conversation_id = ? AND documents.status = ?", conversationID, model.DocumentReady)
	if documentID != "" {
		q = q.Where("chunks.document_id = ?", documentID)
	}
	err := q.Order("documents.upload_timestamp ASC, chunks.chunk_index ASC").Find(&chunks).Error
	return chunks, err
}
