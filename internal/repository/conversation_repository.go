package repository

import (
	"context"
	"time"

	"baguette-chat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了对话的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// FindMostRecent 返回客户端最近访问的对话。
	FindMostRecent(ctx context.Context, clientID uint) (*model.Conversation, error)
	// ListByClient 按最近访问时间倒序返回客户端的对话及消息数量。
	ListByClient(ctx context.Context, clientID uint) ([]model.ConversationSummary, error)
	UpdateTitle(ctx context.Context, id, title string) error
	Touch(ctx context.Context, id string, at time.Time) error
	// Delete 删除对话，消息、文档和分块由外键级联删除。
	Delete(ctx context.Context, id string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) FindMostRecent(ctx context.Context, clientID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("last_accessed_at DESC").
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) ListByClient(ctx context.Context, clientID uint) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	err := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Select("conversations.*, (SELECT COUNT(*) FROM messages WHERE messages.conversation_id = conversations.id) AS message_count").
		Where("client_id = ?", clientID).
		Order("last_accessed_at DESC").
		Scan(&out).Error
	return out, err
}

func (r *conversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Update("title", title).Error
}

func (r *conversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Update("last_accessed_at", at).Error
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Conversation{}).Error
}

// MessageRepository 定义了对话消息的持久化操作。
type MessageRepository interface {
	// ListByConversation 按创建顺序返回对话的全部消息。
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	// AppendAndPrune 在一个事务内删除被截断的旧消息并写入新消息。
	AppendAndPrune(ctx context.Context, msg *model.Message, pruneIDs []uint) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) AppendAndPrune(ctx context.Context, msg *model.Message, pruneIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(pruneIDs) > 0 {
			if err := tx.Where("id IN ?", pruneIDs).Delete(&model.Message{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(msg).Error
	})
}
