package model

import "time"

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultConversationTitle 新建对话的默认标题。
const DefaultConversationTitle = "New Conversation"

// Conversation 代表某个客户端的一段对话，消息和文档随对话级联删除。
type Conversation struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ClientID       uint      `gorm:"index;not null" json:"client_id"`
	Title          string    `gorm:"type:varchar(255);not null;default:'New Conversation'" json:"title"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	LastAccessedAt time.Time `gorm:"index" json:"last_accessed_at"`

	Messages  []Message  `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	Documents []Document `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 代表对话中的一条持久化消息。Thinking 仅在助手回复包含闭合的思考段时写入。
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_message_conversation,priority:1;not null" json:"conversation_id"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:longtext;not null" json:"content"`
	Thinking       *string   `gorm:"type:longtext" json:"thinking"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_message_conversation,priority:2" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ConversationSummary 是对话列表的一项，附带消息数量。
type ConversationSummary struct {
	Conversation
	MessageCount int64 `json:"message_count"`
}
