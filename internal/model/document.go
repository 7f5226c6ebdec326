package model

import (
	"time"

	"gorm.io/datatypes"
)

// 文档生命周期状态。
const (
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// Document 对应于数据库中的 'documents' 表，只由摄取管道修改。
type Document struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID  string    `gorm:"type:varchar(36);index;not null" json:"conversation_id"`
	Filename        string    `gorm:"type:varchar(255);not null" json:"filename"`
	OriginalPath    string    `gorm:"type:varchar(512);not null" json:"original_path"`
	Status          string    `gorm:"type:varchar(16);index;not null;default:'processing'" json:"status"`
	ChunkCount      int       `gorm:"not null;default:0" json:"chunk_count"`
	ErrorMessage    *string   `gorm:"type:text" json:"error_message"`
	ContentHash     *string   `gorm:"type:varchar(64);index" json:"content_hash"`
	UploadTimestamp time.Time `gorm:"autoCreateTime" json:"upload_timestamp"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Document) TableName() string {
	return "documents"
}

// Chunk 文档的一个分块及其向量。Embedding 为小端序 float32 的原始字节。
type Chunk struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	DocumentID string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_document_index,priority:1" json:"document_id"`
	ChunkIndex int            `gorm:"not null;uniqueIndex:idx_chunk_document_index,priority:2" json:"chunk_index"`
	Text       string         `gorm:"type:longtext;not null" json:"text"`
	Metadata   datatypes.JSON `json:"metadata"`
	Embedding  []byte         `gorm:"type:longblob" json:"-"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (Chunk) TableName() string {
	return "chunks"
}
