package model

// ChunkIndexDoc 定义了镜像到 Elasticsearch 中的分块文档结构，只用于关键词检索。
type ChunkIndexDoc struct {
	ChunkID        string `json:"chunk_id"`
	DocumentID     string `json:"document_id"`
	ConversationID string `json:"conversation_id"`
	Filename       string `json:"filename"`
	ChunkIndex     int    `json:"chunk_index"`
	Text           string `json:"text"`
}

// KeywordHit 定义了返回给前端的关键词搜索结果结构。
type KeywordHit struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
