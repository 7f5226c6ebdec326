// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Client 代表一个通过浏览器指纹识别的客户端，以及它的生成参数覆盖。
// 所有覆盖字段均可为空，为空时使用模型默认值。
type Client struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Fingerprint       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"fingerprint"`
	SystemPrompt      *string   `gorm:"type:text" json:"system_prompt"`
	Temperature       *float64  `json:"temperature"`
	TopP              *float64  `json:"top_p"`
	TopK              *int      `json:"top_k"`
	RepetitionPenalty *float64  `json:"repetition_penalty"`
	DoSample          *bool     `json:"do_sample"`
	MaxTokens         *int      `json:"max_tokens"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Conversations []Conversation `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Client) TableName() string {
	return "clients"
}
