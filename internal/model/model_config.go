package model

import "time"

// 模型的思考行为。
const (
	// ThinkingFixed 模型总是隐式地以思考段开头。
	ThinkingFixed = "fixed"
	// ThinkingControllable 由 prompt 是否开启思考模式决定。
	ThinkingControllable = "controllable"
	// ThinkingNone 不做思考检测。
	ThinkingNone = "none"
)

// ModelConfig 记录每个可用模型的展示名、思考行为和默认生成参数。
type ModelConfig struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelName            string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"model_name"`
	DisplayName          string    `gorm:"type:varchar(255);not null" json:"display_name"`
	ThinkingBehavior     string    `gorm:"type:varchar(32);not null;default:'controllable'" json:"thinking_behavior"`
	ThinkingTags         string    `gorm:"type:varchar(255)" json:"thinking_tags"`
	DefaultTemperature   *float64  `json:"default_temperature"`
	DefaultMaxTokens     *int      `json:"default_max_tokens"`
	MaxContextTokens     int       `gorm:"not null;default:8192" json:"max_context_tokens"`
	SupportsSystemPrompt bool      `gorm:"not null;default:true" json:"supports_system_prompt"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ModelConfig) TableName() string {
	return "model_configs"
}

// SystemPromptTemplate 预置的系统提示模板。
type SystemPromptTemplate struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsDefault   bool      `gorm:"not null;default:false" json:"is_default"`
	Category    string    `gorm:"type:varchar(64)" json:"category"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SystemPromptTemplate) TableName() string {
	return "system_prompt_templates"
}
