package repository

import (
	"context"

	"baguette-chat-go/internal/model"

	"gorm.io/gorm"
)

// ModelConfigRepository 定义了模型配置和系统提示模板的持久化操作。
type ModelConfigRepository interface {
	FindByName(ctx context.Context, modelName string) (*model.ModelConfig, error)
	List(ctx context.Context) ([]model.ModelConfig, error)
	ListTemplates(ctx context.Context) ([]model.SystemPromptTemplate, error)
	// SeedModels 按 model_name 幂等写入，返回新建的条数。
	SeedModels(ctx context.Context, configs []model.ModelConfig) (int, error)
	// SeedTemplates 按 name 幂等写入，返回新建的条数。
	SeedTemplates(ctx context.Context, templates []model.SystemPromptTemplate) (int, error)
}

type modelConfigRepository struct {
	db *gorm.DB
}

// NewModelConfigRepository 创建一个新的 ModelConfigRepository 实例。
func NewModelConfigRepository(db *gorm.DB) ModelConfigRepository {
	return &modelConfigRepository{db: db}
}

func (r *modelConfigRepository) FindByName(ctx context.Context, modelName string) (*model.ModelConfig, error) {
	var cfg model.ModelConfig
	if err := r.db.WithContext(ctx).Where("model_name = ?", modelName).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *modelConfigRepository) List(ctx context.Context) ([]model.ModelConfig, error) {
	var configs []model.ModelConfig
	err := r.db.WithContext(ctx).Order("display_name ASC").Find(&configs).Error
	return configs, err
}

func (r *modelConfigRepository) ListTemplates(ctx context.Context) ([]model.SystemPromptTemplate, error) {
	var templates []model.SystemPromptTemplate
	err := r.db.WithContext(ctx).Order("is_default DESC, category ASC, name ASC").Find(&templates).Error
	return templates, err
}

func (r *modelConfigRepository) SeedModels(ctx context.Context, configs []model.ModelConfig) (int, error) {
	created := 0
	for i := range configs {
		res := r.db.WithContext(ctx).
			Where(model.ModelConfig{ModelName: configs[i].ModelName}).
			FirstOrCreate(&configs[i])
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

func (r *modelConfigRepository) SeedTemplates(ctx context.Context, templates []model.SystemPromptTemplate) (int, error) {
	created := 0
	for i := range templates {
		res := r.db.WithContext(ctx).
			Where(model.SystemPromptTemplate{Name: templates[i].Name}).
			FirstOrCreate(&templates[i])
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}
