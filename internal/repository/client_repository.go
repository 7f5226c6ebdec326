// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"baguette-chat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClientRepository 接口定义了客户端数据的持久化操作。
type ClientRepository interface {
	// GetOrCreate 按指纹查找客户端，不存在时创建。
	GetOrCreate(ctx context.Context, fingerprint string) (*model.Client, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.Client, error)
	Update(ctx context.Context, client *model.Client) error
}

type clientRepository struct {
	db *gorm.DB
}

// NewClientRepository 创建一个新的 ClientRepository 实例。
func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) GetOrCreate(ctx context.Context, fingerprint string) (*model.Client, error) {
	client := model.Client{Fingerprint: fingerprint}
	// 并发首次访问时依赖唯一索引去重
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Where(model.Client{Fingerprint: fingerprint}).
		FirstOrCreate(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return r.FindByFingerprint(ctx, fingerprint)
	}
	return &client, nil
}

func (r *clientRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*model.Client, error) {
	var client model.Client
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// Update 保存客户端的全部字段，nil 字段会被写为 NULL。
func (r *clientRepository) Update(ctx context.Context, client *model.Client) error {
	return r.db.WithContext(ctx).Save(client).Error
}
