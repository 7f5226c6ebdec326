package database

import (
	"time"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("MySQL database connected successfully")
}

// AutoMigrate 按依赖顺序创建或更新所有表，外键带 ON DELETE CASCADE。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Client{},
		&model.Conversation{},
		&model.Message{},
		&model.ModelConfig{},
		&model.SystemPromptTemplate{},
		&model.Document{},
		&model.Chunk{},
	)
}

// Close 关闭底层连接池。
func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
