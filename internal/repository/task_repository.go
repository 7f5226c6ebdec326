package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// attemptsTTL 失败计数的保留时间。
const attemptsTTL = 24 * time.Hour

// TaskRepository 用 Redis 记录摄取任务的投递次数，并提供按文档的互斥锁。
type TaskRepository interface {
	// IncrAttempts 增加文档任务的失败次数并返回当前值。
	IncrAttempts(ctx context.Context, documentID string) (int64, error)
	ClearAttempts(ctx context.Context, documentID string) error
	// AcquireLock 尝试获取文档的摄取锁，已被持有时返回 false。
	AcquireLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, documentID string) error
}

type redisTaskRepository struct {
	redisClient *redis.Client
}

// NewTaskRepository 创建一个新的 TaskRepository 实例。
func NewTaskRepository(redisClient *redis.Client) TaskRepository {
	return &redisTaskRepository{redisClient: redisClient}
}

func attemptsKey(documentID string) string {
	return fmt.Sprintf("kafka:attempts:%s", documentID)
}

func lockKey(documentID string) string {
	return fmt.Sprintf("ingest:lock:%s", documentID)
}

func (r *redisTaskRepository) IncrAttempts(ctx context.Context, documentID string) (int64, error) {
	key := attemptsKey(documentID)
	attempts, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to incr attempts: %w", err)
	}
	_ = r.redisClient.Expire(ctx, key, attemptsTTL).Err()
	return attempts, nil
}

func (r *redisTaskRepository) ClearAttempts(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, attemptsKey(documentID)).Err()
}

func (r *redisTaskRepository) AcquireLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, lockKey(documentID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	return ok, nil
}

func (r *redisTaskRepository) ReleaseLock(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, lockKey(documentID)).Err()
}
