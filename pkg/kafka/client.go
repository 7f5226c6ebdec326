// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/pkg/log"
	"baguette-chat-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 单个任务失败达到该次数后提交 offset，不再重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentTask) error
}

// AttemptTracker 记录任务的失败次数。
type AttemptTracker interface {
	IncrAttempts(ctx context.Context, documentID string) (int64, error)
	ClearAttempts(ctx context.Context, documentID string) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭生产者，刷新未发送的消息。
func CloseProducer() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}

// ProduceDocumentTask 发送一个文档摄取任务到 Kafka，以文档 ID 作为消息 key。
func ProduceDocumentTask(ctx context.Context, task tasks.DocumentTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

// Dispatcher 通过 Kafka 分派摄取任务。
type Dispatcher struct{}

func (Dispatcher) Dispatch(ctx context.Context, task tasks.DocumentTask) error {
	return ProduceDocumentTask(ctx, task)
}

// Consumer 从主题读取摄取任务并同步处理，处理成功或确定不再重试时才提交 offset。
type Consumer struct {
	id         int
	reader     *kafka.Reader
	processor  TaskProcessor
	attempts   AttemptTracker
	isTerminal func(error) bool
	backoff    time.Duration
}

// NewConsumer 创建一个消费者组成员。isTerminal 判断错误是否已被处理方记录且不应重试。
func NewConsumer(id int, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptTracker, isTerminal func(error) bool) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return &Consumer{id: id, reader: r, processor: processor, attempts: attempts, isTerminal: isTerminal, backoff: 2 * time.Second}
}

// Run 循环消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("[KafkaConsumer-%d] 已启动，正在监听主题 '%s'", c.id, c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[KafkaConsumer-%d] 关闭消费者失败: %v", c.id, err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("[KafkaConsumer-%d] 已停止", c.id)
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			time.Sleep(time.Second)
			continue
		}

		if c.handle(ctx, m) {
			if err := c.reader.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("[KafkaConsumer-%d] 提交 Kafka 消息 offset 失败: %v", c.id, err)
			}
		}
	}
}

// handle 处理一条消息，瞬时失败按次数退避重试，返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.DocumentTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.DocumentID == "" {
		log.Errorf("[KafkaConsumer-%d] 无法解析 Kafka 消息: %v, value: %s", c.id, err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}

	log.Infof("[KafkaConsumer-%d] 开始处理文档任务: document=%s, offset=%d", c.id, task.DocumentID, m.Offset)
	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("[KafkaConsumer-%d] 文档任务处理成功: document=%s", c.id, task.DocumentID)
			_ = c.attempts.ClearAttempts(ctx, task.DocumentID)
			return true
		}

		if c.isTerminal != nil && c.isTerminal(err) {
			log.Warnf("[KafkaConsumer-%d] 文档任务失败且已记录，不再重试: document=%s, err=%v", c.id, task.DocumentID, err)
			_ = c.attempts.ClearAttempts(ctx, task.DocumentID)
			return true
		}

		log.Errorf("[KafkaConsumer-%d] 处理文档任务失败: document=%s, err=%v", c.id, task.DocumentID, err)
		attempts, incErr := c.attempts.IncrAttempts(ctx, task.DocumentID)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，等待重新投递
			return false
		}
		if attempts >= maxAttempts {
			log.Errorf("[KafkaConsumer-%d] 文档任务多次失败(>=%d)，提交 offset 终止重试: document=%s", c.id, maxAttempts, task.DocumentID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff * time.Duration(attempts)):
		}
	}
}
