package pipeline

import (
	"context"
	"sync"
	"time"

	"baguette-chat-go/pkg/log"
	"baguette-chat-go/pkg/tasks"
	"baguette-chat-go/pkg/workers"
)

// TaskProcessor 处理一个摄取任务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentTask) error
}

// LocalDispatcher 在进程内的摄取协程池中执行任务，用于未启用 Kafka 的部署。
type LocalDispatcher struct {
	pool      *workers.Pool
	processor TaskProcessor
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mu 保证 Close 之后不再有 wg.Add
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalDispatcher 创建进程内分派器，timeout 为单个文档的处理上限。
func NewLocalDispatcher(pool *workers.Pool, processor TaskProcessor, timeout time.Duration) *LocalDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{pool: pool, processor: processor, timeout: timeout, ctx: ctx, cancel: cancel}
}

// Dispatch 立即返回，任务在池中有空闲 worker 时执行。
func (d *LocalDispatcher) Dispatch(_ context.Context, task tasks.DocumentTask) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return context.Canceled
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		err := d.pool.Submit(func() {
			defer d.wg.Done()
			d.run(task)
		})
		if err != nil {
			d.wg.Done()
			log.Errorf("[LocalDispatcher] 提交文档 %s 到摄取协程池失败: %v", task.DocumentID, err)
		}
	}()
	return nil
}

func (d *LocalDispatcher) run(task tasks.DocumentTask) {
	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.processor.Process(ctx, task); err != nil {
		log.Errorf("[LocalDispatcher] 文档 %s 摄取失败: %v", task.DocumentID, err)
	}
}

// Close 取消进行中的任务并等待它们退出。
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
