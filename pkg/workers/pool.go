// Package workers 提供基于 ants 的有界协程池，用于文本抽取、向量化等 CPU 密集型任务。
package workers

import (
	"context"
	"fmt"

	"baguette-chat-go/pkg/log"

	"github.com/panjf2000/ants/v2"
)

// Pool 是一个具名的有界协程池。
type Pool struct {
	name string
	pool *ants.Pool
}

// NewPool 创建容量为 size 的协程池，size 不大于 0 时取 1。
func NewPool(name string, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		log.Errorf("[Workers:%s] 任务发生 panic: %v", name, v)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s worker pool: %w", name, err)
	}
	return &Pool{name: name, pool: p}, nil
}

// Submit 提交一个不关心结果的任务，池满时阻塞等待空闲 worker。
func (p *Pool) Submit(task func()) error {
	return p.pool.Submit(task)
}

// Do 在池中执行 fn 并等待结果。ctx 取消时立即返回 ctx.Err()，fn 仍会在池中跑完。
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s worker panic: %v", p.name, r)
			}
		}()
		done <- fn()
	})
	if err != nil {
		return fmt.Errorf("提交任务到 %s 协程池失败: %w", p.name, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Running 返回正在执行的任务数。
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release 关闭协程池。
func (p *Pool) Release() {
	p.pool.Release()
}
