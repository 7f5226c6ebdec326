// Package schedule 用 cron 表达式周期性地运行后台任务。
package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"baguette-chat-go/pkg/log"

	"github.com/robfig/cron/v3"
)

// Job 是一个可被周期调度的后台任务。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler 包装 cron，同一任务上一次未结束时跳过本次触发。
type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

// NewCronScheduler 创建调度器，支持五段式表达式和 @every 等描述符。
func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob 按 spec 注册任务。
func (c *CronScheduler) AddJob(job Job, spec string) error {
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		log.Errorf("[Schedule] 注册任务 %s (%s) 失败: %v", job.Name(), spec, err)
		return err
	}
	c.entries[job.Name()] = entryID
	log.Infof("[Schedule] 任务 %s 已注册: %s", job.Name(), spec)
	return nil
}

// Start 启动调度，任务运行时使用 ctx。
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop 停止调度并等待正在运行的任务结束。
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			log.Infof("[Schedule] 任务 %s 上一次尚未结束，跳过本次触发", job.Name())
			return
		}
		defer running.Store(false)

		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			log.Errorf("[Schedule] 任务 %s 执行失败 (%s), 耗时 %s: %v", job.Name(), spec, time.Since(start), err)
			return
		}
		log.Debugf("[Schedule] 任务 %s 执行完成, 耗时 %s", job.Name(), time.Since(start))
	}
}

// FuncJob 把一个函数包装为 Job。
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }
