package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"baguette-chat-go/pkg/tasks"
	"baguette-chat-go/pkg/workers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingProcessor 记录任务，block 为 true 时一直等到 ctx 结束。
type blockingProcessor struct {
	block bool

	mu      sync.Mutex
	seen    []string
	ctxErrs []error
	started chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, task tasks.DocumentTask) error {
	p.mu.Lock()
	p.seen = append(p.seen, task.DocumentID)
	p.mu.Unlock()
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.block {
		<-ctx.Done()
		p.mu.Lock()
		p.ctxErrs = append(p.ctxErrs, ctx.Err())
		p.mu.Unlock()
		return ctx.Err()
	}
	return nil
}

func (p *blockingProcessor) seenIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func newTestPool(t *testing.T) *workers.Pool {
	pool, err := workers.NewPool("ingest-test", 2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func TestLocalDispatcherRunsTasks(t *testing.T) {
	proc := &blockingProcessor{}
	d := NewLocalDispatcher(newTestPool(t), proc, time.Minute)

	require.NoError(t, d.Dispatch(context.Background(), task("doc-1")))
	require.NoError(t, d.Dispatch(context.Background(), task("doc-2")))

	assert.Eventually(t, func() bool { return len(proc.seenIDs()) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, proc.seenIDs())
	d.Close()
}

func TestLocalDispatcherCloseCancelsInFlight(t *testing.T) {
	proc := &blockingProcessor{block: true, started: make(chan struct{}, 1)}
	d := NewLocalDispatcher(newTestPool(t), proc, time.Minute)

	require.NoError(t, d.Dispatch(context.Background(), task("doc-1")))
	select {
	case <-proc.started:
	case <-time.After(time.Second):
		t.Fatal("task did not start")
	}

	d.Close()
	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.ctxErrs, 1)
	assert.ErrorIs(t, proc.ctxErrs[0], context.Canceled)
}

func TestLocalDispatcherTimeout(t *testing.T) {
	proc := &blockingProcessor{block: true}
	d := NewLocalDispatcher(newTestPool(t), proc, 20*time.Millisecond)
	defer d.Close()

	require.NoError(t, d.Dispatch(context.Background(), task("doc-1")))
	assert.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.ctxErrs) == 1 && proc.ctxErrs[0] == context.DeadlineExceeded
	}, time.Second, 10*time.Millisecond)
}

func TestLocalDispatcherRejectsAfterClose(t *testing.T) {
	d := NewLocalDispatcher(newTestPool(t), &blockingProcessor{}, 0)
	d.Close()
	assert.ErrorIs(t, d.Dispatch(context.Background(), task("doc-1")), context.Canceled)
}

func TestLocalDispatcherConcurrentDispatchAndClose(t *testing.T) {
	proc := &blockingProcessor{}
	d := NewLocalDispatcher(newTestPool(t), proc, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), task("doc"))
		}()
	}
	d.Close()
	wg.Wait()

	assert.ErrorIs(t, d.Dispatch(context.Background(), task("late")), context.Canceled)
	assert.NotContains(t, proc.seenIDs(), "late")
}
