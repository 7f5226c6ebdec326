package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(typ string, n int) Event {
	return Event{"type": typ, "document_id": "doc-1", "n": n}
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestBroadcastDeliversInOrderToAllSubscribers(t *testing.T) {
	bus := NewBus(0, 0)
	a := bus.Subscribe("doc-1")
	b := bus.Subscribe("doc-1")
	other := bus.Subscribe("doc-2")

	for i := 0; i < 5; i++ {
		bus.Broadcast("doc-1", ev(TypeChunkingDone, i))
	}

	for _, sub := range []*Subscription{a, b} {
		got := drain(sub)
		require.Len(t, got, 5)
		for i, e := range got {
			assert.Equal(t, i, e["n"])
		}
	}
	assert.Empty(t, drain(other))
}

func TestHistoryIsBounded(t *testing.T) {
	bus := NewBus(3, 0)
	for i := 0; i < 5; i++ {
		bus.Broadcast("doc-1", ev(TypeChunkingDone, i))
	}
	h := bus.History("doc-1")
	require.Len(t, h, 3)
	assert.Equal(t, 2, h[0]["n"])
	assert.Equal(t, 4, h[2]["n"])
}

func TestDefaultHistoryKeepsFifty(t *testing.T) {
	bus := NewBus(0, 0)
	for i := 0; i < 60; i++ {
		bus.Broadcast("doc-1", ev(TypeChunkingDone, i))
	}
	h := bus.History("doc-1")
	require.Len(t, h, DefaultHistorySize)
	assert.Equal(t, 10, h[0]["n"])
}

func TestSubscribeWithHistoryReplaysThenStreams(t *testing.T) {
	bus := NewBus(0, 0)
	bus.Broadcast("doc-1", ev(TypeProcessingStarted, 0))
	bus.Broadcast("doc-1", ev(TypeDoclingDone, 1))

	sub, history := bus.SubscribeWithHistory("doc-1")
	require.Len(t, history, 2)
	assert.Equal(t, TypeProcessingStarted, history[0].Type())

	bus.Broadcast("doc-1", ev(TypeChunkingDone, 2))
	live := drain(sub)
	require.Len(t, live, 1)
	assert.Equal(t, TypeChunkingDone, live[0].Type())
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(0, 2)
	slow := bus.Subscribe("doc-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Broadcast("doc-1", ev(TypeChunkingDone, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	got := drain(slow)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0]["n"])
	assert.Len(t, bus.History("doc-1"), 10)
}

func TestUnsubscribeClearsHistoryWhenLastLeaves(t *testing.T) {
	bus := NewBus(0, 0)
	a := bus.Subscribe("doc-1")
	b := bus.Subscribe("doc-1")
	bus.Broadcast("doc-1", ev(TypeProcessingStarted, 0))

	bus.Unsubscribe(a)
	assert.Len(t, bus.History("doc-1"), 1)
	assert.Equal(t, 1, bus.SubscriberCount("doc-1"))

	// 退订前已缓冲的事件仍可读出，之后通道关闭
	queued, open := <-a.C
	require.True(t, open)
	assert.Equal(t, TypeProcessingStarted, queued.Type())
	_, open = <-a.C
	assert.False(t, open)

	bus.Unsubscribe(b)
	assert.Empty(t, bus.History("doc-1"))
	assert.Zero(t, bus.SubscriberCount("doc-1"))

	// 重复退订是安全的
	bus.Unsubscribe(b)
	bus.Unsubscribe(nil)
}

func TestHistoryWithoutSubscribersIsRetained(t *testing.T) {
	bus := NewBus(0, 0)
	bus.Broadcast("doc-1", ev(TypeUploadReceived, 0))
	assert.Len(t, bus.History("doc-1"), 1)
}

func TestSweepDropsIdleTopicsOnly(t *testing.T) {
	bus := NewBus(0, 0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }

	bus.Broadcast("idle", ev(TypePersisted, 0))
	bus.Broadcast("watched", ev(TypePersisted, 0))
	bus.Subscribe("watched")

	now = now.Add(time.Hour)
	bus.Broadcast("fresh", ev(TypePersisted, 0))

	removed := bus.Sweep(30 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Empty(t, bus.History("idle"))
	assert.Len(t, bus.History("watched"), 1)
	assert.Len(t, bus.History("fresh"), 1)
}

func TestConcurrentBroadcastAndSubscribe(t *testing.T) {
	bus := NewBus(0, 256)
	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		id := fmt.Sprintf("doc-%d", d)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Broadcast(id, ev(TypeChunkingDone, i))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				sub := bus.Subscribe(id)
				drain(sub)
				bus.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()
}
