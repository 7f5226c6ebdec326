// Package events 提供按文档划分的进程内发布订阅，保留有界的历史供后来的订阅者回放。
package events

import (
	"sync"
	"time"

	"baguette-chat-go/pkg/log"
)

// 阶段事件类型。
const (
	TypeUploadReceived    = "upload_received"
	TypeProcessingStarted = "processing_started"
	TypeDoclingDone       = "docling_done"
	TypeChunkingDone      = "chunking_done"
	TypeEmbeddingDone     = "embedding_done"
	TypeEmbeddingSkipped  = "embedding_skipped"
	TypePersisted         = "persisted"
	TypeFailed            = "failed"
	TypeStatus            = "status"
	TypeHeartbeat         = "heartbeat"
)

// 默认的历史长度和订阅者缓冲。
const (
	DefaultHistorySize      = 50
	DefaultSubscriberBuffer = 64
)

// Event 是一条阶段事件，至少包含 type、document_id、conversation_id。
type Event map[string]any

// Type 返回事件的 type 字段。
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Subscription 是一个订阅者的私有接收通道。
type Subscription struct {
	C          <-chan Event
	ch         chan Event
	documentID string
}

type topic struct {
	subscribers map[*Subscription]struct{}
	history     []Event
	lastEvent   time.Time
}

// Bus 是文档 id 到订阅者集合与历史环的注册表，所有修改都在 mu 下进行。
type Bus struct {
	mu          sync.Mutex
	topics      map[string]*topic
	historySize int
	bufferSize  int
	now         func() time.Time
}

// NewBus 创建事件总线，非正数参数使用默认值。
func NewBus(historySize, bufferSize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		topics:      make(map[string]*topic),
		historySize: historySize,
		bufferSize:  bufferSize,
		now:         time.Now,
	}
}

func (b *Bus) topicLocked(documentID string) *topic {
	t, ok := b.topics[documentID]
	if !ok {
		t = &topic{subscribers: make(map[*Subscription]struct{})}
		b.topics[documentID] = t
	}
	return t
}

// Subscribe 为文档注册一个新的订阅者。
func (b *Bus) Subscribe(documentID string) *Subscription {
	sub, _ := b.SubscribeWithHistory(documentID)
	return sub
}

// SubscribeWithHistory 原子地注册订阅者并返回当前历史快照，
// 保证回放的历史和之后收到的实时事件之间既不重复也不遗漏。
func (b *Bus) SubscribeWithHistory(documentID string) (*Subscription, []Event) {
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{C: ch, ch: ch, documentID: documentID}

	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(documentID)
	t.subscribers[sub] = struct{}{}
	history := make([]Event, len(t.history))
	copy(history, t.history)
	return sub, history
}

// Unsubscribe 移除一个订阅者并关闭其通道。最后一个订阅者离开时历史一并清除。
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sub.documentID]
	if !ok {
		return
	}
	if _, ok := t.subscribers[sub]; !ok {
		return
	}
	delete(t.subscribers, sub)
	close(sub.ch)
	if len(t.subscribers) == 0 {
		delete(b.topics, sub.documentID)
	}
}

// Broadcast 追加历史并推送给当前所有订阅者。缓冲已满的订阅者直接丢弃该事件，不阻塞发布方。
func (b *Bus) Broadcast(documentID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(documentID)
	t.history = append(t.history, event)
	if over := len(t.history) - b.historySize; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
	t.lastEvent = b.now()

	for sub := range t.subscribers {
		select {
		case sub.ch <- event:
		default:
			log.Warnf("[EventBus] 订阅者缓冲已满，丢弃事件: document=%s, type=%s", documentID, event.Type())
		}
	}
}

// History 返回文档当前保留的历史副本。
func (b *Bus) History(documentID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[documentID]
	if !ok {
		return nil
	}
	out := make([]Event, len(t.history))
	copy(out, t.history)
	return out
}

// SubscriberCount 返回文档当前的订阅者数量。
func (b *Bus) SubscriberCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[documentID]; ok {
		return len(t.subscribers)
	}
	return 0
}

// Sweep 清理没有订阅者且超过 olderThan 未产生事件的文档历史，返回清理的数量。
func (b *Bus) Sweep(olderThan time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-olderThan)
	removed := 0
	for id, t := range b.topics {
		if len(t.subscribers) == 0 && t.lastEvent.Before(cutoff) {
			delete(b.topics, id)
			removed++
		}
	}
	return removed
}
