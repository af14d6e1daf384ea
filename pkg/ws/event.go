package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventConnected 连接注册
	EventConnected EventType = "connection.active"
	// EventDisconnected 连接关闭
	EventDisconnected EventType = "connection.closed"
	// EventSubscribed 订阅主题
	EventSubscribed EventType = "topic.subscribed"
	// EventUnsubscribed 取消订阅
	EventUnsubscribed EventType = "topic.unsubscribed"
	// EventMessageDropped 队列溢出丢弃消息
	EventMessageDropped EventType = "message.dropped"
	// EventWriteFailed 传输层写失败
	EventWriteFailed EventType = "transport.write_failed"
)

// Event 事件
type Event struct {
	Type         EventType
	ConnectionID string
	UserID       string
	Topic        string
	Reason       CloseReason
	Err          error
	Time         time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64 // 丢弃的事件计数
}

const (
	eventWorkers    = 4
	eventBufferSize = 1024
)

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), eventBufferSize),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < eventWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker 工作协程
func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			return
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	// 检查是否已关闭
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers, ok := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if !ok || len(handlers) == 0 {
		return
	}

	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// 提交到 worker 池
	for _, h := range handlers {
		// 对于关键事件（连接/断开），使用阻塞发送
		if event.Type == EventConnected || event.Type == EventDisconnected {
			select {
			case eb.workerCh <- func() { h(event) }:
			case <-time.After(100 * time.Millisecond):
				// 超时后丢弃，避免阻塞
				eb.droppedEvents.Add(1)
			}
		} else {
			// 非关键事件，非阻塞发送
			select {
			case eb.workerCh <- func() { h(event) }:
			default:
				// 队列满时丢弃事件
				eb.droppedEvents.Add(1)
			}
		}
	}
}

// Close 关闭事件总线，可重复调用
func (eb *EventBus) Close() {
	if eb.closed.Swap(true) {
		return
	}

	close(eb.stopCh)
	eb.wg.Wait()

	// 不关闭 workerCh，避免并发 Publish 导致 panic
	// 剩余的事件会被丢弃，channel 会被 GC
}

// GetDroppedEventCount 获取丢弃的事件数量
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
