package ws

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// PushResult 入队结果
type PushResult int

const (
	// Accepted 直接入队
	Accepted PushResult = iota
	// AcceptedWithEviction 挤掉一条更低优先级的旧消息后入队
	AcceptedWithEviction
	// Rejected 队列已满且没有更低优先级的消息，丢弃新消息
	Rejected
	// QueueClosed 队列已关闭
	QueueClosed
)

// Accepted 是否已入队
func (r PushResult) Accepted() bool {
	return r == Accepted || r == AcceptedWithEviction
}

// queued 队列元素，seq 为全局入队序号
type queued struct {
	seq uint64
	msg Message
}

// MessageQueue 有界优先级消息队列
//
// 每个优先级一条 FIFO 通道，出队按全局入队序号，保持整体先进先出。
// 队列满时，设 L 为当前最低的非空优先级、p 为新消息优先级：
// L < p 时淘汰 L 中最旧的一条并接收新消息，否则丢弃新消息。
type MessageQueue struct {
	mu       sync.Mutex
	lanes    [numPriorities]*queue.Queue
	capacity int
	size     int
	seq      uint64
	closed   bool

	dropped  atomic.Uint64
	enqueued atomic.Uint64
}

// NewMessageQueue 创建队列，capacity 至少为 1
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &MessageQueue{capacity: capacity}
	for i := range q.lanes {
		q.lanes[i] = queue.New()
	}
	return q
}

// Push 入队，返回入队结果以及被丢弃的消息（淘汰的旧消息或被拒绝的新消息）
func (q *MessageQueue) Push(msg Message) (PushResult, *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return QueueClosed, nil
	}
	if !msg.Priority.Valid() {
		return Rejected, &msg
	}

	result := Accepted
	var victim *Message
	if q.size >= q.capacity {
		lowest := q.lowestNonEmpty()
		if lowest < 0 || Priority(lowest) >= msg.Priority {
			q.dropped.Add(1)
			return Rejected, &msg
		}
		old := q.lanes[lowest].Remove().(queued)
		q.size--
		q.dropped.Add(1)
		victim = &old.msg
		result = AcceptedWithEviction
	}

	q.seq++
	q.lanes[msg.Priority].Add(queued{seq: q.seq, msg: msg})
	q.size++
	q.enqueued.Add(1)
	return result, victim
}

// Pop 按全局入队顺序出队
func (q *MessageQueue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane := -1
	var first uint64
	for i, l := range q.lanes {
		if l.Length() == 0 {
			continue
		}
		head := l.Peek().(queued)
		if lane < 0 || head.seq < first {
			lane, first = i, head.seq
		}
	}
	if lane < 0 {
		return Message{}, false
	}

	item := q.lanes[lane].Remove().(queued)
	q.size--
	return item.msg, true
}

// Len 当前队列长度
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap 队列容量
func (q *MessageQueue) Cap() int {
	return q.capacity
}

// Snapshot 按出队顺序返回当前队列内容，不出队
func (q *MessageQueue) Snapshot() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]queued, 0, q.size)
	for _, l := range q.lanes {
		for i := 0; i < l.Length(); i++ {
			items = append(items, l.Get(i).(queued))
		}
	}
	// 各通道内部已有序，这里做一次插入排序合并
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].seq < items[j-1].seq; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	out := make([]Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}

// Close 关闭队列并丢弃剩余消息，返回丢弃条数
func (q *MessageQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := q.size
	for i := range q.lanes {
		q.lanes[i] = queue.New()
	}
	q.size = 0
	return n
}

// Dropped 溢出丢弃计数
func (q *MessageQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Enqueued 累计入队计数
func (q *MessageQueue) Enqueued() uint64 {
	return q.enqueued.Load()
}

func (q *MessageQueue) lowestNonEmpty() int {
	for i, l := range q.lanes {
		if l.Length() > 0 {
			return i
		}
	}
	return -1
}
