package ws

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionState 连接状态
//
//	Connecting → Active → (Draining | Closing) → Closed
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateActive
	StateDraining
	StateClosing
	StateClosed
)

// String 返回状态名称
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// CloseReason 连接关闭原因
type CloseReason string

const (
	ReasonClientClosed  CloseReason = "client_closed"
	ReasonWriteFailed   CloseReason = "write_failed"
	ReasonInvalidFrames CloseReason = "invalid_frames"
	ReasonDrained       CloseReason = "drained"
	ReasonShutdown      CloseReason = "shutdown"
	ReasonKicked        CloseReason = "kicked"
)

// ConnectionMetadata 连接元数据
type ConnectionMetadata struct {
	ConnectionID     string    `json:"connection_id"`
	UserID           string    `json:"user_id,omitempty"`
	JoinedAt         time.Time `json:"joined_at"`
	SubscribedTopics []string  `json:"subscribed_topics"`
	LastActivity     time.Time `json:"last_activity"`
}

// Connection 一个已注册的实时连接
type Connection struct {
	id        string
	userID    string
	joinedAt  time.Time
	transport Transport
	queue     *MessageQueue

	state        atomic.Int32
	lastActivity atomic.Int64 // UnixNano
	topics       sync.Map     // topic -> struct{}

	// 有新消息或状态变化时唤醒投递循环
	notify chan struct{}

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// 上行帧限流
	limiter         *rate.Limiter
	invalidMsgCount atomic.Int32
}

func newConnection(parent context.Context, id, userID string, t Transport, cfg *Config) *Connection {
	ctx, cancel := context.WithCancel(parent)

	limit := rate.Inf
	if cfg.InboundRate > 0 {
		limit = rate.Limit(cfg.InboundRate)
	}
	burst := cfg.InboundBurst
	if burst <= 0 {
		burst = 1
	}

	now := time.Now()
	c := &Connection{
		id:        id,
		userID:    userID,
		joinedAt:  now,
		transport: t,
		queue:     NewMessageQueue(cfg.QueueCapacity),
		notify:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		limiter:   rate.NewLimiter(limit, burst),
	}
	c.state.Store(int32(StateConnecting))
	c.lastActivity.Store(now.UnixNano())
	return c
}

// ID 连接 ID
func (c *Connection) ID() string { return c.id }

// UserID 用户 ID
func (c *Connection) UserID() string { return c.userID }

// State 当前状态
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Done 连接关闭后关闭的通道
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Topics 已订阅的主题（有序）
func (c *Connection) Topics() []string {
	topics := make([]string, 0, 8)
	c.topics.Range(func(key, _ any) bool {
		if topic, ok := key.(string); ok {
			topics = append(topics, topic)
		}
		return true
	})
	sort.Strings(topics)
	return topics
}

// Metadata 元数据快照
func (c *Connection) Metadata() ConnectionMetadata {
	return ConnectionMetadata{
		ConnectionID:     c.id,
		UserID:           c.userID,
		JoinedAt:         c.joinedAt,
		SubscribedTopics: c.Topics(),
		LastActivity:     time.Unix(0, c.lastActivity.Load()),
	}
}

// QueueLen 当前排队消息数
func (c *Connection) QueueLen() int {
	return c.queue.Len()
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// transition CAS 状态迁移
func (c *Connection) transition(from, to ConnectionState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// wake 非阻塞唤醒投递循环
func (c *Connection) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// beginClose 进入 Closing，返回 false 表示已经在关闭
func (c *Connection) beginClose() bool {
	for {
		s := c.State()
		if s == StateClosing || s == StateClosed {
			return false
		}
		if c.transition(s, StateClosing) {
			return true
		}
	}
}
