package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/logger"
)

// Stats 推送中心统计
type Stats struct {
	Connections   int    `json:"connections"`
	Topics        int    `json:"topics"`
	Enqueued      uint64 `json:"enqueued"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Discarded     uint64 `json:"discarded"`
	WriteErrors   uint64 `json:"write_errors"`
	InvalidFrames uint64 `json:"invalid_frames"`
}

// Hub 实时推送中心
type Hub struct {
	// 核心组件
	pool   *ConnectionPool
	topics *topicIndex
	events *EventBus

	// 配置
	config   *Config
	upgrader *Upgrader

	// 生命周期
	// lifeMu 保证 closed 置位与 wg.Add 互斥，Shutdown 置位后不会再有新的 Add
	ctx    context.Context
	cancel context.CancelFunc
	lifeMu sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool

	// 监控
	metrics Metrics
	log     logger.Logger

	enqueued      atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	discarded     atomic.Uint64
	writeErrors   atomic.Uint64
	invalidFrames atomic.Uint64
}

// NewHub 创建推送中心
func NewHub(opts ...Option) (*Hub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		pool:     NewConnectionPool(config.MaxConnections),
		topics:   newTopicIndex(),
		events:   NewEventBus(),
		config:   config,
		upgrader: NewUpgrader(config.UpgraderConfig),
		ctx:      ctx,
		cancel:   cancel,
		metrics:  config.Metrics,
		log:      config.Logger.Named("ws"),
	}, nil
}

// Register 注册连接，返回连接 ID
// meta.ConnectionID 为空时自动生成；meta.SubscribedTopics 作为初始订阅
func (h *Hub) Register(t Transport, meta ConnectionMetadata) (string, error) {
	if h.closed.Load() {
		return "", ErrHubClosed
	}
	for _, topic := range meta.SubscribedTopics {
		if err := validateTopic(topic); err != nil {
			return "", err
		}
	}

	id := meta.ConnectionID
	if id == "" {
		id = generateConnectionID()
	}

	c := newConnection(h.ctx, id, meta.UserID, t, h.config)
	if err := h.pool.Add(c); err != nil {
		c.cancel()
		h.log.Warn("ws register rejected",
			zap.String("connection_id", id),
			zap.String("user_id", meta.UserID),
			zap.Error(err),
		)
		return "", err
	}
	c.transition(StateConnecting, StateActive)

	for _, topic := range meta.SubscribedTopics {
		_ = h.subscribe(c, topic)
	}

	h.metrics.ConnectionOpened()
	h.metrics.SetConnectionCount(h.pool.Count())
	h.events.Publish(Event{Type: EventConnected, ConnectionID: id, UserID: c.userID})
	h.log.Info("ws connection registered",
		zap.String("connection_id", id),
		zap.String("user_id", c.userID),
		zap.String("remote_addr", t.RemoteAddr()),
		zap.Strings("topics", c.Topics()),
	)
	return id, nil
}

// Subscribe 订阅主题，重复订阅无副作用
func (h *Hub) Subscribe(id, topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	c, ok := h.pool.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	return h.subscribe(c, topic)
}

func (h *Hub) subscribe(c *Connection, topic string) error {
	if c.State() != StateActive {
		return ErrConnectionClosed
	}
	if _, loaded := c.topics.LoadOrStore(topic, struct{}{}); loaded {
		return nil
	}
	h.topics.add(topic, c)

	// 与关闭并发时回滚，避免索引中残留已关闭的连接
	if s := c.State(); s == StateClosing || s == StateClosed {
		h.topics.remove(topic, c)
		c.topics.Delete(topic)
		return ErrConnectionClosed
	}

	h.metrics.SetTopicCount(h.topics.count())
	h.events.Publish(Event{Type: EventSubscribed, ConnectionID: c.id, UserID: c.userID, Topic: topic})
	return nil
}

// Unsubscribe 取消订阅，未订阅时无副作用
func (h *Hub) Unsubscribe(id, topic string) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	c, ok := h.pool.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	if _, loaded := c.topics.LoadAndDelete(topic); !loaded {
		return nil
	}
	h.topics.remove(topic, c)

	h.metrics.SetTopicCount(h.topics.count())
	h.events.Publish(Event{Type: EventUnsubscribed, ConnectionID: c.id, UserID: c.userID, Topic: topic})
	return nil
}

// Enqueue 向单个连接的队列追加消息
// 队列溢出按优先级规则丢弃，只计数，返回 false 表示新消息未入队
func (h *Hub) Enqueue(id string, msg Message) (bool, error) {
	if err := msg.validate(); err != nil {
		return false, err
	}
	c, ok := h.pool.Get(id)
	if !ok {
		return false, ErrConnectionNotFound
	}
	return h.enqueue(c, msg)
}

func (h *Hub) enqueue(c *Connection, msg Message) (bool, error) {
	if c.State() != StateActive {
		return false, ErrConnectionClosed
	}

	res, victim := c.queue.Push(msg)
	switch res {
	case QueueClosed:
		return false, ErrConnectionClosed
	case Rejected:
		h.recordDrop(c, *victim)
		return false, nil
	case AcceptedWithEviction:
		h.recordDrop(c, *victim)
	}

	h.enqueued.Add(1)
	h.metrics.MessageEnqueued(msg.Type)
	c.wake()
	return true, nil
}

func (h *Hub) recordDrop(c *Connection, victim Message) {
	h.dropped.Add(1)
	h.metrics.MessageDropped(victim.Priority)
	h.events.Publish(Event{
		Type:         EventMessageDropped,
		ConnectionID: c.id,
		UserID:       c.userID,
		Err:          ErrQueueFull,
	})
	h.log.Debug("ws message dropped",
		zap.String("connection_id", c.id),
		zap.String("type", string(victim.Type)),
		zap.Stringer("priority", victim.Priority),
	)
}

// Broadcast 向主题的所有订阅者广播，返回接收该消息的队列数
func (h *Hub) Broadcast(topic string, msg Message) int {
	if validateTopic(topic) != nil || msg.validate() != nil {
		return 0
	}
	return h.deliverAll(h.topics.snapshot(topic), msg)
}

// BroadcastTopics 向多个主题广播，同时订阅多个主题的连接只收到一次
func (h *Hub) BroadcastTopics(topics []string, msg Message) int {
	if msg.validate() != nil {
		return 0
	}
	valid := make([]string, 0, len(topics))
	for _, topic := range topics {
		if validateTopic(topic) == nil {
			valid = append(valid, topic)
		}
	}
	return h.deliverAll(h.topics.union(valid), msg)
}

// SendToUser 向用户的所有连接（多设备）发送
func (h *Hub) SendToUser(userID string, msg Message) int {
	if userID == "" || msg.validate() != nil {
		return 0
	}
	conns := make([]*Connection, 0, 4)
	h.pool.Range(func(c *Connection) bool {
		if c.userID == userID {
			conns = append(conns, c)
		}
		return true
	})
	return h.deliverAll(conns, msg)
}

func (h *Hub) deliverAll(conns []*Connection, msg Message) int {
	accepted := 0
	for _, c := range conns {
		if ok, _ := h.enqueue(c, msg); ok {
			accepted++
		}
	}
	return accepted
}

// DrainToTransport 投递循环：按入队顺序出队并写入传输层
// 写失败时连接进入 Closing，剩余消息被丢弃；连接关闭或 ctx 取消时返回
func (h *Hub) DrainToTransport(ctx context.Context, id string) error {
	c, ok := h.pool.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}

	var heartbeat <-chan time.Time
	if h.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		if s := c.State(); s == StateClosing || s == StateClosed {
			return nil
		}

		if msg, ok := c.queue.Pop(); ok {
			if err := h.write(ctx, c, msg); err != nil {
				return err
			}
			continue
		}

		// 队列已清空，排空中的连接可以关闭了
		if c.State() == StateDraining {
			h.closeConnection(c, ReasonDrained)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return nil
		case <-c.notify:
		case <-heartbeat:
			if err := c.transport.Ping(ctx); err != nil {
				return h.writeFailed(c, err)
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *Connection, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error("ws encode message failed", zap.String("connection_id", c.id), zap.Error(err))
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	err = c.transport.WriteMessage(wctx, data)
	cancel()
	if err != nil {
		return h.writeFailed(c, err)
	}

	h.delivered.Add(1)
	h.metrics.MessageDelivered(msg.Type, time.Since(msg.CreatedAt))
	return nil
}

func (h *Hub) writeFailed(c *Connection, err error) error {
	// 主动关闭导致的写失败不算传输错误
	if s := c.State(); s == StateClosing || s == StateClosed {
		return nil
	}

	h.writeErrors.Add(1)
	h.metrics.WriteError()
	h.events.Publish(Event{Type: EventWriteFailed, ConnectionID: c.id, UserID: c.userID, Err: err})
	h.log.Warn("ws transport write failed",
		zap.String("connection_id", c.id),
		zap.String("user_id", c.userID),
		zap.Error(err),
	)
	h.closeConnection(c, ReasonWriteFailed)
	return ErrWriteFail.WithError(err)
}

// Disconnect 强制关闭连接，重复调用或未知 ID 时无副作用
func (h *Hub) Disconnect(id string, reason CloseReason) {
	if c, ok := h.pool.Get(id); ok {
		h.closeConnection(c, reason)
	}
}

// closeConnection 进入 Closing，清理索引与队列后进入 Closed
func (h *Hub) closeConnection(c *Connection, reason CloseReason) bool {
	if !c.beginClose() {
		return false
	}
	c.cancel()

	h.pool.Remove(c)
	h.topics.removeAll(c.Topics(), c)
	discarded := c.queue.Close()
	h.discarded.Add(uint64(discarded))

	if err := c.transport.Close(closeCode(reason), string(reason)); err != nil {
		h.log.Debug("ws transport close", zap.String("connection_id", c.id), zap.Error(err))
	}
	c.state.Store(int32(StateClosed))

	h.metrics.ConnectionClosed(reason)
	h.metrics.SetConnectionCount(h.pool.Count())
	h.metrics.SetTopicCount(h.topics.count())
	h.events.Publish(Event{Type: EventDisconnected, ConnectionID: c.id, UserID: c.userID, Reason: reason})
	h.log.Info("ws connection closed",
		zap.String("connection_id", c.id),
		zap.String("user_id", c.userID),
		zap.String("reason", string(reason)),
		zap.Int("discarded", discarded),
	)
	return true
}

// Drain 优雅关闭：停止接收新消息，投递完剩余消息后关闭
// ctx 到期时强制关闭
func (h *Hub) Drain(ctx context.Context, id string) error {
	c, ok := h.pool.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	return h.drain(ctx, c)
}

func (h *Hub) drain(ctx context.Context, c *Connection) error {
	if !c.transition(StateActive, StateDraining) && c.State() != StateDraining {
		return nil
	}
	if c.queue.Len() == 0 {
		h.closeConnection(c, ReasonDrained)
		return nil
	}
	c.wake()

	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		h.closeConnection(c, ReasonShutdown)
		return ctx.Err()
	}
}

// ReadLoop 读取上行帧直到连接关闭
func (h *Hub) ReadLoop(ctx context.Context, id string) error {
	c, ok := h.pool.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}

	for {
		data, err := c.transport.ReadMessage(ctx)
		if err != nil {
			if s := c.State(); s == StateClosing || s == StateClosed {
				return nil
			}
			if !IsClientClose(err) && ctx.Err() == nil {
				h.log.Debug("ws read failed", zap.String("connection_id", c.id), zap.Error(err))
			}
			h.closeConnection(c, ReasonClientClosed)
			return nil
		}
		c.touch()
		h.handleFrame(c, data)
	}
}

// handleFrame 处理一条上行帧
func (h *Hub) handleFrame(c *Connection, data []byte) {
	if !c.limiter.Allow() {
		h.rejectFrame(c, ErrRateLimited)
		return
	}

	frame, err := ParseClientFrame(data)
	if err != nil {
		h.rejectFrame(c, err)
		return
	}
	c.invalidMsgCount.Store(0)

	switch frame.Action {
	case ActionSubscribe:
		if err := h.subscribe(c, frame.Topic); err != nil {
			h.replyError(c, err)
			return
		}
		_, _ = h.enqueue(c, MustMessage(MessageTypeSubscribed, topicPayload{Topic: frame.Topic}, PriorityHigh))
	case ActionUnsubscribe:
		if err := h.Unsubscribe(c.id, frame.Topic); err != nil {
			h.replyError(c, err)
			return
		}
		_, _ = h.enqueue(c, MustMessage(MessageTypeUnsubscribed, topicPayload{Topic: frame.Topic}, PriorityHigh))
	case ActionPing:
		_, _ = h.enqueue(c, MustMessage(MessageTypeHeartbeat, nil, PriorityHigh))
	}
}

func (h *Hub) rejectFrame(c *Connection, err error) {
	h.invalidFrames.Add(1)
	h.metrics.InvalidFrame()

	n := c.invalidMsgCount.Add(1)
	if limit := h.config.MaxInvalidFrames; limit > 0 && int(n) > limit {
		h.log.Warn("ws too many invalid frames", zap.String("connection_id", c.id), zap.Int32("count", n))
		h.closeConnection(c, ReasonInvalidFrames)
		return
	}
	h.replyError(c, err)
}

func (h *Hub) replyError(c *Connection, err error) {
	e := errors.From(err)
	_, _ = h.enqueue(c, MustMessage(MessageTypeError, errorPayload{Code: e.Code, Message: e.Message}, PriorityHigh))
}

// Serve 注册连接并运行读取与投递循环，阻塞直到连接关闭
func (h *Hub) Serve(ctx context.Context, t Transport, meta ConnectionMetadata) error {
	if !h.track(2) {
		_ = t.Close(CloseGoingAway, ErrHubClosed.Error())
		return ErrHubClosed
	}
	id, err := h.Register(t, meta)
	if err != nil {
		h.wg.Add(-2)
		_ = t.Close(ClosePolicy, err.Error())
		return err
	}

	go func() {
		defer h.wg.Done()
		_ = h.ReadLoop(ctx, id)
	}()

	defer h.wg.Done()
	err = h.DrainToTransport(ctx, id)
	h.Disconnect(id, ReasonClientClosed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// track 推送中心未关闭时登记 n 个后台任务
func (h *Hub) track(n int) bool {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.closed.Load() {
		return false
	}
	h.wg.Add(n)
	return true
}

// HandleUpgrade 升级 HTTP 连接并运行，阻塞直到连接关闭
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request, meta ConnectionMetadata) error {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return ErrHubClosed
	}
	if limit := h.config.MaxConnections; limit > 0 && h.pool.Count() >= limit {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManyConnections
	}

	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return err
	}

	t := NewGorillaTransport(conn, h.config.WriteTimeout, h.config.HeartbeatTimeout, h.config.MaxMessageSize)
	return h.Serve(r.Context(), t, meta)
}

// Shutdown 优雅关闭：排空所有连接，ctx 到期后强制关闭
func (h *Hub) Shutdown(ctx context.Context) error {
	h.lifeMu.Lock()
	already := h.closed.Swap(true)
	h.lifeMu.Unlock()
	if already {
		return nil
	}

	// 并发排空所有连接
	var drainWg sync.WaitGroup
	for _, c := range h.pool.Snapshot() {
		drainWg.Add(1)
		go func(c *Connection) {
			defer drainWg.Done()
			_ = h.drain(ctx, c)
		}(c)
	}
	drainWg.Wait()

	// 兜底关闭剩余连接
	for _, c := range h.pool.Snapshot() {
		h.closeConnection(c, ReasonShutdown)
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.events.Close()
	return err
}

// On 订阅推送中心事件
func (h *Hub) On(eventType EventType, handler EventHandler) {
	h.events.Subscribe(eventType, handler)
}

// Connection 获取连接
func (h *Hub) Connection(id string) (*Connection, bool) {
	return h.pool.Get(id)
}

// Connections 所有连接的元数据
func (h *Hub) Connections() []ConnectionMetadata {
	conns := h.pool.Snapshot()
	out := make([]ConnectionMetadata, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Metadata())
	}
	return out
}

// Queued 连接队列中待投递的消息（按投递顺序）
func (h *Hub) Queued(id string) ([]Message, error) {
	c, ok := h.pool.Get(id)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return c.queue.Snapshot(), nil
}

// Subscribers 主题订阅数
func (h *Hub) Subscribers(topic string) int {
	return h.topics.subscribers(topic)
}

// Stats 统计信息
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:   h.pool.Count(),
		Topics:        h.topics.count(),
		Enqueued:      h.enqueued.Load(),
		Delivered:     h.delivered.Load(),
		Dropped:       h.dropped.Load(),
		Discarded:     h.discarded.Load(),
		WriteErrors:   h.writeErrors.Load(),
		InvalidFrames: h.invalidFrames.Load(),
	}
}
