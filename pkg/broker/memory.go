package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

// defaultBus 进程内默认总线
var defaultBus = NewMemoryBus()

// MemoryBus 进程内总线，同一总线上的通道互相可见，用于单机部署和测试
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memoryBroker]*dispatcher // channel -> broker -> dispatcher
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memoryBroker]*dispatcher)}
}

// Attach 在总线上创建一个实例的通道
func (b *MemoryBus) Attach(channel, origin string, log logger.Logger) Broker {
	return &memoryBroker{bus: b, channel: channel, origin: origin, log: log}
}

func (b *MemoryBus) publish(channel string, data []byte) {
	b.mu.RLock()
	targets := make([]*dispatcher, 0, len(b.subs[channel]))
	for _, d := range b.subs[channel] {
		targets = append(targets, d)
	}
	b.mu.RUnlock()

	for _, d := range targets {
		d.dispatch(data)
	}
}

func (b *MemoryBus) add(channel string, m *memoryBroker, d *dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[channel]
	if !ok {
		subs = make(map[*memoryBroker]*dispatcher)
		b.subs[channel] = subs
	}
	subs[m] = d
}

func (b *MemoryBus) remove(channel string, m *memoryBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[channel]; ok {
		delete(subs, m)
		if len(subs) == 0 {
			delete(b.subs, channel)
		}
	}
}

// memoryBroker 进程内通道，Publish 同步交付
type memoryBroker struct {
	bus     *MemoryBus
	channel string
	origin  string
	log     logger.Logger

	mu     sync.Mutex
	closed bool
}

func (m *memoryBroker) Publish(_ context.Context, event ws.StreamEvent) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, id, err := newEnvelope(m.origin, event)
	if err != nil {
		return err
	}
	m.bus.publish(m.channel, data)
	m.log.Debug("broker published", zap.String("id", id))
	return nil
}

func (m *memoryBroker) Subscribe(ctx context.Context, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.bus.add(m.channel, m, newDispatcher(handler, m.log))
	go func() {
		<-ctx.Done()
		m.bus.remove(m.channel, m)
	}()
	return nil
}

func (m *memoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.bus.remove(m.channel, m)
	return nil
}
