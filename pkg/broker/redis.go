package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

// redisBroker 基于 Redis Pub/Sub 的通道
// 客户端由调用方持有，Close 只关闭订阅
type redisBroker struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     logger.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func newRedisBroker(client redis.UniversalClient, channel, origin string, log logger.Logger) *redisBroker {
	return &redisBroker{client: client, channel: channel, origin: origin, log: log}
}

func (r *redisBroker) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *redisBroker) Publish(ctx context.Context, event ws.StreamEvent) error {
	if r.isClosed() {
		return ErrClosed
	}
	data, id, err := newEnvelope(r.origin, event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return ErrPublish.WithError(err)
	}
	r.log.Debug("broker published", zap.String("id", id))
	return nil
}

func (r *redisBroker) Subscribe(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// 等待订阅确认，之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return ErrSubscribe.WithError(err)
	}
	r.subs = append(r.subs, pubsub)

	d := newDispatcher(handler, r.log)
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				d.dispatch([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *redisBroker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, s := range r.subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return joinErrors(errs)
}
