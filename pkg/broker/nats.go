package broker

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

// natsBroker 基于 NATS subject 的通道
type natsBroker struct {
	subject string
	origin  string
	conn    *nats.Conn
	log     logger.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

func newNATSBroker(url, subject, origin string, log logger.Logger) (*natsBroker, error) {
	b := &natsBroker{subject: subject, origin: origin, log: log}

	opts := []nats.Option{
		nats.Name("stsrt-" + origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectJitter(500*time.Millisecond, time.Second),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("broker nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("broker nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn("broker nats error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, ErrConnect.WithError(err)
	}
	b.conn = conn
	return b, nil
}

func (n *natsBroker) Publish(ctx context.Context, event ws.StreamEvent) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, id, err := newEnvelope(n.origin, event)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return ErrPublish.WithError(err)
	}
	n.log.Debug("broker published", zap.String("id", id))
	return nil
}

func (n *natsBroker) Subscribe(ctx context.Context, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	d := newDispatcher(handler, n.log)
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		d.dispatch(msg.Data)
	})
	if err != nil {
		return ErrSubscribe.WithError(err)
	}
	n.subs = append(n.subs, sub)

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (n *natsBroker) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	// Drain 会先处理完已收到的消息再关闭连接
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
