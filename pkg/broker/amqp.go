package broker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

// amqpBroker 基于 RabbitMQ fanout 交换机的通道
// 每个实例声明一个独占、自动删除的队列绑定到交换机
type amqpBroker struct {
	exchange string
	origin   string
	conn     *amqp.Connection
	pub      *amqp.Channel
	log      logger.Logger

	mu     sync.Mutex
	subs   []*amqp.Channel
	closed bool
}

func newAMQPBroker(url, exchange, origin string, log logger.Logger) (*amqpBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, ErrConnect.WithError(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, ErrConnect.WithError(err)
	}

	// 持久化的 fanout 交换机
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, ErrConnect.WithError(err)
	}

	return &amqpBroker{
		exchange: exchange,
		origin:   origin,
		conn:     conn,
		pub:      ch,
		log:      log,
	}, nil
}

func (a *amqpBroker) Publish(ctx context.Context, event ws.StreamEvent) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, id, err := newEnvelope(a.origin, event)
	if err != nil {
		return err
	}

	err = a.pub.PublishWithContext(ctx, a.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   id,
		AppId:       a.origin,
		Type:        string(event.EventType),
		Timestamp:   time.Now(),
		Body:        data,
	})
	if err != nil {
		return ErrPublish.WithError(err)
	}
	a.log.Debug("broker published", zap.String("id", id))
	return nil
}

func (a *amqpBroker) Subscribe(ctx context.Context, handler Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return ErrSubscribe.WithError(err)
	}

	// 服务端命名、独占、自动删除
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return ErrSubscribe.WithError(err)
	}
	if err := ch.QueueBind(q.Name, "", a.exchange, false, nil); err != nil {
		_ = ch.Close()
		return ErrSubscribe.WithError(err)
	}

	deliveries, err := ch.Consume(q.Name, a.origin, true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return ErrSubscribe.WithError(err)
	}
	a.subs = append(a.subs, ch)

	d := newDispatcher(handler, a.log)
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}
				d.dispatch(msg.Body)
			}
		}
	}()
	return nil
}

func (a *amqpBroker) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	for _, ch := range a.subs {
		if err := ch.Close(); err != nil && err != amqp.ErrClosed {
			errs = append(errs, err)
		}
	}
	a.subs = nil
	if err := a.conn.Close(); err != nil && err != amqp.ErrClosed {
		errs = append(errs, err)
	}
	return joinErrors(errs)
}
