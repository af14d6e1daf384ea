package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tokmz/stsrt/pkg/logger"
	"github.com/tokmz/stsrt/pkg/ws"
)

const (
	kafkaMaxRetries   = 3
	kafkaRetryBackoff = 100 * time.Millisecond
	kafkaRejoinDelay  = time.Second
)

// newKafkaConfig 生产者与消费组配置
func newKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()

	// 生产者
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Retry.Backoff = kafkaRetryBackoff
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy

	// 消费组：只关心启动之后的事件
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	config.Version = sarama.V2_8_0_0
	return config
}

// kafkaBroker 基于 Kafka 的通道
// 每个实例使用独立的消费组，因此每个实例都能收到全部事件
type kafkaBroker struct {
	topic    string
	origin   string
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	log      logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newKafkaBroker(brokers []string, groupID, topic, origin string, log logger.Logger) (*kafkaBroker, error) {
	config := newKafkaConfig()

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, ErrConnect.WithError(err)
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		_ = producer.Close()
		return nil, ErrConnect.WithError(err)
	}

	return newKafkaBrokerWith(producer, group, topic, origin, log), nil
}

func newKafkaBrokerWith(producer sarama.SyncProducer, group sarama.ConsumerGroup, topic, origin string, log logger.Logger) *kafkaBroker {
	return &kafkaBroker{
		topic:    topic,
		origin:   origin,
		producer: producer,
		group:    group,
		log:      log,
	}
}

func (k *kafkaBroker) Publish(ctx context.Context, event ws.StreamEvent) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, id, err := newEnvelope(k.origin, event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.TargetTopic()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("origin"), Value: []byte(k.origin)},
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
		Timestamp: time.Now(),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return ErrPublish.WithError(err)
	}
	k.log.Debug("broker published",
		zap.String("id", id),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (k *kafkaBroker) Subscribe(ctx context.Context, handler Handler) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}
	if k.group == nil {
		return ErrSubscribe
	}

	h := &consumerGroupHandler{dispatcher: newDispatcher(handler, k.log)}

	k.wg.Add(2)
	go func() {
		defer k.wg.Done()
		// 每次 rebalance 后 Consume 返回，需要循环调用
		for {
			if err := k.group.Consume(ctx, []string{k.topic}, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				k.log.Warn("broker kafka consume failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(kafkaRejoinDelay):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer k.wg.Done()
		for err := range k.group.Errors() {
			k.log.Warn("broker kafka consumer group error", zap.Error(err))
		}
	}()
	return nil
}

func (k *kafkaBroker) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	var errs []error
	if err := k.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if k.group != nil {
		if err := k.group.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.wg.Wait()
	return joinErrors(errs)
}

// consumerGroupHandler 实现 sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	dispatcher *dispatcher
}

// Setup 会话开始
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup 会话结束
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 消费分区消息，无法解码的消息同样标记为已处理
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			h.dispatcher.dispatch(msg.Value)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
