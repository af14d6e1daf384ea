package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/stsrt/pkg/errors"
	"github.com/tokmz/stsrt/pkg/logger"
)

func TestKafkaPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newKafkaConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Origin != "node-a" || env.ID == "" || env.Event.RoomID != "7" {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	b := newKafkaBrokerWith(producer, nil, "stsrt.events", "node-a", logger.Nop())

	require.NoError(t, b.Publish(context.Background(), roomEvent("7")))

	err := b.Publish(context.Background(), roomEvent("7"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublish))

	require.NoError(t, b.Close())
	assert.True(t, errors.Is(b.Publish(context.Background(), roomEvent("7")), ErrClosed))
}

func TestKafkaSubscribeWithoutGroup(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newKafkaConfig())
	b := newKafkaBrokerWith(producer, nil, "stsrt.events", "node-a", logger.Nop())
	defer b.Close()

	err := b.Subscribe(context.Background(), (&collector{}).handle)
	assert.True(t, errors.Is(err, ErrSubscribe))
}

// fakeSession 只实现消费用到的方法
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestKafkaConsumeClaim(t *testing.T) {
	c := &collector{}
	h := &consumerGroupHandler{dispatcher: newDispatcher(c.handle, logger.Nop())}

	good, _, err := newEnvelope("node-b", roomEvent("1"))
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: good}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("garbage")}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: good}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.Setup(session))
	require.NoError(t, h.ConsumeClaim(session, claim))
	require.NoError(t, h.Cleanup(session))

	assert.Equal(t, 1, c.count())
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
}

func TestKafkaConsumeClaimStopsOnSessionEnd(t *testing.T) {
	h := &consumerGroupHandler{dispatcher: newDispatcher((&collector{}).handle, logger.Nop())}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}
