package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-consent/internal/model"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	deliveries chan amqp.Delivery
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Publish(_, _ string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) Published() []amqp.Publishing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]amqp.Publishing{}, c.published...)
}

// fakeAck records the broker acknowledgement for a delivery.
type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeue = true, requeue
	return nil
}

func delivery(t *testing.T, job model.OutboundEmail, retries int32) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	ack := &fakeAck{}
	return amqp.Delivery{
		Acknowledger: ack,
		Headers:      amqp.Table{retryHeader: retries},
		Body:         body,
	}, ack
}

func TestAMQPQueue_PublishDeclaresOnceAndEncodes(t *testing.T) {
	ch := &fakeChannel{}
	q := newAMQPQueue(ch, nil)

	job := model.OutboundEmail{MessageID: "m1", To: "jane@example.com", Subject: "Hi"}
	require.NoError(t, q.Publish(context.Background(), "sends", job))
	require.NoError(t, q.Publish(context.Background(), "sends", job))

	assert.Equal(t, []string{"sends"}, ch.declared)
	pub := ch.Published()
	require.Len(t, pub, 2)
	assert.Equal(t, "m1", pub[0].MessageId)
	assert.Equal(t, amqp.Persistent, pub[0].DeliveryMode)
	assert.Equal(t, int32(0), pub[0].Headers[retryHeader])

	var decoded model.OutboundEmail
	require.NoError(t, json.Unmarshal(pub[0].Body, &decoded))
	assert.Equal(t, job.To, decoded.To)
}

func TestAMQPQueue_PublishHonoursCancelledContext(t *testing.T) {
	ch := &fakeChannel{}
	q := newAMQPQueue(ch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Publish(ctx, "sends", model.OutboundEmail{}), context.Canceled)
	assert.Empty(t, ch.Published())
}

func TestAMQPQueue_HandleDelivery(t *testing.T) {
	job := model.OutboundEmail{MessageID: "m1", To: "jane@example.com"}

	t.Run("success acks", func(t *testing.T) {
		q := newAMQPQueue(&fakeChannel{}, nil)
		d, ack := delivery(t, job, 0)
		q.handleDelivery(context.Background(), "sends", func(context.Context, model.OutboundEmail) error { return nil }, d)
		assert.True(t, ack.acked)
	})

	t.Run("failure republishes with incremented count", func(t *testing.T) {
		ch := &fakeChannel{}
		q := newAMQPQueue(ch, nil)
		d, ack := delivery(t, job, 1)
		q.handleDelivery(context.Background(), "sends", func(context.Context, model.OutboundEmail) error {
			return errors.New("smtp down")
		}, d)

		assert.True(t, ack.acked)
		pub := ch.Published()
		require.Len(t, pub, 1)
		assert.Equal(t, int32(2), pub[0].Headers[retryHeader])
	})

	t.Run("exhausted retries are dropped", func(t *testing.T) {
		ch := &fakeChannel{}
		q := newAMQPQueue(ch, nil)
		d, ack := delivery(t, job, 3)
		q.handleDelivery(context.Background(), "sends", func(context.Context, model.OutboundEmail) error {
			return errors.New("smtp down")
		}, d)

		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
		assert.Empty(t, ch.Published())
	})

	t.Run("malformed body is acked without calling handler", func(t *testing.T) {
		q := newAMQPQueue(&fakeChannel{}, nil)
		ack := &fakeAck{}
		called := false
		q.handleDelivery(context.Background(), "sends", func(context.Context, model.OutboundEmail) error {
			called = true
			return nil
		}, amqp.Delivery{Acknowledger: ack, Body: []byte("{")})

		assert.True(t, ack.acked)
		assert.False(t, called)
	})
}

func TestAMQPQueue_SubscribeConsumes(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	q := newAMQPQueue(ch, nil)

	handled := make(chan string, 1)
	require.NoError(t, q.Subscribe("sends", func(_ context.Context, job model.OutboundEmail) error {
		handled <- job.MessageID
		return nil
	}))

	d, _ := delivery(t, model.OutboundEmail{MessageID: "m9"}, 0)
	ch.deliveries <- d
	assert.Equal(t, "m9", <-handled)
	close(ch.deliveries)
}

func TestHeaderInt(t *testing.T) {
	assert.Equal(t, 2, headerInt(int32(2)))
	assert.Equal(t, 5, headerInt(int64(5)))
	assert.Equal(t, 0, headerInt("3"))
	assert.Equal(t, 0, headerInt(nil))
}
