package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/model"
)

const retryHeader = "x-retry-count"

// channel is the part of *amqp.Channel the queue uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPQueue publishes jobs to durable RabbitMQ queues, one per topic.
type AMQPQueue struct {
	conn   *amqp.Connection
	ch     channel
	logger *zap.Logger

	MaxRetries int

	mu       sync.Mutex
	declared map[string]bool
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q := newAMQPQueue(ch, logger)
	q.conn = conn
	return q, nil
}

func newAMQPQueue(ch channel, logger *zap.Logger) *AMQPQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPQueue{
		ch:         ch,
		logger:     logger,
		MaxRetries: 3,
		declared:   make(map[string]bool),
	}
}

func (q *AMQPQueue) declare(topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[topic] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, job model.OutboundEmail) error {
	return q.publish(ctx, topic, job, 0)
}

func (q *AMQPQueue) publish(ctx context.Context, topic string, job model.OutboundEmail, retries int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.declare(topic); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic with manual acks. Deliveries are handled one at
// a time per subscription.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.handleDelivery(context.Background(), topic, handler, d)
		}
		q.logger.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

// handleDelivery acks malformed jobs, republishes failed ones with an
// incremented retry count, and drops them once MaxRetries is reached.
func (q *AMQPQueue) handleDelivery(ctx context.Context, topic string, handler Handler, d amqp.Delivery) {
	var job model.OutboundEmail
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.logger.Warn("invalid job, dropping", zap.String("topic", topic), zap.Error(err))
		_ = d.Ack(false)
		return
	}

	err := handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := headerInt(d.Headers[retryHeader])
	log := q.logger.With(zap.String("message_id", job.MessageID), zap.Int("retries", retries), zap.Error(err))
	if retries >= q.MaxRetries {
		log.Error("job permanently failed")
		_ = d.Nack(false, false)
		return
	}
	if perr := q.publish(ctx, topic, job, retries+1); perr != nil {
		log.Error("requeue failed, returning delivery to broker", zap.NamedError("publish_error", perr))
		_ = d.Nack(false, true)
		return
	}
	log.Warn("job failed, requeued")
	_ = d.Ack(false)
}

func headerInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
