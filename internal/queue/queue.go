package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// DefaultSendTopic carries rendered emails from dispatch to the delivery worker.
const DefaultSendTopic = "campaign_sends"

// Handler processes one job. A non-nil error asks for a retry.
type Handler func(ctx context.Context, job model.OutboundEmail) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, job model.OutboundEmail) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers jobs to in-process subscribers with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	wg       sync.WaitGroup

	Logger     *zap.Logger
	MaxRetries uint
	RetryDelay time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		Logger:     logger,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Publish hands the job to every subscriber of topic. Handlers outlive the
// publishing request, so they run detached from its cancellation.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, job model.OutboundEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	handlers := append([]Handler{}, q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	jobCtx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		q.wg.Add(1)
		go func(h Handler) {
			defer q.wg.Done()
			q.processJob(jobCtx, topic, h, job)
		}(handler)
	}
	return nil
}

// processJob retries with exponential backoff and gives up after MaxRetries.
func (q *InMemoryQueue) processJob(ctx context.Context, topic string, handler Handler, job model.OutboundEmail) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.RetryDelay
	b.Multiplier = 2

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, handler(ctx, job)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(q.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.Logger.Warn("job failed, retrying",
				zap.String("topic", topic),
				zap.String("message_id", job.MessageID),
				zap.Int("attempt", attempt),
				zap.Duration("next_in", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		q.Logger.Error("job permanently failed",
			zap.String("topic", topic), zap.String("message_id", job.MessageID),
			zap.Int("attempts", attempt), zap.Error(err))
		return
	}
	q.Logger.Debug("job processed", zap.String("topic", topic), zap.String("message_id", job.MessageID))
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// StartCampaignSendSubscriber wires the delivery handler to the send topic.
func StartCampaignSendSubscriber(q Queue, topic string, handler Handler, logger *zap.Logger) error {
	if topic == "" {
		topic = DefaultSendTopic
	}
	if err := q.Subscribe(topic, handler); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if logger != nil {
		logger.Info("send subscriber started", zap.String("topic", topic))
	}
	return nil
}
