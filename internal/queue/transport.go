package queue

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// Transport is the dispatch-side email transport. Accepting a message means
// it was durably enqueued for the delivery worker.
type Transport struct {
	Queue Queue
	Topic string
	Now   func() time.Time
}

func NewTransport(q Queue, topic string) *Transport {
	if topic == "" {
		topic = DefaultSendTopic
	}
	return &Transport{Queue: q, Topic: topic, Now: time.Now}
}

func (t *Transport) Send(ctx context.Context, to, subject, body string) (model.SendReceipt, error) {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return model.SendReceipt{Accepted: false, Reason: fmt.Sprintf("invalid recipient address: %v", err)}, nil
	}

	job := model.OutboundEmail{
		MessageID: uuid.NewString(),
		To:        addr.Address,
		Subject:   subject,
		Body:      body,
		QueuedAt:  t.Now().UTC(),
	}
	if err := t.Queue.Publish(ctx, t.Topic, job); err != nil {
		return model.SendReceipt{}, fmt.Errorf("enqueue message: %w", err)
	}
	return model.SendReceipt{Accepted: true, MessageID: job.MessageID}, nil
}
