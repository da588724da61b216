package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// Mailer puts one message on the wire.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// Worker delivers queued emails. Returning an error asks the queue to retry.
type Worker struct {
	Mailer Mailer
	Logger *zap.Logger
}

// Constructor
func NewWorker(m Mailer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{Mailer: m, Logger: logger}
}

// Handle processes one queued email
func (w *Worker) Handle(ctx context.Context, job model.OutboundEmail) error {
	log := w.Logger.With(zap.String("message_id", job.MessageID), zap.String("to", job.To))

	if job.To == "" {
		log.Warn("job has no recipient, dropping")
		return nil // no retry
	}

	if err := w.Mailer.Deliver(ctx, job.To, job.Subject, job.Body); err != nil {
		log.Warn("delivery failed", zap.Error(err))
		return err
	}

	log.Info("message delivered")
	return nil
}
