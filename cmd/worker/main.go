package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/config"
	"github.com/unclebandit/campaign-consent/internal/mailer"
	"github.com/unclebandit/campaign-consent/internal/queue"
	"github.com/unclebandit/campaign-consent/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required for the standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to RabbitMQ
	q, err := queue.DialAMQP(cfg.AMQPURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer q.Close()

	m := mailer.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, logger)
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST not set, messages are logged instead of sent")
	}
	worker := service.NewWorker(m, logger.Named("worker"))

	if err := queue.StartCampaignSendSubscriber(q, cfg.SendQueue, worker.Handle, logger); err != nil {
		logger.Fatal("failed to register consumer", zap.Error(err))
	}

	logger.Info("worker running, waiting for messages", zap.String("queue", cfg.SendQueue))
	<-ctx.Done()
	logger.Info("worker stopping")
}
