// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/config"
	"github.com/unclebandit/campaign-consent/internal/consent"
	"github.com/unclebandit/campaign-consent/internal/controller"
	"github.com/unclebandit/campaign-consent/internal/db"
	"github.com/unclebandit/campaign-consent/internal/handler"
	"github.com/unclebandit/campaign-consent/internal/mailer"
	"github.com/unclebandit/campaign-consent/internal/provider"
	"github.com/unclebandit/campaign-consent/internal/queue"
	"github.com/unclebandit/campaign-consent/internal/repository"
	"github.com/unclebandit/campaign-consent/internal/service"
	"github.com/unclebandit/campaign-consent/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repository: Postgres when configured, memory otherwise
	var repo repository.CampaignRepositoryInterface
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database unavailable", zap.Error(err))
		}
		defer conn.Close()
		repo = repository.NewCampaignRepository(conn)
	} else {
		logger.Warn("DATABASE_URL not set, campaigns are kept in memory")
		repo = repository.NewMemoryCampaignRepository()
	}

	// Send queue: RabbitMQ with a separate worker process, or in-process
	var q queue.Queue
	if cfg.AMQPURL != "" {
		aq, err := queue.DialAMQP(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal("queue unavailable", zap.Error(err))
		}
		defer aq.Close()
		q = aq
	} else {
		mq := queue.NewInMemoryQueue(logger)
		worker := service.NewWorker(mailer.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, logger), logger)
		if err := queue.StartCampaignSendSubscriber(mq, cfg.SendQueue, worker.Handle, logger); err != nil {
			logger.Fatal("send subscriber", zap.Error(err))
		}
		q = mq
	}

	var contentProvider service.ContentProvider = provider.OfflineProvider{}
	if cfg.LLM.APIKey != "" {
		contentProvider = provider.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Endpoint)
	} else {
		logger.Warn("LLM_API_KEY not set, drafts are generated offline")
	}

	campaignService := &service.CampaignService{
		Store:          store.New(repo),
		Gate:           consent.NewGate(consent.NewJWTVerifier([]byte(cfg.ConsentSecret))),
		Drafter:        service.NewContentDrafter(contentProvider, cfg.DrafterConfig(), logger.Named("drafter")),
		Transport:      queue.NewTransport(q, cfg.SendQueue),
		Logger:         logger.Named("engine"),
		SendTimeout:    cfg.SendTimeout,
		DescriptiveKey: cfg.DescriptiveAttribute,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Logger:          logger,
	}
	campaignHandler := handler.NewCampaignHandler(campaignService, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           controller.NewRouter(campaignController, campaignHandler, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server running", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if mq, ok := q.(*queue.InMemoryQueue); ok {
		mq.Wait()
	}
}
