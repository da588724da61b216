//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/unclebandit/campaign-consent/internal/config"
	"github.com/unclebandit/campaign-consent/internal/consent"
	"github.com/unclebandit/campaign-consent/internal/contacts"
	"github.com/unclebandit/campaign-consent/internal/db"
	"github.com/unclebandit/campaign-consent/internal/provider"
	"github.com/unclebandit/campaign-consent/internal/repository"
	"github.com/unclebandit/campaign-consent/internal/service"
	"github.com/unclebandit/campaign-consent/internal/store"
)

// Seeds one campaign from a CSV cohort. With -subject and -body the campaign
// starts from that template; otherwise it is drafted from -intent.
func main() {
	csvPath := flag.String("csv", "seed/contacts.csv", "cohort CSV with an email column")
	userID := flag.String("user", "seeder", "creator user id")
	intent := flag.String("intent", "", "campaign intent used for drafting")
	subject := flag.String("subject", "", "pre-approved subject template")
	body := flag.String("body", "", "pre-approved body template")
	key := flag.String("key", "", "idempotency key, makes re-runs safe")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required to seed")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *csvPath, err)
	}
	loaded, err := contacts.LoadCSV(f)
	f.Close()
	if err != nil {
		log.Fatalf("failed to parse %s: %v", *csvPath, err)
	}
	fmt.Printf("Loaded %d contacts (%d rows dropped)\n", len(loaded.Contacts), loaded.Dropped)

	var contentProvider service.ContentProvider = provider.OfflineProvider{}
	if cfg.LLM.APIKey != "" {
		contentProvider = provider.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Endpoint)
	}

	secret := []byte(cfg.ConsentSecret)
	svc := &service.CampaignService{
		Store:          store.New(repository.NewCampaignRepository(conn)),
		Gate:           consent.NewGate(consent.NewJWTVerifier(secret)),
		Drafter:        service.NewContentDrafter(contentProvider, cfg.DrafterConfig(), logger),
		Logger:         logger,
		DescriptiveKey: cfg.DescriptiveAttribute,
	}

	in := service.CreateCampaignInput{
		UserID:         *userID,
		Intent:         *intent,
		Cohort:         loaded.Contacts,
		IdempotencyKey: *key,
	}
	if *subject != "" || *body != "" {
		in.Template = &service.Template{Subject: *subject, Body: *body}
	} else {
		tok, err := consent.IssueToken(*userID, consent.ScopeContentGeneration, secret, 5*time.Minute)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		in.Token = tok
	}

	snap, err := svc.CreateCampaign(ctx, in)
	if err != nil {
		log.Fatalf("failed to create campaign: %v", err)
	}
	fmt.Printf("Seeded campaign %s (%s, %d recipients)\n", snap.ID, snap.State, snap.Recipients)
}
