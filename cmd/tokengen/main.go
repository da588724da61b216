// Command tokengen prints a signed consent token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/unclebandit/campaign-consent/internal/config"
	"github.com/unclebandit/campaign-consent/internal/consent"
)

func main() {
	subject := flag.String("sub", "local-user", "token subject")
	scopeName := flag.String("scope", string(consent.ScopeContentGeneration), "consent scope")
	ttl := flag.Duration("ttl", time.Hour, "token validity")
	flag.Parse()

	scope, ok := consent.ParseScope(*scopeName)
	if !ok {
		log.Fatalf("unknown scope %q", *scopeName)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tok, err := consent.IssueToken(*subject, scope, []byte(cfg.ConsentSecret), *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok)
}
