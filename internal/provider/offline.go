package provider

import (
	"context"
	"fmt"
	"strings"
)

// OfflineProvider writes a plain draft from the intent without any network
// call. Used for local runs when no API key is configured.
type OfflineProvider struct{}

func (OfflineProvider) Generate(ctx context.Context, _ string, meta map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	intent := strings.TrimSpace(meta["intent"])
	if intent == "" {
		intent = "an update from our team"
	}
	body := fmt.Sprintf("Hi {name},\n\nWe wanted to share %s with you.\n\n{description}\n\nThanks for being with us.", intent)
	if fb := strings.TrimSpace(meta["feedback"]); fb != "" {
		body += "\n\n(" + fb + ")"
	}
	return fmt.Sprintf("Subject: %s\n\n%s", capitalize(intent), body), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
