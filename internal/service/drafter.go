package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
)

// ContentProvider is the generative content capability. Quota exhaustion is
// reported as an *appErrors.ProviderError of kind quota_exceeded.
type ContentProvider interface {
	Generate(ctx context.Context, prompt string, context map[string]string) (string, error)
}

type DraftMode string

const (
	DraftCreate     DraftMode = "create"
	DraftModify     DraftMode = "modify"
	DraftRegenerate DraftMode = "regenerate"
)

type Draft struct {
	Subject string
	Body    string
}

type DraftRequest struct {
	Mode     DraftMode
	Intent   string
	Feedback string
	Previous *Draft
	Revision int
}

// Drafter produces one candidate draft per call.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (Draft, error)
}

type DrafterConfig struct {
	Timeout         time.Duration
	RatePerMinute   int
	Burst           int
	CooldownInitial time.Duration
	CooldownMax     time.Duration
}

func DefaultDrafterConfig() DrafterConfig {
	return DrafterConfig{
		Timeout:         30 * time.Second,
		RatePerMinute:   30,
		Burst:           5,
		CooldownInitial: 30 * time.Second,
		CooldownMax:     15 * time.Minute,
	}
}

// ContentDrafter calls the provider at most once per Draft. It never retries.
// After a quota failure it refuses further calls until a cooldown elapses;
// consecutive quota failures grow the cooldown exponentially.
type ContentDrafter struct {
	provider ContentProvider
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	cooldown     *backoff.ExponentialBackOff
	blockedUntil time.Time
}

func NewContentDrafter(provider ContentProvider, cfg DrafterConfig, logger *zap.Logger) *ContentDrafter {
	def := DefaultDrafterConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CooldownInitial <= 0 {
		cfg.CooldownInitial = def.CooldownInitial
	}
	if cfg.CooldownMax < cfg.CooldownInitial {
		cfg.CooldownMax = cfg.CooldownInitial
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.CooldownInitial
	b.MaxInterval = cfg.CooldownMax
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.Reset()

	return &ContentDrafter{
		provider: provider,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		timeout:  cfg.Timeout,
		logger:   logger,
		now:      time.Now,
		cooldown: b,
	}
}

func (d *ContentDrafter) Draft(ctx context.Context, req DraftRequest) (Draft, error) {
	if wait := d.cooldownRemaining(); wait > 0 {
		d.logger.Warn("provider cooling down after quota failure, not calling",
			zap.String("mode", string(req.Mode)), zap.Duration("retry_after", wait))
		return Draft{}, &appErrors.ProviderError{
			Kind:       appErrors.ProviderQuotaExceeded,
			Message:    "provider quota exhausted, cooling down",
			RetryAfter: wait,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(callCtx); err != nil {
		if ctx.Err() != nil {
			return Draft{}, ctx.Err()
		}
		return Draft{}, appErrors.NewQuotaExceeded("local provider rate limit reached", 0)
	}

	text, err := d.provider.Generate(callCtx, BuildPrompt(req), promptContext(req))
	if err != nil {
		return Draft{}, d.classify(ctx, callCtx, err)
	}

	d.mu.Lock()
	d.cooldown.Reset()
	d.mu.Unlock()

	draft, ok := ParseDraft(text)
	if !ok {
		return Draft{}, appErrors.NewProviderError(appErrors.ProviderFailure, "provider returned an empty draft", nil)
	}
	return draft, nil
}

func (d *ContentDrafter) classify(parent, callCtx context.Context, err error) error {
	// The caller gave up: report that, not a provider fault.
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return appErrors.NewProviderError(appErrors.ProviderTimeout,
			fmt.Sprintf("no response within %s", d.timeout), err)
	}

	var pe *appErrors.ProviderError
	if errors.As(err, &pe) {
		if pe.Kind == appErrors.ProviderQuotaExceeded {
			d.startCooldown(pe.RetryAfter)
		}
		return pe
	}
	return appErrors.NewProviderError(appErrors.ProviderFailure, "content generation failed", err)
}

func (d *ContentDrafter) startCooldown(retryAfter time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wait := d.cooldown.NextBackOff()
	if retryAfter > wait {
		wait = retryAfter
	}
	d.blockedUntil = d.now().Add(wait)
	d.logger.Warn("provider quota exceeded", zap.Duration("cooldown", wait))
}

func (d *ContentDrafter) cooldownRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blockedUntil.IsZero() {
		return 0
	}
	if wait := d.blockedUntil.Sub(d.now()); wait > 0 {
		return wait
	}
	return 0
}

// BuildPrompt turns a draft request into the instruction sent to the
// provider.
func BuildPrompt(req DraftRequest) string {
	var b strings.Builder
	b.WriteString("Write a marketing email for the campaign described below.\n")
	b.WriteString("Campaign intent: ")
	b.WriteString(strings.TrimSpace(req.Intent))
	b.WriteString("\n")

	if req.Mode == DraftModify && req.Previous != nil {
		b.WriteString("\nRevise this draft.\nCurrent subject: ")
		b.WriteString(req.Previous.Subject)
		b.WriteString("\nCurrent body:\n")
		b.WriteString(req.Previous.Body)
		b.WriteString("\n\nReviewer feedback: ")
		b.WriteString(strings.TrimSpace(req.Feedback))
		b.WriteString("\n")
	}

	b.WriteString("\nYou may use the placeholders {name} and {description}; they are filled in per recipient.\n")
	b.WriteString("Answer with a first line of the form \"Subject: <subject>\", a blank line, then the body.")
	return b.String()
}

func promptContext(req DraftRequest) map[string]string {
	ctx := map[string]string{
		"mode":     string(req.Mode),
		"intent":   req.Intent,
		"revision": strconv.Itoa(req.Revision),
	}
	if req.Feedback != "" {
		ctx["feedback"] = req.Feedback
	}
	return ctx
}

// ParseDraft splits provider output into subject and body. A "Subject:" line
// wins; otherwise the first non-blank line is the subject.
func ParseDraft(text string) (Draft, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	subjectIdx := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 8 && strings.EqualFold(trimmed[:8], "subject:") {
			subjectIdx = i
			break
		}
	}

	var subject string
	if subjectIdx >= 0 {
		subject = strings.TrimSpace(strings.TrimSpace(lines[subjectIdx])[8:])
	} else {
		for i, line := range lines {
			if strings.TrimSpace(line) != "" {
				subjectIdx = i
				subject = strings.TrimSpace(line)
				break
			}
		}
	}
	if subjectIdx < 0 {
		return Draft{}, false
	}

	body := strings.TrimSpace(strings.Join(lines[subjectIdx+1:], "\n"))
	if body == "" || subject == "" {
		return Draft{}, false
	}
	return Draft{Subject: subject, Body: body}, true
}
