// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/consent"
	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
	"github.com/unclebandit/campaign-consent/internal/model"
	"github.com/unclebandit/campaign-consent/internal/store"
)

// EmailTransport submits one message. A rejection is a normal answer; an
// error means the transport could not be reached.
type EmailTransport interface {
	Send(ctx context.Context, to, subject, body string) (model.SendReceipt, error)
}

type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionModify     Action = "modify"
	ActionRegenerate Action = "regenerate"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionModify, ActionRegenerate:
		return a, nil
	}
	return "", appErrors.NewValidation("action", fmt.Sprintf("unknown action %q", s))
}

// transitions is the whole state machine. Anything not listed is an
// InvalidTransition.
var transitions = map[model.CampaignState]map[model.CampaignState]bool{
	model.StateDrafting: {
		model.StateAwaitingApproval: true,
		model.StateFailed:           true,
	},
	model.StateAwaitingApproval: {
		model.StateAwaitingApproval: true,
		model.StateApproved:         true,
		model.StateRejected:         true,
		model.StateFailed:           true,
	},
	model.StateApproved: {
		model.StateDispatching: true,
		model.StateFailed:      true,
	},
	model.StateDispatching: {
		model.StateCompleted: true,
		model.StateFailed:    true,
	},
}

var campaignNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:campaign-consent:campaign"))

const defaultSendTimeout = 15 * time.Second

type CampaignService struct {
	Store          *store.CampaignStore
	Gate           *consent.Gate
	Drafter        Drafter
	Transport      EmailTransport
	Logger         *zap.Logger
	SendTimeout    time.Duration
	DescriptiveKey string
	Now            func() time.Time
}

// Template is a pre-approved subject/body pair that skips generation.
type Template struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type CreateCampaignInput struct {
	UserID         string
	Token          string
	Intent         string
	Template       *Template
	Cohort         []model.Contact
	IdempotencyKey string
}

type FailureInfo struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// CampaignSnapshot is an immutable read view of a campaign.
type CampaignSnapshot struct {
	ID            string              `json:"id"`
	State         model.CampaignState `json:"state"`
	Revision      int                 `json:"revision"`
	Subject       string              `json:"subject"`
	Body          string              `json:"body"`
	Intent        string              `json:"intent,omitempty"`
	CreatorUserID string              `json:"creator_user_id"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     *time.Time          `json:"updated_at,omitempty"`
	Recipients    int                 `json:"recipients"`
	Personalized  int                 `json:"personalized"`
	Standard      int                 `json:"standard"`
	Failure       *FailureInfo        `json:"failure,omitempty"`
}

type RecipientOutcome struct {
	Email     string           `json:"email"`
	Status    model.SendStatus `json:"status"`
	MessageID string           `json:"message_id,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type DispatchReport struct {
	CampaignID string              `json:"campaign_id"`
	State      model.CampaignState `json:"state"`
	Outcomes   []RecipientOutcome  `json:"outcomes"`
	Sent       int                 `json:"sent"`
	Rejected   int                 `json:"rejected"`
}

func (r *DispatchReport) add(res model.SendResult) {
	r.Outcomes = append(r.Outcomes, RecipientOutcome{
		Email:     res.Email,
		Status:    res.Status,
		MessageID: res.MessageID,
		Reason:    res.Reason,
	})
	if res.Status == model.SendAccepted {
		r.Sent++
	} else {
		r.Rejected++
	}
}

type CampaignDetails struct {
	CampaignSnapshot
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) sendTimeout() time.Duration {
	if s.SendTimeout > 0 {
		return s.SendTimeout
	}
	return defaultSendTimeout
}

// CampaignID derives the identifier for a create request. Retries carrying
// the same idempotency key resolve to the same campaign.
func CampaignID(userID, idempotencyKey string) string {
	if idempotencyKey == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(campaignNamespace, []byte(userID+"\x00"+idempotencyKey)).String()
}

func (s *CampaignService) transition(c *model.Campaign, to model.CampaignState, action string) error {
	if !transitions[c.State][to] {
		return appErrors.NewInvalidTransition(c.ID, string(c.State), action)
	}
	c.State = to
	return nil
}

// CreateCampaign drafts (or accepts) content and parks the campaign for
// approval. A denied token returns before anything is stored or generated.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*CampaignSnapshot, error) {
	cohort, err := validateCreate(in)
	if err != nil {
		return nil, err
	}

	if in.Template == nil {
		if err := s.Gate.Require(in.Token, consent.ScopeContentGeneration, "create_campaign"); err != nil {
			s.logger().Warn("create denied", zap.String("user_id", in.UserID), zap.Error(err))
			return nil, err
		}
	}

	id := CampaignID(in.UserID, in.IdempotencyKey)
	log := s.logger().With(zap.String("campaign_id", id), zap.String("user_id", in.UserID))

	unlock, err := s.Store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if in.IdempotencyKey != "" {
		existing, err := s.Store.Get(ctx, id)
		if err == nil {
			log.Info("create replayed for idempotency key", zap.String("state", string(existing.State)))
			return s.snapshot(existing), nil
		}
		var nf *appErrors.ErrCampaignNotFound
		if !errors.As(err, &nf) {
			return nil, err
		}
	}

	c := &model.Campaign{
		ID:             id,
		IdempotencyKey: in.IdempotencyKey,
		Intent:         strings.TrimSpace(in.Intent),
		CreatorUserID:  in.UserID,
		Scope:          string(consent.ScopeContentGeneration),
		Cohort:         cohort,
		CreatedAt:      s.now(),
	}

	if in.Template != nil {
		c.State = model.StateAwaitingApproval
		c.SubjectTemplate = in.Template.Subject
		c.BodyTemplate = in.Template.Body
		if err := s.Store.Insert(ctx, c); err != nil {
			return nil, err
		}
		log.Info("campaign created from pre-approved template", zap.Int("recipients", len(cohort)))
		return s.snapshot(c), nil
	}

	c.State = model.StateDrafting
	if err := s.Store.Insert(ctx, c); err != nil {
		return nil, err
	}

	draft, err := s.Drafter.Draft(ctx, DraftRequest{Mode: DraftCreate, Intent: c.Intent})
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Caller went away mid-draft: back to the pre-call state.
			if rmErr := s.Store.Remove(persistCtx, id); rmErr != nil {
				log.Error("failed to discard provisional campaign", zap.Error(rmErr))
			}
			log.Info("create cancelled while drafting", zap.Error(err))
			return nil, err
		}
		s.fail(persistCtx, c, model.FailureDrafting, err)
		return nil, err
	}

	c.SubjectTemplate = draft.Subject
	c.BodyTemplate = draft.Body
	if err := s.transition(c, model.StateAwaitingApproval, "draft"); err != nil {
		return nil, err
	}
	if err := s.Store.Save(persistCtx, c); err != nil {
		return nil, err
	}

	log.Info("campaign drafted", zap.Int("recipients", len(cohort)))
	return s.snapshot(c), nil
}

// Decide applies a human decision to a campaign awaiting approval.
func (s *CampaignService) Decide(ctx context.Context, userID, token, campaignID string, action Action, feedback string) (*CampaignSnapshot, error) {
	action, err := ParseAction(string(action))
	if err != nil {
		return nil, err
	}
	if action == ActionModify && strings.TrimSpace(feedback) == "" {
		return nil, appErrors.NewValidation("feedback", "modify requires feedback")
	}

	c, err := s.Store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.Gate.Require(token, consent.Scope(c.Scope), "decide:"+string(action)); err != nil {
		s.logger().Warn("decision denied", zap.String("campaign_id", campaignID), zap.String("action", string(action)), zap.Error(err))
		return nil, err
	}

	unlock, err := s.Store.Lock(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload: another decision may have landed while we waited.
	c, err = s.Store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.State != model.StateAwaitingApproval {
		return nil, appErrors.NewInvalidTransition(c.ID, string(c.State), string(action))
	}

	log := s.logger().With(zap.String("campaign_id", c.ID), zap.String("user_id", userID), zap.String("action", string(action)))

	switch action {
	case ActionApprove, ActionReject:
		to := model.StateApproved
		if action == ActionReject {
			to = model.StateRejected
		}
		if err := s.transition(c, to, string(action)); err != nil {
			return nil, err
		}
		if err := s.Store.Save(ctx, c); err != nil {
			return nil, err
		}
		log.Info("decision applied", zap.String("state", string(c.State)))
		return s.snapshot(c), nil
	}

	return s.redraft(ctx, log, c, action, feedback)
}

func (s *CampaignService) redraft(ctx context.Context, log *zap.Logger, c *model.Campaign, action Action, feedback string) (*CampaignSnapshot, error) {
	req := DraftRequest{
		Mode:     DraftRegenerate,
		Intent:   c.Intent,
		Revision: c.Revision + 1,
	}
	if action == ActionModify {
		req.Mode = DraftModify
		req.Feedback = strings.TrimSpace(feedback)
		req.Previous = &Draft{Subject: c.SubjectTemplate, Body: c.BodyTemplate}
	}

	draft, err := s.Drafter.Draft(ctx, req)
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("redraft cancelled, campaign unchanged", zap.Error(err))
			return nil, err
		}
		s.fail(persistCtx, c, model.FailureDrafting, err)
		return nil, err
	}

	if err := s.transition(c, model.StateAwaitingApproval, string(action)); err != nil {
		return nil, err
	}
	c.SubjectTemplate = draft.Subject
	c.BodyTemplate = draft.Body
	c.Revision++
	if err := s.Store.Save(persistCtx, c); err != nil {
		return nil, err
	}

	log.Info("draft revised", zap.Int("revision", c.Revision))
	return s.snapshot(c), nil
}

// fail moves c to failed and persists it. Persist errors are logged; the
// triggering error is what the caller sees.
func (s *CampaignService) fail(ctx context.Context, c *model.Campaign, kind string, cause error) {
	if err := s.transition(c, model.StateFailed, "fail"); err != nil {
		s.logger().Error("cannot fail campaign", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	c.FailureKind = kind
	c.FailureReason = cause.Error()
	if err := s.Store.Save(ctx, c); err != nil {
		s.logger().Error("failed to persist failed campaign", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}
	s.logger().Warn("campaign failed",
		zap.String("campaign_id", c.ID), zap.String("kind", kind), zap.Error(cause))
}

// Dispatch sends the approved draft to every recipient. Recipients that
// already have an outcome are skipped, so an interrupted dispatch can be
// resumed without sending twice.
func (s *CampaignService) Dispatch(ctx context.Context, userID, token, campaignID string) (*DispatchReport, error) {
	if _, err := s.Store.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	if err := s.Gate.Require(token, consent.ScopeEmailSend, "dispatch"); err != nil {
		s.logger().Warn("dispatch denied", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}

	unlock, err := s.Store.Lock(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.Store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	log := s.logger().With(zap.String("campaign_id", c.ID), zap.String("user_id", userID))

	switch c.State {
	case model.StateApproved:
		if len(c.Cohort) == 0 {
			return nil, appErrors.NewValidation("cohort", "campaign has no recipients")
		}
		if err := s.transition(c, model.StateDispatching, "dispatch"); err != nil {
			return nil, err
		}
		if err := s.Store.Save(ctx, c); err != nil {
			return nil, err
		}
	case model.StateDispatching:
		log.Info("resuming interrupted dispatch", zap.Int("already_recorded", len(c.SendResults)))
	default:
		return nil, appErrors.NewInvalidTransition(c.ID, string(c.State), "dispatch")
	}

	persistCtx := context.WithoutCancel(ctx)
	report := &DispatchReport{CampaignID: c.ID, Outcomes: []RecipientOutcome{}}

	for _, ct := range c.Cohort {
		email := ct.NormalizedEmail()
		if prev, ok := c.SendResults[email]; ok {
			report.add(prev)
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warn("dispatch interrupted, campaign left resumable", zap.Int("processed", len(report.Outcomes)))
			return nil, err
		}

		res, ok := s.sendOne(ctx, c, ct)
		if !ok {
			log.Warn("dispatch interrupted mid-send, campaign left resumable", zap.String("recipient", email))
			return nil, ctx.Err()
		}
		if _, err := s.Store.RecordSendResult(persistCtx, res); err != nil {
			log.Error("failed to record send result", zap.String("recipient", email), zap.Error(err))
			return nil, fmt.Errorf("record send result for %s: %w", email, err)
		}
		report.add(res)
	}

	final := model.StateCompleted
	if report.Sent == 0 {
		final = model.StateFailed
		c.FailureKind = model.FailureDispatch
		c.FailureReason = fmt.Sprintf("no recipient accepted the message (%d rejected)", report.Rejected)
	}
	if err := s.transition(c, final, "complete_dispatch"); err != nil {
		return nil, err
	}
	if err := s.Store.Save(persistCtx, c); err != nil {
		return nil, err
	}
	report.State = c.State

	log.Info("dispatch finished",
		zap.String("state", string(c.State)), zap.Int("sent", report.Sent), zap.Int("rejected", report.Rejected))
	return report, nil
}

// sendOne renders and submits one message. ok is false only when the caller
// cancelled; nothing is recorded in that case.
func (s *CampaignService) sendOne(ctx context.Context, c *model.Campaign, ct model.Contact) (model.SendResult, bool) {
	msg := RenderMessage(c.SubjectTemplate, c.BodyTemplate, ct)

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout())
	defer cancel()

	receipt, err := s.Transport.Send(sendCtx, strings.TrimSpace(ct.Email), msg.Subject, msg.Body)

	res := model.SendResult{
		CampaignID: c.ID,
		Email:      ct.NormalizedEmail(),
		RecordedAt: s.now(),
	}
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return res, false
		}
		res.Status = model.SendRejected
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = appErrors.NewProviderError(appErrors.ProviderTimeout,
				fmt.Sprintf("no response within %s", s.sendTimeout()), err)
		}
		res.Reason = err.Error()
	case !receipt.Accepted:
		res.Status = model.SendRejected
		res.Reason = receipt.Reason
		if res.Reason == "" {
			res.Reason = "rejected by transport"
		}
	default:
		res.Status = model.SendAccepted
		res.MessageID = receipt.MessageID
	}
	return res, true
}

// GetCampaign is a pure read; it never triggers drafting.
func (s *CampaignService) GetCampaign(ctx context.Context, campaignID string) (*CampaignSnapshot, error) {
	c, err := s.Store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(c), nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, state string) ([]CampaignSnapshot, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Store.List(ctx, offset, pageSize, state)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]CampaignSnapshot, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *s.snapshot(c)
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// RenderPreview personalizes the current draft for one cohort member
// without side effects. overrideBody replaces the body template when set.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, email string, overrideBody *string) (model.RenderedMessage, error) {
	c, err := s.Store.Get(ctx, campaignID)
	if err != nil {
		return model.RenderedMessage{}, err
	}

	target := strings.ToLower(strings.TrimSpace(email))
	var contact *model.Contact
	for i := range c.Cohort {
		if c.Cohort[i].NormalizedEmail() == target {
			contact = &c.Cohort[i]
			break
		}
	}
	if contact == nil {
		return model.RenderedMessage{}, appErrors.NewValidation("email", "recipient is not part of the campaign cohort")
	}

	body := c.BodyTemplate
	if overrideBody != nil && strings.TrimSpace(*overrideBody) != "" {
		body = *overrideBody
	}
	if strings.TrimSpace(body) == "" {
		return model.RenderedMessage{}, appErrors.NewValidation("template", "template cannot be empty")
	}

	return RenderMessage(c.SubjectTemplate, body, *contact), nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	c, err := s.Store.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	snap := s.snapshot(c)
	stats := map[string]int{
		"total":        len(c.Cohort),
		"pending":      0,
		"accepted":     0,
		"rejected":     0,
		"personalized": snap.Personalized,
		"standard":     snap.Standard,
	}
	for _, ct := range c.Cohort {
		res, ok := c.SendResults[ct.NormalizedEmail()]
		switch {
		case !ok:
			stats["pending"]++
		case res.Status == model.SendAccepted:
			stats["accepted"]++
		default:
			stats["rejected"]++
		}
	}

	return &CampaignDetails{CampaignSnapshot: *snap, Stats: stats}, nil
}

func (s *CampaignService) snapshot(c *model.Campaign) *CampaignSnapshot {
	personalized, standard := Classify(c.Cohort, s.DescriptiveKey).Counts()
	snap := &CampaignSnapshot{
		ID:            c.ID,
		State:         c.State,
		Revision:      c.Revision,
		Subject:       c.SubjectTemplate,
		Body:          c.BodyTemplate,
		Intent:        c.Intent,
		CreatorUserID: c.CreatorUserID,
		CreatedAt:     c.CreatedAt,
		Recipients:    len(c.Cohort),
		Personalized:  personalized,
		Standard:      standard,
	}
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		snap.UpdatedAt = &t
	}
	if c.State == model.StateFailed {
		snap.Failure = &FailureInfo{Kind: c.FailureKind, Reason: c.FailureReason}
	}
	return snap
}

func validateCreate(in CreateCampaignInput) ([]model.Contact, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, appErrors.NewValidation("user_id", "required")
	}
	if in.Template != nil {
		if strings.TrimSpace(in.Template.Subject) == "" || strings.TrimSpace(in.Template.Body) == "" {
			return nil, appErrors.NewValidation("template", "subject and body are required")
		}
	} else if strings.TrimSpace(in.Intent) == "" {
		return nil, appErrors.NewValidation("intent", "required when no template is supplied")
	}

	cohort := make([]model.Contact, 0, len(in.Cohort))
	seen := make(map[string]bool, len(in.Cohort))
	for i, ct := range in.Cohort {
		email := ct.NormalizedEmail()
		if email == "" {
			return nil, appErrors.NewValidation("cohort", fmt.Sprintf("contact %d has no email", i))
		}
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, appErrors.NewValidation("cohort", fmt.Sprintf("contact %d has an invalid email %q", i, ct.Email))
		}
		if seen[email] {
			return nil, appErrors.NewValidation("cohort", fmt.Sprintf("duplicate email %q", ct.Email))
		}
		seen[email] = true

		clean := ct.Clone()
		clean.Email = strings.TrimSpace(ct.Email)
		cohort = append(cohort, clean)
	}
	return cohort, nil
}
