package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-consent/internal/consent"
	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
	"github.com/unclebandit/campaign-consent/internal/model"
	"github.com/unclebandit/campaign-consent/internal/repository"
	"github.com/unclebandit/campaign-consent/internal/store"
)

const draftReply = "Subject: Hello {name}\n\nHi {name}, we thought of you as a {description}."

var testSecret = []byte("engine-test-secret")

// fakeTransport accepts everything except addresses listed in reject or
// block. Blocked sends wait for ctx.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []model.OutboundEmail
	reject map[string]string
	block  map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, to, subject, body string) (model.SendReceipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, model.OutboundEmail{To: to, Subject: subject, Body: body})
	reason, rejected := f.reject[to]
	blocked := f.block[to]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return model.SendReceipt{}, ctx.Err()
	}
	if rejected {
		return model.SendReceipt{Accepted: false, Reason: reason}, nil
	}
	return model.SendReceipt{Accepted: true, MessageID: "msg-" + to}, nil
}

func (f *fakeTransport) Sent() []model.OutboundEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OutboundEmail{}, f.sent...)
}

type harness struct {
	svc       *CampaignService
	repo      *repository.MemoryCampaignRepository
	provider  *fakeProvider
	transport *fakeTransport
}

func newHarness(t *testing.T, responses ...providerResponse) *harness {
	t.Helper()
	if len(responses) == 0 {
		responses = []providerResponse{reply(draftReply)}
	}
	repo := repository.NewMemoryCampaignRepository()
	p := &fakeProvider{responses: responses}
	tr := &fakeTransport{reject: map[string]string{}, block: map[string]bool{}}

	svc := &CampaignService{
		Store:       store.New(repo),
		Gate:        consent.NewGate(consent.NewJWTVerifier(testSecret)),
		Drafter:     NewContentDrafter(p, testDrafterConfig(), nil),
		Transport:   tr,
		SendTimeout: time.Second,
	}
	return &harness{svc: svc, repo: repo, provider: p, transport: tr}
}

func token(t *testing.T, scope consent.Scope) string {
	t.Helper()
	tok, err := consent.IssueToken("u1", scope, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func testCohort() []model.Contact {
	return []model.Contact{
		{Name: "Jane", Email: "jane@example.com", Attributes: map[string]string{"description": "baker"}},
		{Name: "Omar", Email: "omar@example.com"},
		{Name: "Lee", Email: "lee@example.com", Attributes: map[string]string{"description": "  "}},
	}
}

func (h *harness) create(t *testing.T) *CampaignSnapshot {
	t.Helper()
	snap, err := h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
		UserID: "u1",
		Token:  token(t, consent.ScopeContentGeneration),
		Intent: "spring bakery promotion",
		Cohort: testCohort(),
	})
	require.NoError(t, err)
	return snap
}

func (h *harness) approved(t *testing.T) *CampaignSnapshot {
	t.Helper()
	snap := h.create(t)
	_, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID, ActionApprove, "")
	require.NoError(t, err)
	return snap
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	_, total, err := h.repo.ListCampaigns(context.Background(), 0, 100, "")
	require.NoError(t, err)
	return total
}

func TestCreateCampaign_DeniedTokenNeverReachesProvider(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"missing", "", string(consent.ReasonMissing)},
		{"wrong scope", token(t, consent.ScopeEmailSend), string(consent.ReasonWrongScope)},
		{"garbage", "not-a-token", string(consent.ReasonInvalidSignature)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
				UserID: "u1", Token: tt.token, Intent: "promo", Cohort: testCohort(),
			})

			var denied *appErrors.PermissionDeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, tt.reason, denied.Reason)
			assert.Equal(t, 0, h.provider.Calls())
			assert.Equal(t, 0, h.count(t))
		})
	}
}

func TestCreateCampaign_Drafted(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)

	assert.Equal(t, model.StateAwaitingApproval, snap.State)
	assert.Equal(t, 0, snap.Revision)
	assert.Equal(t, "Hello {name}", snap.Subject)
	assert.Equal(t, 3, snap.Recipients)
	assert.Equal(t, 1, snap.Personalized)
	assert.Equal(t, 2, snap.Standard)
	assert.Nil(t, snap.Failure)
	assert.Equal(t, 1, h.provider.Calls())
}

func TestCreateCampaign_PreApprovedTemplate(t *testing.T) {
	h := newHarness(t)
	snap, err := h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
		UserID:   "u1",
		Template: &Template{Subject: "Hi {name}", Body: "Body"},
		Cohort:   testCohort(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingApproval, snap.State)
	assert.Equal(t, "Body", snap.Body)
	assert.Equal(t, 0, h.provider.Calls())
}

func TestCreateCampaign_Validation(t *testing.T) {
	tok := token(t, consent.ScopeContentGeneration)
	tests := []struct {
		name  string
		in    CreateCampaignInput
		field string
	}{
		{"no user", CreateCampaignInput{Token: tok, Intent: "x"}, "user_id"},
		{"no intent", CreateCampaignInput{UserID: "u1", Token: tok}, "intent"},
		{"empty template", CreateCampaignInput{UserID: "u1", Template: &Template{Subject: "s"}}, "template"},
		{"missing email", CreateCampaignInput{UserID: "u1", Token: tok, Intent: "x",
			Cohort: []model.Contact{{Name: "Jane"}}}, "cohort"},
		{"bad email", CreateCampaignInput{UserID: "u1", Token: tok, Intent: "x",
			Cohort: []model.Contact{{Email: "not an address"}}}, "cohort"},
		{"duplicate email", CreateCampaignInput{UserID: "u1", Token: tok, Intent: "x",
			Cohort: []model.Contact{{Email: "a@example.com"}, {Email: " A@Example.com "}}}, "cohort"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.CreateCampaign(context.Background(), tt.in)

			var ve *appErrors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, 0, h.provider.Calls())
		})
	}
}

func TestCreateCampaign_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t)
	in := CreateCampaignInput{
		UserID: "u1", Token: token(t, consent.ScopeContentGeneration),
		Intent: "promo", Cohort: testCohort(), IdempotencyKey: "req-42",
	}

	first, err := h.svc.CreateCampaign(context.Background(), in)
	require.NoError(t, err)
	second, err := h.svc.CreateCampaign(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, 1, h.count(t))

	in.UserID = "u2"
	third, err := h.svc.CreateCampaign(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateCampaign_QuotaFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, failWith(appErrors.NewQuotaExceeded("daily limit", 0)))
	tok := token(t, consent.ScopeContentGeneration)

	_, err := h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
		UserID: "u1", Token: tok, Intent: "promo", Cohort: testCohort(),
	})
	require.True(t, appErrors.IsQuotaExceeded(err))
	assert.Equal(t, 1, h.provider.Calls())

	failed, _, err := h.svc.ListCampaigns(context.Background(), 1, 10, string(model.StateFailed))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Failure)
	assert.Equal(t, model.FailureDrafting, failed[0].Failure.Kind)

	// A second request inside the cooldown is refused without a call.
	_, err = h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
		UserID: "u1", Token: tok, Intent: "promo again", Cohort: testCohort(),
	})
	require.True(t, appErrors.IsQuotaExceeded(err))
	assert.Equal(t, 1, h.provider.Calls())
}

func TestCreateCampaign_CancelledWhileDraftingLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.CreateCampaign(ctx, CreateCampaignInput{
			UserID: "u1", Token: token(t, consent.ScopeContentGeneration), Intent: "promo", Cohort: testCohort(),
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return h.provider.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.count(t))
}

func TestDecide_ApproveAndReject(t *testing.T) {
	for _, tt := range []struct {
		action Action
		want   model.CampaignState
	}{
		{ActionApprove, model.StateApproved},
		{ActionReject, model.StateRejected},
	} {
		t.Run(string(tt.action), func(t *testing.T) {
			h := newHarness(t)
			snap := h.create(t)

			out, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID, tt.action, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.State)
			assert.Equal(t, 1, h.provider.Calls())
		})
	}
}

func TestDecide_InvalidTransitionLeavesCampaignUntouched(t *testing.T) {
	h := newHarness(t)
	snap := h.approved(t)
	tok := token(t, consent.ScopeContentGeneration)

	before, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)

	for _, a := range []Action{ActionApprove, ActionReject, ActionRegenerate} {
		_, err := h.svc.Decide(context.Background(), "u1", tok, snap.ID, a, "")
		var it *appErrors.InvalidTransitionError
		require.True(t, errors.As(err, &it), "action %s", a)
		assert.Equal(t, string(model.StateApproved), it.From)
	}

	after, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, h.provider.Calls())
}

func TestDecide_DeniedTokenDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)

	_, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID, ActionApprove, "")
	var denied *appErrors.PermissionDeniedError
	require.True(t, errors.As(err, &denied))

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingApproval, got.State)
}

func TestDecide_UnknownCampaign(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), "nope", ActionApprove, "")
	var nf *appErrors.ErrCampaignNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestDecide_ModifyRequiresFeedback(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)

	_, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID, ActionModify, "  ")
	var ve *appErrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, h.provider.Calls())
}

func TestDecide_ModifyAndRegenerateBumpRevision(t *testing.T) {
	h := newHarness(t,
		reply(draftReply),
		reply("Subject: Shorter\n\nHi {name}."),
		reply("Subject: Fresh take\n\nHello again {name}."),
	)
	snap := h.create(t)
	tok := token(t, consent.ScopeContentGeneration)

	modified, err := h.svc.Decide(context.Background(), "u1", tok, snap.ID, ActionModify, "make it shorter")
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingApproval, modified.State)
	assert.Equal(t, 1, modified.Revision)
	assert.Equal(t, "Shorter", modified.Subject)
	assert.Contains(t, h.provider.prompts[1], "make it shorter")
	assert.Contains(t, h.provider.prompts[1], "Hello {name}")

	regenerated, err := h.svc.Decide(context.Background(), "u1", tok, snap.ID, ActionRegenerate, "")
	require.NoError(t, err)
	assert.Equal(t, 2, regenerated.Revision)
	assert.Equal(t, "Fresh take", regenerated.Subject)
	assert.Equal(t, 3, h.provider.Calls())
}

func TestDecide_RegenerateProviderFailureFailsCampaign(t *testing.T) {
	h := newHarness(t, reply(draftReply), failWith(errors.New("upstream 500")))
	snap := h.create(t)

	_, err := h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID, ActionRegenerate, "")
	var pe *appErrors.ProviderError
	require.True(t, errors.As(err, &pe))

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	require.NotNil(t, got.Failure)
	assert.Equal(t, model.FailureDrafting, got.Failure.Kind)
}

func TestDecide_RegenerateCancelledLeavesCampaignUnchanged(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)
	h.provider.mu.Lock()
	h.provider.block = make(chan struct{})
	h.provider.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.Decide(ctx, "u1", token(t, consent.ScopeContentGeneration), snap.ID, ActionRegenerate, "")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return h.provider.Calls() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingApproval, got.State)
	assert.Equal(t, 0, got.Revision)
	assert.Equal(t, snap.Subject, got.Subject)
}

func TestDecide_ConcurrentDecisionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)
	tok := token(t, consent.ScopeContentGeneration)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []Action
		conflicts int
	)
	for i := 0; i < n; i++ {
		action := ActionApprove
		if i%2 == 1 {
			action = ActionReject
		}
		wg.Add(1)
		go func(a Action) {
			defer wg.Done()
			_, err := h.svc.Decide(context.Background(), "u1", tok, snap.ID, a, "")
			mu.Lock()
			defer mu.Unlock()
			var it *appErrors.InvalidTransitionError
			switch {
			case err == nil:
				winners = append(winners, a)
			case errors.As(err, &it):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(action)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	want := model.StateApproved
	if winners[0] == ActionReject {
		want = model.StateRejected
	}
	assert.Equal(t, want, got.State)
}

func TestDispatch_PartialRejectionCompletes(t *testing.T) {
	h := newHarness(t)
	h.transport.reject["lee@example.com"] = "mailbox unavailable"
	snap := h.approved(t)

	report, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, report.State)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Rejected)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, "mailbox unavailable", report.Outcomes[2].Reason)

	sent := h.transport.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "Hello Jane", sent[0].Subject)
	assert.Equal(t, "Hi Jane, we thought of you as a baker.", sent[0].Body)
	assert.Equal(t, "Hi Omar, we thought of you as a {description}.", sent[1].Body)

	details, err := h.svc.GetCampaignDetailsWithStats(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, details.Stats["accepted"])
	assert.Equal(t, 1, details.Stats["rejected"])
	assert.Equal(t, 0, details.Stats["pending"])
}

func TestDispatch_AllRejectedFails(t *testing.T) {
	h := newHarness(t)
	for _, c := range testCohort() {
		h.transport.reject[c.Email] = "blocked"
	}
	snap := h.approved(t)

	report, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, report.State)
	assert.Equal(t, 3, report.Rejected)

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Failure)
	assert.Equal(t, model.FailureDispatch, got.Failure.Kind)
}

func TestDispatch_RequiresApprovedState(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)

	_, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	var it *appErrors.InvalidTransitionError
	require.True(t, errors.As(err, &it))
	assert.Empty(t, h.transport.Sent())
}

func TestDispatch_RequiresEmailSendScope(t *testing.T) {
	h := newHarness(t)
	snap := h.approved(t)

	_, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID)
	var denied *appErrors.PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Empty(t, h.transport.Sent())

	got, err := h.svc.GetCampaign(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, got.State)
}

func TestDispatch_EmptyCohort(t *testing.T) {
	h := newHarness(t)
	snap, err := h.svc.CreateCampaign(context.Background(), CreateCampaignInput{
		UserID: "u1", Template: &Template{Subject: "s", Body: "b"},
	})
	require.NoError(t, err)
	_, err = h.svc.Decide(context.Background(), "u1", token(t, consent.ScopeContentGeneration), snap.ID, ActionApprove, "")
	require.NoError(t, err)

	_, err = h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	var ve *appErrors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestDispatch_SecondDispatchIsRejected(t *testing.T) {
	h := newHarness(t)
	snap := h.approved(t)
	tok := token(t, consent.ScopeEmailSend)

	_, err := h.svc.Dispatch(context.Background(), "u1", tok, snap.ID)
	require.NoError(t, err)

	_, err = h.svc.Dispatch(context.Background(), "u1", tok, snap.ID)
	var it *appErrors.InvalidTransitionError
	require.True(t, errors.As(err, &it))
	assert.Len(t, h.transport.Sent(), 3)
}

func TestDispatch_ResumesWithoutResending(t *testing.T) {
	h := newHarness(t)
	snap := h.approved(t)
	ctx := context.Background()

	// Simulate a dispatch that stopped after the first recipient.
	c, err := h.repo.GetByID(ctx, snap.ID)
	require.NoError(t, err)
	c.State = model.StateDispatching
	require.NoError(t, h.repo.Update(ctx, c))
	_, err = h.repo.RecordSendResult(ctx, model.SendResult{
		CampaignID: snap.ID, Email: "jane@example.com", Status: model.SendAccepted, MessageID: "earlier",
	})
	require.NoError(t, err)

	report, err := h.svc.Dispatch(ctx, "u1", token(t, consent.ScopeEmailSend), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, report.State)
	assert.Equal(t, 3, report.Sent)
	assert.Equal(t, "earlier", report.Outcomes[0].MessageID)

	sent := h.transport.Sent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.NotEqual(t, "jane@example.com", m.To)
	}
}

func TestDispatch_TransportTimeoutRecordedAsRejection(t *testing.T) {
	h := newHarness(t)
	h.svc.SendTimeout = 20 * time.Millisecond
	h.transport.block["omar@example.com"] = true
	snap := h.approved(t)

	report, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, report.State)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, model.SendRejected, report.Outcomes[1].Status)
	assert.Contains(t, report.Outcomes[1].Reason, "timeout")
}

func TestDispatch_CallerCancellationLeavesResumableState(t *testing.T) {
	h := newHarness(t)
	h.svc.SendTimeout = time.Minute
	h.transport.block["omar@example.com"] = true
	snap := h.approved(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.Dispatch(ctx, "u1", token(t, consent.ScopeEmailSend), snap.ID)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(h.transport.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	c, err := h.repo.GetByID(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDispatching, c.State)
	assert.Len(t, c.SendResults, 1)

	// Resume once the transport recovers.
	h.transport.mu.Lock()
	h.transport.block = map[string]bool{}
	h.transport.mu.Unlock()

	report, err := h.svc.Dispatch(context.Background(), "u1", token(t, consent.ScopeEmailSend), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, report.State)
	assert.Equal(t, 3, report.Sent)
}

func TestGetCampaign_IsPureRead(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)

	for i := 0; i < 3; i++ {
		_, err := h.svc.GetCampaign(context.Background(), snap.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.provider.Calls())

	_, err := h.svc.GetCampaign(context.Background(), "missing")
	var nf *appErrors.ErrCampaignNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestListCampaigns_Pagination(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.create(t)
	}

	page, meta, err := h.svc.ListCampaigns(context.Background(), 2, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 2, meta["page"])
	assert.Equal(t, 5, meta["total_count"])
	assert.Equal(t, 3, meta["total_pages"])

	_, meta, err = h.svc.ListCampaigns(context.Background(), 0, 500, "")
	require.NoError(t, err)
	assert.Equal(t, 1, meta["page"])
	assert.Equal(t, 100, meta["page_size"])
}

func TestRenderPreview(t *testing.T) {
	h := newHarness(t)
	snap := h.create(t)
	ctx := context.Background()

	msg, err := h.svc.RenderPreview(ctx, snap.ID, "JANE@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello Jane", msg.Subject)
	assert.Equal(t, "Hi Jane, we thought of you as a baker.", msg.Body)

	override := "Short note for {name}"
	msg, err = h.svc.RenderPreview(ctx, snap.ID, "omar@example.com", &override)
	require.NoError(t, err)
	assert.Equal(t, "Short note for Omar", msg.Body)

	_, err = h.svc.RenderPreview(ctx, snap.ID, "stranger@example.com", nil)
	var ve *appErrors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Approve ")
	require.NoError(t, err)
	assert.Equal(t, ActionApprove, a)

	_, err = ParseAction("publish")
	var ve *appErrors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

// Any sequence of decisions keeps revision monotonic and never leaves a
// terminal state.
func TestDecide_SequenceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	actionGen := gen.OneConstOf(ActionApprove, ActionReject, ActionModify, ActionRegenerate)

	properties.Property("revision never decreases and terminal states stick", prop.ForAll(
		func(actions []Action) bool {
			h := newHarness(t)
			snap := h.create(t)
			tok := token(t, consent.ScopeContentGeneration)

			prevRevision := 0
			var terminal model.CampaignState
			for _, a := range actions {
				out, err := h.svc.Decide(context.Background(), "u1", tok, snap.ID, a, "feedback")
				got, getErr := h.svc.GetCampaign(context.Background(), snap.ID)
				if getErr != nil {
					return false
				}
				if got.Revision < prevRevision {
					return false
				}
				if terminal != "" && (err == nil || got.State != terminal) {
					return false
				}
				if err == nil && out.Revision != got.Revision {
					return false
				}
				if got.State.IsTerminal() {
					terminal = got.State
				}
				prevRevision = got.Revision
			}
			return true
		},
		gen.SliceOf(actionGen),
	))

	properties.TestingRun(t)
}

func TestCampaignID_DeterministicForKey(t *testing.T) {
	assert.Equal(t, CampaignID("u1", "k"), CampaignID("u1", "k"))
	assert.NotEqual(t, CampaignID("u1", "k"), CampaignID("u2", "k"))
	assert.NotEqual(t, CampaignID("u1", ""), CampaignID("u1", ""))
	_, err := uuid.Parse(CampaignID("u1", "k"))
	assert.NoError(t, err)
}
