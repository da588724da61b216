// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
	"github.com/unclebandit/campaign-consent/internal/handler"
	"github.com/unclebandit/campaign-consent/internal/model"
	"github.com/unclebandit/campaign-consent/internal/service"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderConsentToken   = "X-Consent-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Logger          *zap.Logger
}

// caller reads the acting user and consent token. The token comes from
// X-Consent-Token or, failing that, a bearer Authorization header.
func caller(r *http.Request) (userID, token string) {
	userID = strings.TrimSpace(r.Header.Get(HeaderUserID))
	token = strings.TrimSpace(r.Header.Get(HeaderConsentToken))
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return userID, token
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("body", "invalid JSON: "+err.Error())
	}
	return nil
}

type contactBody struct {
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intent         string            `json:"intent"`
		Template       *service.Template `json:"template,omitempty"`
		Cohort         []contactBody     `json:"cohort"`
		IdempotencyKey string            `json:"idempotency_key,omitempty"`
	}
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	userID, token := caller(r)
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(body.IdempotencyKey)
	}

	cohort := make([]model.Contact, len(body.Cohort))
	for i, ct := range body.Cohort {
		cohort[i] = model.Contact{Name: ct.Name, Email: ct.Email, Attributes: ct.Attributes}
	}

	snap, err := c.CampaignService.CreateCampaign(r.Context(), service.CreateCampaignInput{
		UserID:         userID,
		Token:          token,
		Intent:         body.Intent,
		Template:       body.Template,
		Cohort:         cohort,
		IdempotencyKey: key,
	})
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, snap)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	state := r.URL.Query().Get("state")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, state)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Action   string `json:"action"`
		Feedback string `json:"feedback,omitempty"`
	}
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	action, err := service.ParseAction(body.Action)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	userID, token := caller(r)
	snap, err := c.CampaignService.Decide(r.Context(), userID, token, id, action, body.Feedback)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, snap)
}

func (c *CampaignController) Dispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID, token := caller(r)

	report, err := c.CampaignService.Dispatch(r.Context(), userID, token, id)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, report)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Email            string  `json:"email"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), id, body.Email, body.OverrideTemplate)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"email":            body.Email,
	})
}
