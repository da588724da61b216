// internal/handler/campaign_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-consent/internal/service"
)

// CampaignHandler serves read-only campaign views
type CampaignHandler struct {
	Service *service.CampaignService
	Logger  *zap.Logger
}

func NewCampaignHandler(svc *service.CampaignService, logger *zap.Logger) *CampaignHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignHandler{Service: svc, Logger: logger}
}

// GetCampaignHandlerWithStats returns the campaign snapshot plus per-recipient
// delivery counts. It never triggers drafting.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}

	h.Logger.Debug("campaign details served", zap.String("campaign_id", id), zap.String("state", string(details.State)))
	WriteJSON(w, http.StatusOK, details)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
