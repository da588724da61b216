package appErrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"not found", NewCampaignNotFound("c1"), http.StatusNotFound, "NOT_FOUND"},
		{"denied", NewPermissionDenied("dispatch", "email-send", "expired"), http.StatusForbidden, "PERMISSION_DENIED"},
		{"transition", NewInvalidTransition("c1", "approved", "approve"), http.StatusConflict, "INVALID_TRANSITION"},
		{"quota", NewQuotaExceeded("rate limited", 0), http.StatusTooManyRequests, "PROVIDER_ERROR"},
		{"timeout", NewProviderError(ProviderTimeout, "deadline", nil), http.StatusGatewayTimeout, "PROVIDER_ERROR"},
		{"provider", NewProviderError(ProviderFailure, "boom", nil), http.StatusBadGateway, "PROVIDER_ERROR"},
		{"validation", NewValidation("cohort", "empty"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"wrapped", fmt.Errorf("ctx: %w", NewCampaignNotFound("c2")), http.StatusNotFound, "NOT_FOUND"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
			assert.Equal(t, tc.code, Code(tc.err))
		})
	}
}

func TestIsQuotaExceeded(t *testing.T) {
	assert.True(t, IsQuotaExceeded(fmt.Errorf("draft: %w", NewQuotaExceeded("429", 0))))
	assert.False(t, IsQuotaExceeded(NewProviderError(ProviderFailure, "500", nil)))
	assert.False(t, IsQuotaExceeded(nil))
}
