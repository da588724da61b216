package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto its HTTP status and a stable error code. Quota
// failures carry Retry-After when the provider gave one.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := appErrors.HTTPStatus(err)

	var pe *appErrors.ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(pe.RetryAfter.Seconds()))))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		msg = "internal error"
	}
	WriteJSON(w, status, errorBody{Error: appErrors.Code(err), Message: msg})
}
