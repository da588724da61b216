// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCampaignNotFound is returned for an unknown campaign identifier.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// PermissionDeniedError carries the consent gate's denial reason verbatim.
type PermissionDeniedError struct {
	Action string
	Scope  string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s: scope %s: %s", e.Action, e.Scope, e.Reason)
}

func NewPermissionDenied(action, scope, reason string) error {
	return &PermissionDeniedError{Action: action, Scope: scope, Reason: reason}
}

// InvalidTransitionError means the campaign was not in a state that allows
// the requested action. Callers should re-fetch the campaign.
type InvalidTransitionError struct {
	CampaignID string
	From       string
	Action     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %s: cannot %s from state %s", e.CampaignID, e.Action, e.From)
}

func NewInvalidTransition(id, from, action string) error {
	return &InvalidTransitionError{CampaignID: id, From: from, Action: action}
}

type ProviderErrorKind string

const (
	ProviderQuotaExceeded ProviderErrorKind = "quota_exceeded"
	ProviderFailure       ProviderErrorKind = "provider_failure"
	ProviderTimeout       ProviderErrorKind = "timeout"
)

// ProviderError is an external provider failure. It is never retried
// automatically.
type ProviderError struct {
	Kind       ProviderErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(kind ProviderErrorKind, msg string, err error) error {
	return &ProviderError{Kind: kind, Message: msg, Err: err}
}

func NewQuotaExceeded(msg string, retryAfter time.Duration) error {
	return &ProviderError{Kind: ProviderQuotaExceeded, Message: msg, RetryAfter: retryAfter}
}

// IsQuotaExceeded reports whether err is a provider quota failure.
func IsQuotaExceeded(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderQuotaExceeded
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// HTTPStatus maps the error taxonomy onto HTTP status codes.
func HTTPStatus(err error) int {
	var (
		notFound   *ErrCampaignNotFound
		denied     *PermissionDeniedError
		transition *InvalidTransitionError
		provider   *ProviderError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &provider):
		switch provider.Kind {
		case ProviderQuotaExceeded:
			return http.StatusTooManyRequests
		case ProviderTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &validation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Code is the machine-readable name of the error category.
func Code(err error) string {
	var (
		notFound   *ErrCampaignNotFound
		denied     *PermissionDeniedError
		transition *InvalidTransitionError
		provider   *ProviderError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return "NOT_FOUND"
	case errors.As(err, &denied):
		return "PERMISSION_DENIED"
	case errors.As(err, &transition):
		return "INVALID_TRANSITION"
	case errors.As(err, &provider):
		return "PROVIDER_ERROR"
	case errors.As(err, &validation):
		return "VALIDATION_ERROR"
	}
	return "INTERNAL"
}
