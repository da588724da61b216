// Package consent decides whether a presented consent token authorizes an
// action under a required scope.
package consent

import (
	"strings"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
)

// Scope is a named capability a consent token can authorize.
type Scope string

const (
	ScopeContentGeneration Scope = "content-generation"
	ScopeRecipientRead     Scope = "recipient-read"
	ScopeEmailSend         Scope = "email-send"
	ScopeVaultRead         Scope = "vault-read"
	ScopeVaultWrite        Scope = "vault-write"
	ScopeCustomTemporary   Scope = "custom-temporary"
)

var knownScopes = map[Scope]struct{}{
	ScopeContentGeneration: {},
	ScopeRecipientRead:     {},
	ScopeEmailSend:         {},
	ScopeVaultRead:         {},
	ScopeVaultWrite:        {},
	ScopeCustomTemporary:   {},
}

// ParseScope accepts only the enumerated scopes.
func ParseScope(s string) (Scope, bool) {
	sc := Scope(strings.TrimSpace(s))
	_, ok := knownScopes[sc]
	return sc, ok
}

type DenyReason string

const (
	ReasonMissing          DenyReason = "missing"
	ReasonWrongScope       DenyReason = "wrong_scope"
	ReasonExpired          DenyReason = "expired"
	ReasonInvalidSignature DenyReason = "invalid_signature"
)

// Decision is the outcome of a consent check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Subject string
}

func Allow(subject string) Decision { return Decision{Allowed: true, Subject: subject} }

func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// TokenVerifier verifies a token's proof and scope. Implementations must not
// have side effects.
type TokenVerifier interface {
	Verify(token string, scope Scope) Decision
}

// Gate is consulted before every side-effecting transition.
type Gate struct {
	verifier TokenVerifier
}

func NewGate(v TokenVerifier) *Gate {
	return &Gate{verifier: v}
}

// Check never touches campaign state; a blank token is denied without
// reaching the verifier.
func (g *Gate) Check(token string, scope Scope, action string) Decision {
	if strings.TrimSpace(token) == "" {
		return Deny(ReasonMissing)
	}
	if g == nil || g.verifier == nil {
		return Deny(ReasonInvalidSignature)
	}
	return g.verifier.Verify(token, scope)
}

// Require is Check folded into the error taxonomy.
func (g *Gate) Require(token string, scope Scope, action string) error {
	d := g.Check(token, scope, action)
	if d.Allowed {
		return nil
	}
	return appErrors.NewPermissionDenied(action, string(scope), string(d.Reason))
}
