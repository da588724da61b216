// internal/model/campaign.go
package model

import "time"

// CampaignState is a node in the approval state machine.
type CampaignState string

const (
	StateDrafting         CampaignState = "drafting"
	StateAwaitingApproval CampaignState = "awaiting_approval"
	StateApproved         CampaignState = "approved"
	StateRejected         CampaignState = "rejected"
	StateDispatching      CampaignState = "dispatching"
	StateCompleted        CampaignState = "completed"
	StateFailed           CampaignState = "failed"
)

// IsTerminal reports whether no further transition can leave s.
func (s CampaignState) IsTerminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Failure kinds recorded on a failed campaign.
const (
	FailureDrafting = "drafting"
	FailureDispatch = "dispatch"
)

type Campaign struct {
	ID              string                `db:"id" json:"id"`
	IdempotencyKey  string                `db:"idempotency_key" json:"idempotency_key,omitempty"`
	State           CampaignState         `db:"state" json:"state"`
	Intent          string                `db:"intent" json:"intent"`
	SubjectTemplate string                `db:"subject_template" json:"subject_template"`
	BodyTemplate    string                `db:"body_template" json:"body_template"`
	CreatorUserID   string                `db:"creator_user_id" json:"creator_user_id"`
	Scope           string                `db:"scope" json:"scope"`
	Revision        int                   `db:"revision" json:"revision"`
	Cohort          []Contact             `db:"cohort" json:"cohort"`
	SendResults     map[string]SendResult `db:"-" json:"send_results,omitempty"`
	FailureKind     string                `db:"failure_kind" json:"failure_kind,omitempty"`
	FailureReason   string                `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time            `db:"updated_at" json:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers never share cohort or result maps
// with the store.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	if c.Cohort != nil {
		out.Cohort = make([]Contact, len(c.Cohort))
		for i, ct := range c.Cohort {
			out.Cohort[i] = ct.Clone()
		}
	}
	if c.SendResults != nil {
		out.SendResults = make(map[string]SendResult, len(c.SendResults))
		for k, v := range c.SendResults {
			out.SendResults[k] = v
		}
	}
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}
