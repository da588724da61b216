// internal/model/outbound_message.go
package model

import "time"

type SendStatus string

const (
	SendAccepted SendStatus = "accepted"
	SendRejected SendStatus = "rejected"
)

// SendResult is the terminal outcome for one recipient of a dispatch.
// Once recorded it is never overwritten.
type SendResult struct {
	CampaignID string     `db:"campaign_id" json:"campaign_id"`
	Email      string     `db:"email" json:"email"`
	Status     SendStatus `db:"status" json:"status"`
	MessageID  string     `db:"message_id" json:"message_id,omitempty"`
	Reason     string     `db:"reason" json:"reason,omitempty"`
	RecordedAt time.Time  `db:"recorded_at" json:"recorded_at"`
}

// SendReceipt is what an email transport answers for a single message.
type SendReceipt struct {
	Accepted  bool
	MessageID string
	Reason    string
}

// RenderedMessage is a per-recipient subject/body with placeholders resolved.
type RenderedMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// OutboundEmail is the job carried on the send queue.
type OutboundEmail struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}
