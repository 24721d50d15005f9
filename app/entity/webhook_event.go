package entity

import "time"

const (
	ProviderGeneration = "generation"
	ProviderGateway    = "gateway"
)

const (
	WebhookOutcomeReceived         int32 = 0
	WebhookOutcomeApplied          int32 = 10
	WebhookOutcomeDuplicateIgnored int32 = 11
	WebhookOutcomeDeferred         int32 = 12
	WebhookOutcomeRejected         int32 = 20
)

// WebhookEvent is the dispatcher-owned audit record for every inbound
// delivery. A row is written before the caller gets a 2xx; the outcome is
// set exactly once and the row is immutable afterwards.
type WebhookEvent struct {
	ID uint64

	EventID  string
	Provider string

	Signature   string
	PayloadJSON string

	Verified bool
	Outcome  int32
	Error    *string

	ReceivedAt time.Time
	UpdatedAt  time.Time
}
