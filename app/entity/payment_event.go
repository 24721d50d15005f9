package entity

import "time"

// PaymentEvent is the reconciliation record emitted for every accepted
// payment transition, consumed by downstream accounting.
type PaymentEvent struct {
	ID uint64

	PaymentID uint64

	EventType string

	OldStatus *int32
	NewStatus int32

	ProviderEventID *string
	PayloadJSON     *string

	CreatedAt time.Time
}
