package entity

import "time"

const (
	PaymentStatusCreated           int32 = 1
	PaymentStatusAuthorized        int32 = 2
	PaymentStatusCaptured          int32 = 10
	PaymentStatusPartiallyRefunded int32 = 11
	PaymentStatusRefunded          int32 = 12
	PaymentStatusFailed            int32 = 20
)

// Payment tracks gateway-reported truth for a single payment. RefundedCents
// is monotonically non-decreasing and never exceeds AmountCents; status moves
// only forward along the rank order below.
type Payment struct {
	ID uint64

	OrderID       string
	CallerService string

	ProviderPaymentID *string

	AmountCents   int64
	Currency      string
	RefundedCents int64

	Status int32

	LastEventID *string

	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatusRank orders the forward-only capture/refund progression.
// Failed sits outside the rank: it is reachable only from Created or
// Authorized and is checked separately.
func PaymentStatusRank(status int32) int {
	switch status {
	case PaymentStatusCreated:
		return 0
	case PaymentStatusAuthorized:
		return 1
	case PaymentStatusCaptured:
		return 2
	case PaymentStatusPartiallyRefunded:
		return 3
	case PaymentStatusRefunded:
		return 4
	default:
		return -1
	}
}

func PaymentStatusTerminal(status int32) bool {
	return status == PaymentStatusRefunded || status == PaymentStatusFailed
}
