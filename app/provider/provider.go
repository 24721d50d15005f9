package provider

import (
	"context"
	"errors"
)

var (
	ErrProviderNotSupported = errors.New("provider is not supported")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
)

const (
	KindJob     = "job"
	KindPayment = "payment"
)

// Normalized event types. Adapters translate provider-specific payloads into
// these; everything downstream is provider-agnostic.
const (
	EventJobAccepted  = "job.accepted"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"

	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
)

// Event is the internal, versionless shape every adapter produces. A Type of
// "" means the delivery verified but carried an event type this service does
// not recognize; the dispatcher defers it rather than guessing.
type Event struct {
	EventID string
	Kind    string
	Type    string

	ProviderJobID  string
	ResultAssetURL string
	ErrorDetail    string

	ProviderPaymentID string
	OrderID           string
	RefundedCents     int64
}

// Adapter verifies and translates one provider's webhook deliveries.
// Verification failures return ErrInvalidSignature; payloads that cannot be
// decoded return ErrMalformedPayload. Both leave job/payment state untouched.
type Adapter interface {
	Name() string
	VerifyAndParseWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Event, error)
}
