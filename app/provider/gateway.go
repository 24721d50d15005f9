package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/signature"
)

type GatewayConfig struct {
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

// GatewayAdapter translates the payments gateway's signed webhooks. The
// gateway signs with the timestamped scheme, which also bounds replays.
type GatewayAdapter struct {
	cfg GatewayConfig
}

func NewGatewayAdapter(cfg GatewayConfig) *GatewayAdapter {
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	return &GatewayAdapter{cfg: cfg}
}

func (a *GatewayAdapter) Name() string {
	return entity.ProviderGateway
}

type gatewayWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			PaymentID      string `json:"payment_id"`
			OrderID        string `json:"order_id"`
			AmountRefunded int64  `json:"amount_refunded"`
			FailureReason  string `json:"failure_reason"`
		} `json:"object"`
	} `json:"data"`
}

func (a *GatewayAdapter) VerifyAndParseWebhook(_ context.Context, payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(a.cfg.WebhookSecret) == "" {
		return nil, errors.New("gateway webhook secret is not configured")
	}
	if !signature.VerifyTimestamped(payload, signatureHeader, a.cfg.WebhookSecret, a.cfg.SignatureToleranceSeconds) {
		return nil, ErrInvalidSignature
	}

	var body gatewayWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := &Event{
		EventID:           strings.TrimSpace(body.ID),
		Kind:              KindPayment,
		ProviderPaymentID: strings.TrimSpace(body.Data.Object.PaymentID),
		OrderID:           strings.TrimSpace(body.Data.Object.OrderID),
	}

	switch body.Type {
	case "payment.authorized":
		event.Type = EventPaymentAuthorized
	case "payment.captured":
		event.Type = EventPaymentCaptured
	case "payment.failed":
		event.Type = EventPaymentFailed
		event.ErrorDetail = strings.TrimSpace(body.Data.Object.FailureReason)
	case "refund.created":
		event.Type = EventRefundCreated
		event.RefundedCents = body.Data.Object.AmountRefunded
	default:
		event.Type = ""
		return event, nil
	}

	if event.ProviderPaymentID == "" && event.OrderID == "" {
		return nil, fmt.Errorf("%w: %s without payment_id or order_id", ErrMalformedPayload, body.Type)
	}

	return event, nil
}
