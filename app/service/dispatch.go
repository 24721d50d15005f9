package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/factory"
	"github.com/vibast-solutions/ms-go-settlement/app/idempotency"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/repository"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
	"github.com/vibast-solutions/ms-go-settlement/config"
)

type webhookEventRepository interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
	SetOutcome(ctx context.Context, id uint64, outcome int32, errDetail *string) error
	PruneOlderThan(ctx context.Context, cutoff time.Time, limit int32) (int64, error)
}

type jobEventApplier interface {
	ApplyJobEvent(ctx context.Context, event *provider.Event) error
}

type paymentEventApplier interface {
	ApplyPaymentEvent(ctx context.Context, event *provider.Event) error
}

// DispatchResult reports what the dispatcher decided for a delivery. The
// outcome values are the webhook event outcome codes.
type DispatchResult struct {
	Outcome int32
}

// DispatchService is the single entry point for inbound webhooks: it
// verifies the signature, writes the durable audit row, deduplicates, and
// routes the event to the owning state machine. Callers get a non-error
// result only after the audit row exists.
type DispatchService struct {
	registry    *provider.Registry
	dedup       idempotency.Store
	webhookRepo webhookEventRepository
	jobs        jobEventApplier
	payments    paymentEventApplier
	sweepsCfg   config.SweepsConfig
	logger      logrus.FieldLogger
}

func NewDispatchService(
	registry *provider.Registry,
	dedup idempotency.Store,
	webhookRepo webhookEventRepository,
	jobs jobEventApplier,
	payments paymentEventApplier,
	sweepsCfg config.SweepsConfig,
) *DispatchService {
	return &DispatchService{
		registry:    registry,
		dedup:       dedup,
		webhookRepo: webhookRepo,
		jobs:        jobs,
		payments:    payments,
		sweepsCfg:   sweepsCfg,
		logger:      factory.NewModuleLogger("dispatch-service"),
	}
}

func (s *DispatchService) HandleWebhook(ctx context.Context, req *types.WebhookRequest) (*DispatchResult, error) {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	event, err := adapter.VerifyAndParseWebhook(ctx, req.Payload, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrInvalidSignature):
			s.persistRejected(ctx, req, false, err.Error())
			return nil, ErrWebhookRejected
		case errors.Is(err, provider.ErrMalformedPayload):
			s.persistRejected(ctx, req, true, err.Error())
			return nil, ErrWebhookRejected
		default:
			return nil, err
		}
	}

	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		eventID = deriveEventID(req.Provider, req.Payload)
		event.EventID = eventID
	}

	now := time.Now().UTC()
	record := &entity.WebhookEvent{
		EventID:     eventID,
		Provider:    req.Provider,
		Signature:   req.Signature,
		PayloadJSON: string(req.Payload),
		Verified:    true,
		Outcome:     entity.WebhookOutcomeReceived,
		ReceivedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	// Event IDs are only unique per provider, so the dedup key carries the
	// provider name to keep the namespaces apart.
	dedupKey := req.Provider + ":" + eventID
	isNew, err := s.dedup.RecordIfNew(ctx, dedupKey)
	if err != nil {
		return nil, err
	}
	if !isNew {
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeDuplicateIgnored, nil)
		return &DispatchResult{Outcome: entity.WebhookOutcomeDuplicateIgnored}, nil
	}

	if event.Type == "" {
		detail := "unrecognized event type"
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeDeferred, &detail)
		return &DispatchResult{Outcome: entity.WebhookOutcomeDeferred}, nil
	}

	var applyErr error
	switch event.Kind {
	case provider.KindJob:
		applyErr = s.jobs.ApplyJobEvent(ctx, event)
	case provider.KindPayment:
		applyErr = s.payments.ApplyPaymentEvent(ctx, event)
	default:
		detail := "no handler for event kind"
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeDeferred, &detail)
		return &DispatchResult{Outcome: entity.WebhookOutcomeDeferred}, nil
	}

	switch {
	case applyErr == nil:
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeApplied, nil)
		return &DispatchResult{Outcome: entity.WebhookOutcomeApplied}, nil

	case errors.Is(applyErr, ErrJobNotFound), errors.Is(applyErr, ErrPaymentNotFound):
		// The event raced ahead of the local record; release the dedup
		// claim so the provider's redelivery gets another shot.
		if ferr := s.dedup.Forget(ctx, dedupKey); ferr != nil {
			s.logger.WithError(ferr).WithField("event_id", eventID).Error("failed to release dedup claim")
		}
		detail := truncate(applyErr.Error(), 1024)
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeDeferred, &detail)
		return &DispatchResult{Outcome: entity.WebhookOutcomeDeferred}, nil

	case errors.Is(applyErr, ErrStateIntegrity):
		// The alert was raised inside the state machine; acknowledge the
		// delivery so the provider stops retrying a contradiction.
		detail := truncate(applyErr.Error(), 1024)
		s.setOutcome(ctx, record.ID, entity.WebhookOutcomeRejected, &detail)
		return &DispatchResult{Outcome: entity.WebhookOutcomeRejected}, nil

	default:
		if ferr := s.dedup.Forget(ctx, dedupKey); ferr != nil {
			s.logger.WithError(ferr).WithField("event_id", eventID).Error("failed to release dedup claim")
		}
		return nil, applyErr
	}
}

func (s *DispatchService) persistRejected(ctx context.Context, req *types.WebhookRequest, verified bool, reason string) {
	now := time.Now().UTC()
	detail := truncate(strings.TrimSpace(reason), 1024)
	if detail == "" {
		detail = "webhook rejected"
	}
	record := &entity.WebhookEvent{
		EventID:     deriveEventID(req.Provider, req.Payload),
		Provider:    req.Provider,
		Signature:   req.Signature,
		PayloadJSON: string(req.Payload),
		Verified:    verified,
		Outcome:     entity.WebhookOutcomeRejected,
		Error:       &detail,
		ReceivedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.webhookRepo.Create(ctx, record); err != nil {
		s.logger.WithError(err).WithField("provider", req.Provider).Error("failed to persist rejected webhook")
	}
}

func (s *DispatchService) setOutcome(ctx context.Context, id uint64, outcome int32, errDetail *string) {
	err := s.webhookRepo.SetOutcome(ctx, id, outcome, errDetail)
	if err != nil && !errors.Is(err, repository.ErrWebhookOutcomeFinal) {
		s.logger.WithError(err).WithField("webhook_event_id", id).Error("failed to set webhook outcome")
	}
}

// deriveEventID gives payloads without a provider event ID a stable identity
// so redeliveries of the same bytes still deduplicate.
func deriveEventID(providerName string, payload []byte) string {
	sum := sha256.Sum256(append([]byte(providerName+":"), payload...))
	return hex.EncodeToString(sum[:])
}
