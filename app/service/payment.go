package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/factory"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/repository"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	UpdateCAS(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*entity.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*entity.Payment, error)
	List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type PaymentService struct {
	paymentRepo paymentRepository
	eventRepo   paymentEventRepository
	alerts      alerter
	logger      logrus.FieldLogger
}

func NewPaymentService(
	paymentRepo paymentRepository,
	eventRepo paymentEventRepository,
	alerts alerter,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		eventRepo:   eventRepo,
		alerts:      alerts,
		logger:      factory.NewModuleLogger("payment-service"),
	}
}

// RegisterPayment records an order's expected payment before any gateway
// event arrives. Re-registering the same order returns the existing record
// as long as amount and currency agree.
func (s *PaymentService) RegisterPayment(ctx context.Context, req *types.RegisterPaymentRequest) (*entity.Payment, error) {
	orderID := strings.TrimSpace(req.OrderID)
	callerService := strings.TrimSpace(req.CallerService)
	if orderID == "" || callerService == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.paymentRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.AmountCents != req.AmountCents || existing.Currency != req.Currency {
			return nil, ErrPaymentAlreadyExists
		}
		return existing, nil
	}

	now := time.Now().UTC()
	payment := &entity.Payment{
		OrderID:       orderID,
		CallerService: callerService,
		AmountCents:   req.AmountCents,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		RefundedCents: 0,
		Status:        entity.PaymentStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			again, findErr := s.paymentRepo.FindByOrderID(ctx, orderID)
			if findErr != nil {
				return nil, findErr
			}
			if again != nil && again.AmountCents == req.AmountCents && again.Currency == payment.Currency {
				return again, nil
			}
			return nil, ErrPaymentAlreadyExists
		}
		return nil, err
	}

	if err := s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "payment_registered",
		NewStatus: payment.Status,
		CreatedAt: now,
	}); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("failed to record payment event")
	}

	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, req *types.ListPaymentsRequest) ([]*entity.Payment, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.PaymentFilter{
		OrderID:       strings.TrimSpace(req.OrderID),
		CallerService: strings.TrimSpace(req.CallerService),
		HasStatus:     req.HasStatus,
		Status:        req.Status,
		Limit:         limit,
		Offset:        req.Offset,
	}

	return s.paymentRepo.List(ctx, filter)
}

// ApplyPaymentEvent drives the payment state machine with a verified gateway
// event. Status only ever moves forward along the capture/refund rank, and
// RefundedCents never decreases; stale and duplicate deliveries are absorbed
// without a write.
func (s *PaymentService) ApplyPaymentEvent(ctx context.Context, event *provider.Event) error {
	if event == nil {
		return ErrInvalidRequest
	}

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		payment, err := s.findPaymentForEvent(ctx, event)
		if err != nil {
			return err
		}
		if payment == nil {
			return ErrPaymentNotFound
		}

		oldStatus := payment.Status
		changed, err := s.applyPaymentTransition(ctx, payment, event)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		if payment.ProviderPaymentID == nil && event.ProviderPaymentID != "" {
			id := event.ProviderPaymentID
			payment.ProviderPaymentID = &id
		}
		eventID := event.EventID
		payment.LastEventID = &eventID
		now := time.Now().UTC()
		payment.UpdatedAt = now

		err = s.paymentRepo.UpdateCAS(ctx, payment)
		if err == nil {
			s.recordPaymentEvent(ctx, payment, event, oldStatus, now)
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func (s *PaymentService) findPaymentForEvent(ctx context.Context, event *provider.Event) (*entity.Payment, error) {
	if id := strings.TrimSpace(event.ProviderPaymentID); id != "" {
		payment, err := s.paymentRepo.FindByProviderPaymentID(ctx, id)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if orderID := strings.TrimSpace(event.OrderID); orderID != "" {
		return s.paymentRepo.FindByOrderID(ctx, orderID)
	}
	return nil, nil
}

func (s *PaymentService) applyPaymentTransition(ctx context.Context, payment *entity.Payment, event *provider.Event) (bool, error) {
	switch event.Type {
	case provider.EventPaymentAuthorized, provider.EventPaymentCaptured:
		target := entity.PaymentStatusAuthorized
		if event.Type == provider.EventPaymentCaptured {
			target = entity.PaymentStatusCaptured
		}
		if payment.Status == entity.PaymentStatusFailed {
			if target == entity.PaymentStatusCaptured {
				s.alerts.IntegrityViolation(ctx, "payment", payment.OrderID, "capture event for a failed payment")
				return false, ErrStateIntegrity
			}
			// Stale authorization after the failure landed.
			return false, nil
		}
		if entity.PaymentStatusRank(target) <= entity.PaymentStatusRank(payment.Status) {
			return false, nil
		}
		payment.Status = target
		return true, nil

	case provider.EventPaymentFailed:
		switch payment.Status {
		case entity.PaymentStatusCreated, entity.PaymentStatusAuthorized:
			payment.Status = entity.PaymentStatusFailed
			return true, nil
		case entity.PaymentStatusFailed:
			return false, nil
		default:
			s.alerts.IntegrityViolation(ctx, "payment", payment.OrderID, "failure event after funds were captured")
			return false, ErrStateIntegrity
		}

	case provider.EventRefundCreated:
		if payment.Status == entity.PaymentStatusFailed {
			s.alerts.IntegrityViolation(ctx, "payment", payment.OrderID, "refund event for a failed payment")
			return false, ErrStateIntegrity
		}
		if entity.PaymentStatusRank(payment.Status) < entity.PaymentStatusRank(entity.PaymentStatusCaptured) {
			s.alerts.IntegrityViolation(ctx, "payment", payment.OrderID, "refund event before capture")
			return false, ErrStateIntegrity
		}
		if event.RefundedCents > payment.AmountCents {
			s.alerts.IntegrityViolation(ctx, "payment", payment.OrderID, "refund total exceeds payment amount")
			return false, ErrStateIntegrity
		}
		// The gateway reports cumulative totals; anything at or below what
		// we already recorded is a stale or duplicate delivery.
		if event.RefundedCents <= payment.RefundedCents {
			return false, nil
		}
		payment.RefundedCents = event.RefundedCents
		if payment.RefundedCents == payment.AmountCents {
			payment.Status = entity.PaymentStatusRefunded
		} else {
			payment.Status = entity.PaymentStatusPartiallyRefunded
		}
		return true, nil

	default:
		return false, ErrInvalidRequest
	}
}

func (s *PaymentService) recordPaymentEvent(ctx context.Context, payment *entity.Payment, event *provider.Event, oldStatus int32, now time.Time) {
	oldStatusPtr := &oldStatus
	if oldStatus == payment.Status {
		oldStatusPtr = nil
	}
	providerEventID := strings.TrimSpace(event.EventID)
	var providerEventIDPtr *string
	if providerEventID != "" {
		providerEventIDPtr = &providerEventID
	}

	if err := s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID:       payment.ID,
		EventType:       event.Type,
		OldStatus:       oldStatusPtr,
		NewStatus:       payment.Status,
		ProviderEventID: providerEventIDPtr,
		CreatedAt:       now,
	}); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("failed to record payment event")
	}
}
