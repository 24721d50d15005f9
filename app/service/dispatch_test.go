package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/idempotency"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
	"github.com/vibast-solutions/ms-go-settlement/config"
)

type stubAdapter struct {
	name  string
	event *provider.Event
	err   error
}

func (a *stubAdapter) Name() string {
	return a.name
}

func (a *stubAdapter) VerifyAndParseWebhook(_ context.Context, _ []byte, _ string) (*provider.Event, error) {
	if a.err != nil {
		return nil, a.err
	}
	copyEvent := *a.event
	return &copyEvent, nil
}

type dispatchFixture struct {
	jobRepo  *serviceJobRepo
	payRepo  *servicePaymentRepo
	webhooks *serviceWebhookRepo
	queue    *recordingQueue
	alerts   *recordingAlerter
	svc      *DispatchService
}

func newDispatchFixture(adapters ...provider.Adapter) *dispatchFixture {
	f := &dispatchFixture{
		jobRepo:  newServiceJobRepo(),
		payRepo:  newServicePaymentRepo(),
		webhooks: newServiceWebhookRepo(),
		queue:    &recordingQueue{},
		alerts:   &recordingAlerter{},
	}

	sweepsCfg := config.SweepsConfig{
		ReconcileStaleAfter: time.Minute,
		EventRetention:      time.Hour,
		BatchSize:           50,
	}
	jobs := NewJobService(f.jobRepo, &fakeGeneration{}, f.queue, &fakeAssets{}, f.alerts, sweepsCfg)
	payments := NewPaymentService(f.payRepo, &servicePaymentEventRepo{}, f.alerts)

	f.svc = NewDispatchService(
		provider.NewRegistry(adapters...),
		idempotency.NewMemoryStore(time.Hour),
		f.webhooks,
		jobs,
		payments,
		sweepsCfg,
	)
	return f
}

func webhookReq(providerName string, payload string) *types.WebhookRequest {
	return &types.WebhookRequest{
		Provider:  providerName,
		Payload:   []byte(payload),
		Signature: "sig",
	}
}

func TestHandleWebhookAppliesJobEvent(t *testing.T) {
	adapter := &stubAdapter{
		name: entity.ProviderGeneration,
		event: &provider.Event{
			EventID:        "evt_1",
			Kind:           provider.KindJob,
			Type:           provider.EventJobCompleted,
			ProviderJobID:  "gen_1",
			ResultAssetURL: "https://cdn.example.com/out.png",
		},
	}
	f := newDispatchFixture(adapter)
	seedJob(t, f.jobRepo, &entity.Job{
		RequestID:     "req-1",
		CallerService: "catalog",
		ProviderJobID: strPtr("gen_1"),
		Status:        entity.JobStatusAwaitingResult,
	})

	result, err := f.svc.HandleWebhook(context.Background(), webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeApplied {
		t.Errorf("outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeApplied)
	}
	if f.queue.len() != 1 {
		t.Errorf("queued tasks = %d, want 1", f.queue.len())
	}

	row := f.webhooks.get(1)
	if row == nil {
		t.Fatal("expected webhook audit row")
	}
	if row.Outcome != entity.WebhookOutcomeApplied {
		t.Errorf("audit outcome = %d, want %d", row.Outcome, entity.WebhookOutcomeApplied)
	}
	if !row.Verified {
		t.Error("expected audit row to be verified")
	}
}

func TestHandleWebhookDuplicateDeliveryIgnored(t *testing.T) {
	adapter := &stubAdapter{
		name: entity.ProviderGeneration,
		event: &provider.Event{
			EventID:        "evt_1",
			Kind:           provider.KindJob,
			Type:           provider.EventJobCompleted,
			ProviderJobID:  "gen_1",
			ResultAssetURL: "https://cdn.example.com/out.png",
		},
	}
	f := newDispatchFixture(adapter)
	seedJob(t, f.jobRepo, &entity.Job{
		RequestID:     "req-1",
		CallerService: "catalog",
		ProviderJobID: strPtr("gen_1"),
		Status:        entity.JobStatusAwaitingResult,
	})
	ctx := context.Background()
	req := webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`)

	if _, err := f.svc.HandleWebhook(ctx, req); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	result, err := f.svc.HandleWebhook(ctx, req)
	if err != nil {
		t.Fatalf("duplicate delivery error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeDuplicateIgnored {
		t.Errorf("outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeDuplicateIgnored)
	}
	if f.queue.len() != 1 {
		t.Errorf("queued tasks = %d, want 1 (duplicate must not re-apply)", f.queue.len())
	}
	if f.webhooks.count() != 2 {
		t.Errorf("audit rows = %d, want 2 (every delivery gets a row)", f.webhooks.count())
	}
}

func TestHandleWebhookSameEventIDAcrossProvidersNotDeduplicated(t *testing.T) {
	generation := &stubAdapter{
		name: entity.ProviderGeneration,
		event: &provider.Event{
			EventID:        "evt_1",
			Kind:           provider.KindJob,
			Type:           provider.EventJobCompleted,
			ProviderJobID:  "gen_1",
			ResultAssetURL: "https://cdn.example.com/out.png",
		},
	}
	gateway := &stubAdapter{
		name: entity.ProviderGateway,
		event: &provider.Event{
			EventID:           "evt_1",
			Kind:              provider.KindPayment,
			Type:              provider.EventPaymentCaptured,
			ProviderPaymentID: "pay_1",
			OrderID:           "ord-1",
		},
	}
	f := newDispatchFixture(generation, gateway)
	ctx := context.Background()

	seedJob(t, f.jobRepo, &entity.Job{
		RequestID:     "req-1",
		CallerService: "catalog",
		ProviderJobID: strPtr("gen_1"),
		Status:        entity.JobStatusAwaitingResult,
	})
	payment := &entity.Payment{
		OrderID:       "ord-1",
		CallerService: "checkout",
		AmountCents:   5000,
		Currency:      "EUR",
		Status:        entity.PaymentStatusCreated,
	}
	if err := f.payRepo.Create(ctx, payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	first, err := f.svc.HandleWebhook(ctx, webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("generation HandleWebhook() error = %v", err)
	}
	if first.Outcome != entity.WebhookOutcomeApplied {
		t.Fatalf("generation outcome = %d, want %d", first.Outcome, entity.WebhookOutcomeApplied)
	}

	// The gateway reuses the same event id; it must not be mistaken for a
	// duplicate of the generation delivery.
	second, err := f.svc.HandleWebhook(ctx, webhookReq(entity.ProviderGateway, `{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("gateway HandleWebhook() error = %v", err)
	}
	if second.Outcome != entity.WebhookOutcomeApplied {
		t.Errorf("gateway outcome = %d, want %d", second.Outcome, entity.WebhookOutcomeApplied)
	}

	stored, _ := f.payRepo.FindByID(ctx, payment.ID)
	if stored.Status != entity.PaymentStatusCaptured {
		t.Errorf("payment status = %d, want %d", stored.Status, entity.PaymentStatusCaptured)
	}
}

func TestHandleWebhookInvalidSignatureRejected(t *testing.T) {
	adapter := &stubAdapter{name: entity.ProviderGeneration, err: provider.ErrInvalidSignature}
	f := newDispatchFixture(adapter)

	_, err := f.svc.HandleWebhook(context.Background(), webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`))
	if !errors.Is(err, ErrWebhookRejected) {
		t.Fatalf("error = %v, want ErrWebhookRejected", err)
	}

	row := f.webhooks.get(1)
	if row == nil {
		t.Fatal("expected rejected delivery to be persisted")
	}
	if row.Outcome != entity.WebhookOutcomeRejected {
		t.Errorf("outcome = %d, want %d", row.Outcome, entity.WebhookOutcomeRejected)
	}
	if row.Verified {
		t.Error("signature failures must not be marked verified")
	}
}

func TestHandleWebhookMalformedPayloadRejected(t *testing.T) {
	adapter := &stubAdapter{name: entity.ProviderGeneration, err: provider.ErrMalformedPayload}
	f := newDispatchFixture(adapter)

	_, err := f.svc.HandleWebhook(context.Background(), webhookReq(entity.ProviderGeneration, `not json`))
	if !errors.Is(err, ErrWebhookRejected) {
		t.Fatalf("error = %v, want ErrWebhookRejected", err)
	}

	row := f.webhooks.get(1)
	if row == nil {
		t.Fatal("expected rejected delivery to be persisted")
	}
	if !row.Verified {
		t.Error("malformed payloads passed verification and should say so")
	}
}

func TestHandleWebhookUnknownTypeDeferred(t *testing.T) {
	adapter := &stubAdapter{
		name:  entity.ProviderGeneration,
		event: &provider.Event{EventID: "evt_1", Kind: provider.KindJob, Type: ""},
	}
	f := newDispatchFixture(adapter)

	result, err := f.svc.HandleWebhook(context.Background(), webhookReq(entity.ProviderGeneration, `{"id":"evt_1","type":"job.archived"}`))
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeDeferred {
		t.Errorf("outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeDeferred)
	}
}

func TestHandleWebhookUnknownJobDeferredThenRedelivered(t *testing.T) {
	adapter := &stubAdapter{
		name: entity.ProviderGeneration,
		event: &provider.Event{
			EventID:        "evt_1",
			Kind:           provider.KindJob,
			Type:           provider.EventJobCompleted,
			ProviderJobID:  "gen_1",
			ResultAssetURL: "https://cdn.example.com/out.png",
		},
	}
	f := newDispatchFixture(adapter)
	ctx := context.Background()
	req := webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`)

	result, err := f.svc.HandleWebhook(ctx, req)
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeDeferred {
		t.Fatalf("outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeDeferred)
	}

	// The job record lands, then the provider redelivers the same event.
	seedJob(t, f.jobRepo, &entity.Job{
		RequestID:     "req-1",
		CallerService: "catalog",
		ProviderJobID: strPtr("gen_1"),
		Status:        entity.JobStatusAwaitingResult,
	})

	result, err = f.svc.HandleWebhook(ctx, req)
	if err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeApplied {
		t.Errorf("redelivery outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeApplied)
	}
}

func TestHandleWebhookIntegrityViolationAcknowledged(t *testing.T) {
	adapter := &stubAdapter{
		name: entity.ProviderGeneration,
		event: &provider.Event{
			EventID:        "evt_1",
			Kind:           provider.KindJob,
			Type:           provider.EventJobCompleted,
			ProviderJobID:  "gen_1",
			ResultAssetURL: "https://cdn.example.com/out.png",
		},
	}
	f := newDispatchFixture(adapter)
	seedJob(t, f.jobRepo, &entity.Job{
		RequestID:     "req-1",
		CallerService: "catalog",
		ProviderJobID: strPtr("gen_1"),
		Status:        entity.JobStatusFailed,
	})

	result, err := f.svc.HandleWebhook(context.Background(), webhookReq(entity.ProviderGeneration, `{"id":"evt_1"}`))
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v (contradictions are acknowledged)", err)
	}
	if result.Outcome != entity.WebhookOutcomeRejected {
		t.Errorf("outcome = %d, want %d", result.Outcome, entity.WebhookOutcomeRejected)
	}
	if f.alerts.integrityCount() != 1 {
		t.Errorf("integrity alerts = %d, want 1", f.alerts.integrityCount())
	}
}

func TestHandleWebhookUnsupportedProvider(t *testing.T) {
	f := newDispatchFixture()

	_, err := f.svc.HandleWebhook(context.Background(), webhookReq("telegraph", `{}`))
	if !errors.Is(err, ErrProviderUnsupported) {
		t.Fatalf("error = %v, want ErrProviderUnsupported", err)
	}
}

func TestHandleWebhookDerivesEventIDWhenMissing(t *testing.T) {
	adapter := &stubAdapter{
		name:  entity.ProviderGateway,
		event: &provider.Event{Kind: provider.KindPayment, Type: provider.EventPaymentCaptured, OrderID: "ord-1"},
	}
	f := newDispatchFixture(adapter)

	payments := NewPaymentService(f.payRepo, &servicePaymentEventRepo{}, f.alerts)
	if _, err := payments.RegisterPayment(context.Background(), &types.RegisterPaymentRequest{
		OrderID:       "ord-1",
		CallerService: "checkout",
		AmountCents:   1000,
		Currency:      "EUR",
	}); err != nil {
		t.Fatalf("register payment: %v", err)
	}

	ctx := context.Background()
	req := webhookReq(entity.ProviderGateway, `{"type":"payment.captured","data":{"object":{"order_id":"ord-1"}}}`)

	if _, err := f.svc.HandleWebhook(ctx, req); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	row := f.webhooks.get(1)
	if row == nil || row.EventID == "" {
		t.Fatal("expected a derived event id on the audit row")
	}

	result, err := f.svc.HandleWebhook(ctx, req)
	if err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if result.Outcome != entity.WebhookOutcomeDuplicateIgnored {
		t.Errorf("outcome = %d, want %d (same bytes must deduplicate)", result.Outcome, entity.WebhookOutcomeDuplicateIgnored)
	}
}

func TestRunPruneBatchDeletesSettledRows(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	settled := &entity.WebhookEvent{
		EventID: "evt_old", Provider: entity.ProviderGeneration,
		Outcome: entity.WebhookOutcomeApplied, ReceivedAt: old, UpdatedAt: old,
	}
	pending := &entity.WebhookEvent{
		EventID: "evt_stuck", Provider: entity.ProviderGeneration,
		Outcome: entity.WebhookOutcomeReceived, ReceivedAt: old, UpdatedAt: old,
	}
	if err := f.webhooks.Create(ctx, settled); err != nil {
		t.Fatalf("seed settled row: %v", err)
	}
	if err := f.webhooks.Create(ctx, pending); err != nil {
		t.Fatalf("seed pending row: %v", err)
	}

	if err := f.svc.RunPruneBatch(ctx); err != nil {
		t.Fatalf("RunPruneBatch() error = %v", err)
	}

	if f.webhooks.get(settled.ID) != nil {
		t.Error("expected settled row to be pruned")
	}
	if f.webhooks.get(pending.ID) == nil {
		t.Error("rows still awaiting an outcome must survive pruning")
	}
}
