package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/repository"
	"github.com/vibast-solutions/ms-go-settlement/app/worker"
)

type serviceJobRepo struct {
	mu     sync.Mutex
	jobs   map[uint64]*entity.Job
	nextID uint64
}

func newServiceJobRepo() *serviceJobRepo {
	return &serviceJobRepo{
		jobs:   map[uint64]*entity.Job{},
		nextID: 1,
	}
}

func (r *serviceJobRepo) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.jobs {
		if item.CallerService == job.CallerService && item.RequestID == job.RequestID {
			return repository.ErrJobAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *job
	copyItem.ID = id
	r.jobs[id] = &copyItem
	job.ID = id
	return nil
}

func (r *serviceJobRepo) UpdateCAS(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return repository.ErrJobNotFound
	}
	if stored.Version != job.Version {
		return repository.ErrVersionConflict
	}
	copyItem := *job
	copyItem.Version++
	r.jobs[job.ID] = &copyItem
	job.Version++
	return nil
}

func (r *serviceJobRepo) FindByID(_ context.Context, id uint64) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceJobRepo) FindByProviderJobID(_ context.Context, providerJobID string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.jobs {
		if item.ProviderJobID != nil && *item.ProviderJobID == providerJobID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceJobRepo) FindByCallerRequestID(_ context.Context, callerService, requestID string) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.jobs {
		if item.CallerService == callerService && item.RequestID == requestID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceJobRepo) List(_ context.Context, filter repository.JobFilter) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Job, 0)
	for _, item := range r.jobs {
		if filter.RequestID != "" && item.RequestID != filter.RequestID {
			continue
		}
		if filter.CallerService != "" && item.CallerService != filter.CallerService {
			continue
		}
		if filter.HasStatus && item.Status != filter.Status {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (r *serviceJobRepo) ListStaleAwaitingResult(_ context.Context, before time.Time, limit int32) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Job, 0)
	for _, item := range r.jobs {
		if item.Status == entity.JobStatusAwaitingResult && !item.UpdatedAt.After(before) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *serviceJobRepo) ListStaleUnpersisted(_ context.Context, before time.Time, limit int32) ([]*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Job, 0)
	for _, item := range r.jobs {
		unpersisted := item.Status == entity.JobStatusResultReady || item.Status == entity.JobStatusPersisting
		if unpersisted && !item.UpdatedAt.After(before) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

type servicePaymentRepo struct {
	mu       sync.Mutex
	payments map[uint64]*entity.Payment
	nextID   uint64
}

func newServicePaymentRepo() *servicePaymentRepo {
	return &servicePaymentRepo{
		payments: map[uint64]*entity.Payment{},
		nextID:   1,
	}
}

func (r *servicePaymentRepo) Create(_ context.Context, payment *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.payments {
		if item.OrderID == payment.OrderID {
			return repository.ErrPaymentAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *payment
	copyItem.ID = id
	r.payments[id] = &copyItem
	payment.ID = id
	return nil
}

func (r *servicePaymentRepo) UpdateCAS(_ context.Context, payment *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[payment.ID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if stored.Version != payment.Version {
		return repository.ErrVersionConflict
	}
	copyItem := *payment
	copyItem.Version++
	r.payments[payment.ID] = &copyItem
	payment.Version++
	return nil
}

func (r *servicePaymentRepo) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *servicePaymentRepo) FindByProviderPaymentID(_ context.Context, providerPaymentID string) (*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.payments {
		if item.ProviderPaymentID != nil && *item.ProviderPaymentID == providerPaymentID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *servicePaymentRepo) FindByOrderID(_ context.Context, orderID string) (*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.payments {
		if item.OrderID == orderID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *servicePaymentRepo) List(_ context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Payment, 0)
	for _, item := range r.payments {
		if filter.OrderID != "" && item.OrderID != filter.OrderID {
			continue
		}
		if filter.CallerService != "" && item.CallerService != filter.CallerService {
			continue
		}
		if filter.HasStatus && item.Status != filter.Status {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

type servicePaymentEventRepo struct {
	mu        sync.Mutex
	events    []*entity.PaymentEvent
	createErr error
}

func (r *servicePaymentEventRepo) Create(_ context.Context, event *entity.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *servicePaymentEventRepo) byType(eventType string) []*entity.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentEvent, 0)
	for _, item := range r.events {
		if item.EventType == eventType {
			items = append(items, item)
		}
	}
	return items
}

type serviceWebhookRepo struct {
	mu     sync.Mutex
	events map[uint64]*entity.WebhookEvent
	nextID uint64
}

func newServiceWebhookRepo() *serviceWebhookRepo {
	return &serviceWebhookRepo{
		events: map[uint64]*entity.WebhookEvent{},
		nextID: 1,
	}
}

func (r *serviceWebhookRepo) Create(_ context.Context, event *entity.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	copyItem := *event
	copyItem.ID = id
	r.events[id] = &copyItem
	event.ID = id
	return nil
}

func (r *serviceWebhookRepo) SetOutcome(_ context.Context, id uint64, outcome int32, errDetail *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.events[id]
	if !ok || item.Outcome != entity.WebhookOutcomeReceived {
		return repository.ErrWebhookOutcomeFinal
	}
	item.Outcome = outcome
	item.Error = errDetail
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *serviceWebhookRepo) PruneOlderThan(_ context.Context, cutoff time.Time, limit int32) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, item := range r.events {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if !item.ReceivedAt.After(cutoff) && item.Outcome != entity.WebhookOutcomeReceived {
			delete(r.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *serviceWebhookRepo) get(id uint64) *entity.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.events[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *serviceWebhookRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingAlerter struct {
	mu          sync.Mutex
	integrity   []string
	deadLetters []string
}

func (a *recordingAlerter) IntegrityViolation(_ context.Context, _ string, entityID string, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.integrity = append(a.integrity, entityID+": "+detail)
}

func (a *recordingAlerter) JobDeadLettered(_ context.Context, jobID string, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deadLetters = append(a.deadLetters, jobID+": "+detail)
}

func (a *recordingAlerter) integrityCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.integrity)
}

func (a *recordingAlerter) deadLetterCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deadLetters)
}

type fakeGeneration struct {
	submitErr    error
	nextJobID    string
	statusEvents map[string]*provider.Event
	statusErr    error
	submitted    int
}

func (g *fakeGeneration) SubmitJob(_ context.Context, _ string, _ map[string]string) (string, error) {
	g.submitted++
	if g.submitErr != nil {
		return "", g.submitErr
	}
	if g.nextJobID == "" {
		return "gen_default", nil
	}
	return g.nextJobID, nil
}

func (g *fakeGeneration) GetJobStatus(_ context.Context, providerJobID string) (*provider.Event, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return g.statusEvents[providerJobID], nil
}

type recordingQueue struct {
	mu       sync.Mutex
	tasks    []worker.Task
	failures int
}

func (q *recordingQueue) Enqueue(_ context.Context, task worker.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return errors.New("queue unavailable")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type fakeAssets struct {
	ref      string
	digest   string
	attempts int32
	err      error
	calls    int
}

func (a *fakeAssets) Persist(_ context.Context, _ string) (string, string, int32, error) {
	a.calls++
	if a.err != nil {
		return "", "", a.attempts, a.err
	}
	return a.ref, a.digest, a.attempts, nil
}

var errFakeTransient = errors.New("temporary backend trouble")
