package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/provider"
	"github.com/vibast-solutions/ms-go-settlement/app/repository"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
	"github.com/vibast-solutions/ms-go-settlement/app/worker"
	"github.com/vibast-solutions/ms-go-settlement/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)

	// casRetries bounds how often a transition is replayed after losing a
	// version race. Conflicts mean another event just landed on the same
	// row, so one or two replays is normally enough.
	casRetries = 3
)

type jobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	UpdateCAS(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uint64) (*entity.Job, error)
	FindByProviderJobID(ctx context.Context, providerJobID string) (*entity.Job, error)
	FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Job, error)
	List(ctx context.Context, filter repository.JobFilter) ([]*entity.Job, error)
	ListStaleAwaitingResult(ctx context.Context, before time.Time, limit int32) ([]*entity.Job, error)
	ListStaleUnpersisted(ctx context.Context, before time.Time, limit int32) ([]*entity.Job, error)
}

type generationClient interface {
	SubmitJob(ctx context.Context, sourceAssetURL string, parameters map[string]string) (string, error)
	GetJobStatus(ctx context.Context, providerJobID string) (*provider.Event, error)
}

type taskQueue interface {
	Enqueue(ctx context.Context, task worker.Task) error
}

type assetPersister interface {
	Persist(ctx context.Context, sourceURL string) (ref string, digest string, attempts int32, err error)
}

type alerter interface {
	IntegrityViolation(ctx context.Context, entity string, entityID string, detail string)
	JobDeadLettered(ctx context.Context, jobID string, detail string)
}

type JobService struct {
	jobRepo    jobRepository
	generation generationClient
	queue      taskQueue
	assets     assetPersister
	alerts     alerter
	sweepsCfg  config.SweepsConfig
}

func NewJobService(
	jobRepo jobRepository,
	generation generationClient,
	queue taskQueue,
	assets assetPersister,
	alerts alerter,
	sweepsCfg config.SweepsConfig,
) *JobService {
	return &JobService{
		jobRepo:    jobRepo,
		generation: generation,
		queue:      queue,
		assets:     assets,
		alerts:     alerts,
		sweepsCfg:  sweepsCfg,
	}
}

// SubmitJob creates a local job record and hands the work to the generation
// provider. Resubmissions with the same caller_service and request_id return
// the already-created job.
func (s *JobService) SubmitJob(ctx context.Context, req *types.SubmitJobRequest) (*entity.Job, error) {
	requestID := strings.TrimSpace(req.RequestID)
	callerService := strings.TrimSpace(req.CallerService)
	if requestID == "" || callerService == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.jobRepo.FindByCallerRequestID(ctx, callerService, requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	job := &entity.Job{
		RequestID:      requestID,
		CallerService:  callerService,
		Status:         entity.JobStatusSubmitted,
		SourceAssetRef: strings.TrimSpace(req.SourceAssetRef),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobAlreadyExists) {
			again, findErr := s.jobRepo.FindByCallerRequestID(ctx, callerService, requestID)
			if findErr != nil {
				return nil, findErr
			}
			if again != nil {
				return again, nil
			}
			return nil, ErrJobAlreadyExists
		}
		return nil, err
	}

	providerJobID, err := s.generation.SubmitJob(ctx, job.SourceAssetRef, req.Parameters)
	now = time.Now().UTC()
	if err != nil {
		detail := truncate(err.Error(), 1024)
		job.Status = entity.JobStatusFailed
		job.ProviderError = &detail
		job.UpdatedAt = now
		if uerr := s.jobRepo.UpdateCAS(ctx, job); uerr != nil {
			return nil, uerr
		}
		return nil, fmt.Errorf("submit generation job: %w", err)
	}

	job.ProviderJobID = &providerJobID
	job.Status = entity.JobStatusAwaitingResult
	job.UpdatedAt = now
	if err := s.jobRepo.UpdateCAS(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id uint64) (*entity.Job, error) {
	job, err := s.jobRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *JobService) ListJobs(ctx context.Context, req *types.ListJobsRequest) ([]*entity.Job, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.JobFilter{
		RequestID:     strings.TrimSpace(req.RequestID),
		CallerService: strings.TrimSpace(req.CallerService),
		HasStatus:     req.HasStatus,
		Status:        req.Status,
		Limit:         limit,
		Offset:        req.Offset,
	}

	return s.jobRepo.List(ctx, filter)
}

// FailJob is the privileged operator override: it forces any non-terminal
// job to Failed.
func (s *JobService) FailJob(ctx context.Context, req *types.FailJobRequest) (*entity.Job, error) {
	job, err := s.jobRepo.FindByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if entity.JobStatusTerminal(job.Status) {
		return nil, fmt.Errorf("%w: job is already terminal", ErrInvalidStatus)
	}

	detail := truncate(req.Reason, 1024)
	job.Status = entity.JobStatusFailed
	job.ProviderError = &detail
	job.UpdatedAt = time.Now().UTC()

	if err := s.jobRepo.UpdateCAS(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return job, nil
}

// ApplyJobEvent drives the job state machine with a verified provider event.
// Late and duplicate events are absorbed silently; events that contradict
// recorded history raise an integrity alert and return ErrStateIntegrity.
func (s *JobService) ApplyJobEvent(ctx context.Context, event *provider.Event) error {
	if event == nil || strings.TrimSpace(event.ProviderJobID) == "" {
		return ErrInvalidRequest
	}

	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		job, err := s.jobRepo.FindByProviderJobID(ctx, event.ProviderJobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotFound
		}

		changed, enqueue, err := s.applyJobTransition(ctx, job, event)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		job.UpdatedAt = time.Now().UTC()
		err = s.jobRepo.UpdateCAS(ctx, job)
		if err == nil {
			if enqueue {
				return s.queue.Enqueue(ctx, worker.Task{JobID: job.ID, ResultURL: derefOrEmpty(job.ResultAssetURL)})
			}
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func (s *JobService) applyJobTransition(ctx context.Context, job *entity.Job, event *provider.Event) (changed bool, enqueue bool, err error) {
	switch event.Type {
	case provider.EventJobAccepted:
		if job.Status != entity.JobStatusSubmitted {
			return false, false, nil
		}
		if job.ProviderJobID == nil {
			id := event.ProviderJobID
			job.ProviderJobID = &id
		}
		job.Status = entity.JobStatusAwaitingResult
		return true, false, nil

	case provider.EventJobCompleted:
		if job.Status == entity.JobStatusFailed {
			s.alerts.IntegrityViolation(ctx, "job", event.ProviderJobID, "completion event for a failed job")
			return false, false, ErrStateIntegrity
		}
		if job.ResultAssetURL != nil {
			if *job.ResultAssetURL != event.ResultAssetURL {
				s.alerts.IntegrityViolation(ctx, "job", event.ProviderJobID, "completion event with a different result URL")
				return false, false, ErrStateIntegrity
			}
			return false, false, nil
		}
		if job.Status != entity.JobStatusSubmitted && job.Status != entity.JobStatusAwaitingResult {
			return false, false, nil
		}
		url := event.ResultAssetURL
		job.Status = entity.JobStatusResultReady
		job.ResultAssetURL = &url
		return true, true, nil

	case provider.EventJobFailed:
		if job.Status == entity.JobStatusCompleted {
			s.alerts.IntegrityViolation(ctx, "job", event.ProviderJobID, "failure event for a completed job")
			return false, false, ErrStateIntegrity
		}
		if job.Status == entity.JobStatusFailed {
			return false, false, nil
		}
		detail := truncate(event.ErrorDetail, 1024)
		if detail == "" {
			detail = "provider reported failure"
		}
		job.Status = entity.JobStatusFailed
		job.ProviderError = &detail
		return true, false, nil

	default:
		return false, false, ErrInvalidRequest
	}
}

// HandlePersistTask runs on the worker pool: it downloads the result asset,
// stores it, and completes or fails the job. Errors that would benefit from
// a redelivery are returned; everything else is settled on the job row.
func (s *JobService) HandlePersistTask(ctx context.Context, task worker.Task) error {
	job, err := s.jobRepo.FindByID(ctx, task.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	if job.Status != entity.JobStatusResultReady && job.Status != entity.JobStatusPersisting {
		return nil
	}
	if job.ResultAssetURL == nil || strings.TrimSpace(*job.ResultAssetURL) == "" {
		return s.failPersist(ctx, job, 0, "job has no result URL to persist")
	}

	if job.Status == entity.JobStatusResultReady {
		job.Status = entity.JobStatusPersisting
		job.UpdatedAt = time.Now().UTC()
		if err := s.jobRepo.UpdateCAS(ctx, job); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// Another worker claimed the task.
				return nil
			}
			return err
		}
	}

	ref, digest, attempts, err := s.assets.Persist(ctx, *job.ResultAssetURL)
	if err != nil {
		return s.failPersist(ctx, job, attempts, truncate(err.Error(), 1024))
	}

	job.Status = entity.JobStatusCompleted
	job.PersistedAssetRef = &ref
	job.ResultDigest = &digest
	job.Attempts = attempts
	job.UpdatedAt = time.Now().UTC()

	if err := s.jobRepo.UpdateCAS(ctx, job); err != nil {
		return err
	}
	return nil
}

func (s *JobService) failPersist(ctx context.Context, job *entity.Job, attempts int32, detail string) error {
	job.Status = entity.JobStatusFailed
	job.ProviderError = &detail
	job.Attempts = attempts
	job.UpdatedAt = time.Now().UTC()

	if err := s.jobRepo.UpdateCAS(ctx, job); err != nil {
		return err
	}

	s.alerts.JobDeadLettered(ctx, fmt.Sprintf("%d", job.ID), detail)
	return nil
}

func (s *JobService) batchSize() int32 {
	if s.sweepsCfg.BatchSize > 0 {
		return s.sweepsCfg.BatchSize
	}
	return defaultBatchSize
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
