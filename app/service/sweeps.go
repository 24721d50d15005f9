package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/worker"
)

// RunReconcileBatch polls the generation provider for jobs that have been
// awaiting a result longer than the configured threshold. It is the fallback
// for lost webhooks; results flow through the same state machine the
// dispatcher uses.
func (s *JobService) RunReconcileBatch(ctx context.Context) error {
	now := time.Now().UTC()
	before := now.Add(-s.sweepsCfg.ReconcileStaleAfter)
	items, err := s.jobRepo.ListStaleAwaitingResult(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, job := range items {
		if job == nil || job.ProviderJobID == nil || strings.TrimSpace(*job.ProviderJobID) == "" {
			continue
		}

		event, err := s.generation.GetJobStatus(ctx, strings.TrimSpace(*job.ProviderJobID))
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if event == nil {
			// Still running on the provider side.
			continue
		}

		if err := s.ApplyJobEvent(ctx, event); err != nil && !errors.Is(err, ErrStateIntegrity) {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return keepFirstErr(firstErr, s.requeueStaleUnpersisted(ctx, before))
}

// requeueStaleUnpersisted re-enqueues persist tasks for jobs stuck in
// ResultReady or Persisting. The queue hands a task to exactly one worker,
// so a lost enqueue or a worker crash otherwise strands the job one step
// short of terminal. Duplicate tasks are harmless: the worker's CAS claim
// absorbs them.
func (s *JobService) requeueStaleUnpersisted(ctx context.Context, before time.Time) error {
	items, err := s.jobRepo.ListStaleUnpersisted(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, job := range items {
		if job == nil {
			continue
		}
		task := worker.Task{JobID: job.ID, ResultURL: derefOrEmpty(job.ResultAssetURL)}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunPruneBatch deletes settled webhook audit rows older than the retention
// window.
func (s *DispatchService) RunPruneBatch(ctx context.Context) error {
	retention := s.sweepsCfg.EventRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	batchSize := s.sweepsCfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := s.webhookRepo.PruneOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("pruned webhook events")
	}
	return nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
