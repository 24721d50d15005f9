package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrVersionConflict  = errors.New("version conflict")
)

type JobFilter struct {
	RequestID     string
	CallerService string
	HasStatus     bool
	Status        int32
	Limit         int32
	Offset        int32
}

type JobRepository struct {
	db DBTX
}

func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, request_id, caller_service, provider_job_id, status,
		source_asset_ref, result_asset_url, persisted_asset_ref, result_digest,
		provider_error, attempts, version, created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO jobs (
			request_id, caller_service, provider_job_id, status,
			source_asset_ref, result_asset_url, persisted_asset_ref, result_digest,
			provider_error, attempts, version, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		job.RequestID,
		job.CallerService,
		nullableStringValue(job.ProviderJobID),
		job.Status,
		job.SourceAssetRef,
		nullableStringValue(job.ResultAssetURL),
		nullableStringValue(job.PersistedAssetRef),
		nullableStringValue(job.ResultDigest),
		nullableStringValue(job.ProviderError),
		job.Attempts,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrJobAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	job.ID = uint64(id)
	return nil
}

// UpdateCAS persists the job only when the stored version still matches the
// version the caller loaded; the row's version is bumped on success so
// concurrent deliveries for the same job serialize instead of clobbering.
func (r *JobRepository) UpdateCAS(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE jobs SET
			provider_job_id = ?,
			status = ?,
			result_asset_url = ?,
			persisted_asset_ref = ?,
			result_digest = ?,
			provider_error = ?,
			attempts = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(job.ProviderJobID),
		job.Status,
		nullableStringValue(job.ResultAssetURL),
		nullableStringValue(job.PersistedAssetRef),
		nullableStringValue(job.ResultDigest),
		nullableStringValue(job.ProviderError),
		job.Attempts,
		job.UpdatedAt,
		job.ID,
		job.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, findErr := r.FindByID(ctx, job.ID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return ErrJobNotFound
		}
		return ErrVersionConflict
	}

	job.Version++
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uint64) (*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job := &entity.Job{}
	if err := scanJob(r.db.QueryRowContext(ctx, query, id), job); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) FindByProviderJobID(ctx context.Context, providerJobID string) (*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE provider_job_id = ? LIMIT 1`

	job := &entity.Job{}
	if err := scanJob(r.db.QueryRowContext(ctx, query, providerJobID), job); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE caller_service = ? AND request_id = ? LIMIT 1`

	job := &entity.Job{}
	if err := scanJob(r.db.QueryRowContext(ctx, query, callerService, requestID), job); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) List(ctx context.Context, filter JobFilter) ([]*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.RequestID) != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if strings.TrimSpace(filter.CallerService) != "" {
		conditions = append(conditions, "caller_service = ?")
		args = append(args, filter.CallerService)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		item := &entity.Job{}
		if err := scanJob(rows, item); err != nil {
			return nil, err
		}
		jobs = append(jobs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// ListStaleAwaitingResult feeds the reconcile sweep: jobs that were submitted
// to the provider but have not heard back past the staleness cutoff.
func (r *JobRepository) ListStaleAwaitingResult(ctx context.Context, before time.Time, limit int32) ([]*entity.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN (?, ?)
		  AND provider_job_id IS NOT NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.JobStatusSubmitted, entity.JobStatusAwaitingResult, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		item := &entity.Job{}
		if err := scanJob(rows, item); err != nil {
			return nil, err
		}
		jobs = append(jobs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// ListStaleUnpersisted feeds the persist recovery sweep: jobs whose result
// is ready but whose persist task was lost (enqueue failure, worker crash)
// past the staleness cutoff.
func (r *JobRepository) ListStaleUnpersisted(ctx context.Context, before time.Time, limit int32) ([]*entity.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN (?, ?)
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.JobStatusResultReady, entity.JobStatusPersisting, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		item := &entity.Job{}
		if err := scanJob(rows, item); err != nil {
			return nil, err
		}
		jobs = append(jobs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

func scanJob(scan rowScanner, job *entity.Job) error {
	var providerJobID sql.NullString
	var resultAssetURL sql.NullString
	var persistedAssetRef sql.NullString
	var resultDigest sql.NullString
	var providerError sql.NullString

	err := scan.Scan(
		&job.ID,
		&job.RequestID,
		&job.CallerService,
		&providerJobID,
		&job.Status,
		&job.SourceAssetRef,
		&resultAssetURL,
		&persistedAssetRef,
		&resultDigest,
		&providerError,
		&job.Attempts,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	job.ProviderJobID = stringPtrFromNull(providerJobID)
	job.ResultAssetURL = stringPtrFromNull(resultAssetURL)
	job.PersistedAssetRef = stringPtrFromNull(persistedAssetRef)
	job.ResultDigest = stringPtrFromNull(resultDigest)
	job.ProviderError = stringPtrFromNull(providerError)

	return nil
}
