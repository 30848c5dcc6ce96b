package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

const jobColumns = `id, user_key, idempotency_key, spec, status, progress,
	current_step, moderation_input, moderation_output, error_code,
	error_message, retry_count, last_retry_at, pod_id, created_at, updated_at`

// CreateJob inserts a new queued job. The spec is serialized here so
// callers only populate Job.Spec.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	job.SpecJSON = specJSON

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_key, idempotency_key, spec, status, progress, current_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.UserKey, job.IdempotencyKey, job.SpecJSON,
		job.Status, job.Progress, job.CurrentStep,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if err := hydrateSpec(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FindJobByIdempotencyKey returns the existing job for a (user, key) pair,
// or ErrNotFound when no prior admission used that key.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, userKey, idempotencyKey string) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`SELECT `+jobColumns+` FROM jobs WHERE user_key = $1 AND idempotency_key = $2`,
		userKey, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if err := hydrateSpec(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextQueuedJob atomically claims the oldest queued job for the given
// pod, flipping it to running. FOR UPDATE SKIP LOCKED keeps concurrent
// workers from claiming the same row. Returns ErrNotFound when the queue
// is empty.
func (s *Store) ClaimNextQueuedJob(ctx context.Context, podID string) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		models.JobStatusQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, pod_id = $2, updated_at = now()
		WHERE id = $3`,
		models.JobStatusRunning, podID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s running: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobStatusRunning
	job.PodID = &podID
	if err := hydrateSpec(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// TouchJob refreshes updated_at as a liveness heartbeat while a worker
// holds the job. A no-op once the job left running.
func (s *Store) TouchJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job %s: %w", id, err)
	}
	return nil
}

// UpdateJobProgress advances progress and the current step label.
// GREATEST keeps progress monotone even if stages report out of order.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $1), current_step = $2, updated_at = now()
		WHERE id = $3`,
		progress, step, id)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return nil
}

// MarkJobDone transitions a running job to done at 100%.
func (s *Store) MarkJobDone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, progress = 100, current_step = '', error_code = NULL,
		    error_message = NULL, updated_at = now()
		WHERE id = $2 AND status = $3`,
		models.JobStatusDone, id, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %s done: %w", id, err)
	}
	return expectOneRow(res, id)
}

// MarkJobFailed transitions a job to failed with a stable error code and a
// human-readable message. Idempotent against already-terminal jobs; reports
// whether this call performed the transition, so the caller knows whether
// the terminal side effects (the refund) are its responsibility.
func (s *Store) MarkJobFailed(ctx context.Context, id string, code models.ErrorCode, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $4 AND status NOT IN ($5, $6)`,
		models.JobStatusFailed, string(code), truncate(message, 300),
		id, models.JobStatusDone, models.JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequeueJob flips a stale running job back to queued, bumping its retry
// counter. The updated_at guard makes this a compare-and-swap: a job that
// heartbeated after the sweep selected it is left alone. Reports whether
// the swap happened.
func (s *Store) RequeueJob(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, pod_id = NULL, retry_count = retry_count + 1,
		    last_retry_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3 AND updated_at < $4`,
		models.JobStatusQueued, id, models.JobStatusRunning, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailStaleJob fails a running job that exhausted its retries, guarded by
// the same updated_at compare-and-swap as RequeueJob.
func (s *Store) FailStaleJob(ctx context.Context, id string, staleBefore time.Time, code models.ErrorCode, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $4 AND status = $5 AND updated_at < $6`,
		models.JobStatusFailed, string(code), truncate(message, 300),
		id, models.JobStatusRunning, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to fail stale job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListStaleRunningJobs returns running jobs whose last heartbeat is older
// than the cutoff.
func (s *Store) ListStaleRunningJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		models.JobStatusRunning, cutoff)
}

// ListSLABreachedJobs returns non-terminal jobs created before the cutoff,
// i.e. jobs that exceeded the end-to-end SLA.
func (s *Store) ListSLABreachedJobs(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC`,
		models.JobStatusQueued, models.JobStatusRunning, cutoff)
}

// FailSLABreachedJob fails a non-terminal job past its deadline.
func (s *Store) FailSLABreachedJob(ctx context.Context, id string, code models.ErrorCode, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_code = $2, error_message = $3, updated_at = now()
		WHERE id = $4 AND status IN ($5, $6)`,
		models.JobStatusFailed, string(code), truncate(message, 300),
		id, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequeueOrphanedJobs resets running jobs claimed by the given pod back to
// queued. Called once at startup to recover jobs a previous incarnation of
// this pod abandoned; jobs orphaned by other dead pods are the monitor's
// business.
func (s *Store) RequeueOrphanedJobs(ctx context.Context, podID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, pod_id = NULL, updated_at = now()
		WHERE status = $2 AND pod_id = $3`,
		models.JobStatusQueued, models.JobStatusRunning, podID)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountJobsByStatus counts jobs in one status.
func (s *Store) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s jobs: %w", status, err)
	}
	return n, nil
}

// CountJobsSince counts jobs a user created at or after the given instant.
// Backs the daily admission cap.
func (s *Store) CountJobsSince(ctx context.Context, userKey string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE user_key = $1 AND created_at >= $2`,
		userKey, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count user jobs: %w", err)
	}
	return n, nil
}

// CountPendingJobs counts queued plus running jobs across all users.
// Backs the overload guard.
func (s *Store) CountPendingJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status IN ($1, $2)`,
		models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// CountJobsByStatusSince counts jobs that reached a status at or after the
// cutoff, using updated_at as the transition timestamp. Only meaningful
// for terminal statuses, which no later write touches.
func (s *Store) CountJobsByStatusSince(ctx context.Context, status models.JobStatus, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND updated_at >= $2`,
		status, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent %s jobs: %w", status, err)
	}
	return n, nil
}

// CountStuckRunningJobs counts running jobs whose last heartbeat is older
// than the cutoff. Backs the detailed health report; the monitor does the
// actual recovery.
func (s *Store) CountStuckRunningJobs(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM jobs WHERE status = $1 AND updated_at < $2`,
		models.JobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck jobs: %w", err)
	}
	return n, nil
}

// SaveModerationVerdict persists a moderation verdict on the job row.
// Stage identifies which column to fill: "input" or "output".
func (s *Store) SaveModerationVerdict(ctx context.Context, id, stage string, verdict models.ModerationResult) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal moderation verdict: %w", err)
	}
	column := "moderation_input"
	if stage == "output" {
		column = "moderation_output"
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET `+column+` = $1, updated_at = now() WHERE id = $2`,
		payload, id)
	if err != nil {
		return fmt.Errorf("failed to save moderation verdict for job %s: %w", id, err)
	}
	return nil
}

func (s *Store) listJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	for i := range jobs {
		if err := hydrateSpec(&jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func hydrateSpec(job *models.Job) error {
	if len(job.SpecJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.SpecJSON, &job.Spec); err != nil {
		return fmt.Errorf("failed to unmarshal spec for job %s: %w", job.ID, err)
	}
	return nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
