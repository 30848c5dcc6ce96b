// Package admission implements the intake guardrails run before a job is
// queued: idempotency replay, per-user rate limiting, the daily cap, the
// system overload guard and the credit debit.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyloom/storyloom/pkg/clock"
	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/credits"
	"github.com/storyloom/storyloom/pkg/models"
	"github.com/storyloom/storyloom/pkg/pipeline"
	"github.com/storyloom/storyloom/pkg/ratelimit"
	"github.com/storyloom/storyloom/pkg/store"
)

// Error is an admission rejection carrying the stable error code the API
// maps to an HTTP status.
type Error struct {
	Code       models.ErrorCode
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Service runs the guardrail chain and enqueues accepted jobs.
type Service struct {
	store   *store.Store
	ledger  *credits.Ledger
	limiter *ratelimit.Limiter
	cfg     *config.AdmissionConfig
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates an admission Service.
func New(st *store.Store, ledger *credits.Ledger, limiter *ratelimit.Limiter, cfg *config.AdmissionConfig, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		ledger:  ledger,
		limiter: limiter,
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With("component", "admission"),
	}
}

// Submit runs the guardrail chain for a new book job. On success the
// returned job is queued and one credit has been debited. The bool is
// true when an idempotency replay returned an existing job instead.
//
// Guardrail order matters: the idempotency probe runs before the rate
// limiter so a client retrying a timed-out request is never punished for
// it, and the debit is last so earlier rejections never touch the ledger.
func (s *Service) Submit(ctx context.Context, userKey string, idempotencyKey *string, spec models.BookSpec) (*models.Job, bool, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, false, err
	}

	// An empty key is no key; storing it would collide on the unique index.
	if idempotencyKey != nil && *idempotencyKey == "" {
		idempotencyKey = nil
	}
	if idempotencyKey != nil {
		existing, err := s.store.FindJobByIdempotencyKey(ctx, userKey, *idempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	if err := s.checkRateLimit(ctx, userKey); err != nil {
		return nil, false, err
	}
	if err := s.checkDailyLimit(ctx, userKey); err != nil {
		return nil, false, err
	}
	if err := s.checkOverload(ctx); err != nil {
		return nil, false, err
	}

	job := &models.Job{
		ID:             models.NewJobID(s.clock.Now()),
		UserKey:        userKey,
		IdempotencyKey: idempotencyKey,
		Spec:           spec,
		Status:         models.JobStatusQueued,
	}
	if spec.Regen != nil {
		job.ID = models.NewRegenJobID(s.clock.Now())
	}

	existing, err := s.debitAndEnqueue(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.logger.InfoContext(ctx, "Idempotent submission raced, replaying winner",
			slog.String("job_id", existing.ID),
			slog.String("user_key", userKey))
		return existing, true, nil
	}

	s.logger.InfoContext(ctx, "Job admitted",
		slog.String("job_id", job.ID),
		slog.String("user_key", userKey),
		slog.Bool("regen", spec.Regen != nil))
	return job, false, nil
}

func (s *Service) checkRateLimit(ctx context.Context, userKey string) error {
	decision, err := s.limiter.Check(ctx, userKey)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &Error{
			Code:       models.ErrCodeRateLimited,
			Message:    "too many requests, slow down",
			RetryAfter: decision.RetryAfter,
		}
	}
	return nil
}

func (s *Service) checkDailyLimit(ctx context.Context, userKey string) error {
	startOfDay := s.clock.Now().UTC().Truncate(24 * time.Hour)
	count, err := s.store.CountJobsSince(ctx, userKey, startOfDay)
	if err != nil {
		return err
	}
	if count >= s.cfg.DailyJobLimitPerUser {
		return &Error{
			Code:    models.ErrCodeDailyLimit,
			Message: fmt.Sprintf("daily limit of %d books reached", s.cfg.DailyJobLimitPerUser),
		}
	}
	return nil
}

func (s *Service) checkOverload(ctx context.Context) error {
	pending, err := s.store.CountPendingJobs(ctx)
	if err != nil {
		return err
	}
	if pending >= s.cfg.MaxPendingJobs {
		return &Error{
			Code:    models.ErrCodeOverloaded,
			Message: "the service is at capacity, try again shortly",
		}
	}
	return nil
}

// debitAndEnqueue charges the credit, then inserts the job. An insert
// failure rolls the debit back through an idempotent refund keyed on the
// job id. A non-nil first return is the job a concurrent submission with
// the same idempotency key inserted between the probe and our insert; the
// caller replays it.
func (s *Service) debitAndEnqueue(ctx context.Context, job *models.Job) (*models.Job, error) {
	err := s.ledger.Debit(ctx, job.UserKey, pipeline.CostPerBook, job.ID, "book generation")
	if errors.Is(err, credits.ErrInsufficientCredits) {
		return nil, &Error{
			Code:    models.ErrCodeNoCredits,
			Message: "not enough credits to generate a book",
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if refundErr := s.ledger.Refund(ctx, job.UserKey, pipeline.CostPerBook, job.ID, credits.RefundReasonAdmissionRollback); refundErr != nil {
			s.logger.ErrorContext(ctx, "Failed to roll back admission debit",
				slog.String("job_id", job.ID),
				slog.String("error", refundErr.Error()))
		}
		if job.IdempotencyKey != nil && store.IsUniqueViolation(err) {
			existing, findErr := s.store.FindJobByIdempotencyKey(ctx, job.UserKey, *job.IdempotencyKey)
			if findErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil, nil
}
