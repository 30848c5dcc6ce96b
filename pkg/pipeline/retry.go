package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

// Backoff schedules per stage and failure class. The schedule length
// bounds the retries: an empty schedule means a single attempt.
var (
	storyBackoff          = []time.Duration{2 * time.Second, 5 * time.Second}
	characterBackoff      = []time.Duration{2 * time.Second}
	promptBackoff         = []time.Duration{2 * time.Second}
	storageBackoff        = []time.Duration{2 * time.Second}
	imageFailureBackoff   = []time.Duration{2 * time.Second, 5 * time.Second, 12 * time.Second}
	imageRateLimitBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
)

// backoffPolicy selects the retry schedule for a classified error.
type backoffPolicy func(*Error) []time.Duration

func storyPolicy(*Error) []time.Duration     { return storyBackoff }
func characterPolicy(*Error) []time.Duration { return characterBackoff }
func promptPolicy(*Error) []time.Duration    { return promptBackoff }
func storagePolicy(*Error) []time.Duration   { return storageBackoff }

// moderationPolicy gives safety classifications a single attempt; a gate
// that cannot answer fails the job rather than stalling it.
func moderationPolicy(*Error) []time.Duration { return nil }

func imagePolicy(perr *Error) []time.Duration {
	if perr.Code == models.ErrCodeImageRateLimit {
		return imageRateLimitBackoff
	}
	return imageFailureBackoff
}

// runStep executes fn with a per-attempt timeout, retrying retryable
// failures on the schedule the policy selects. The last classified error
// is returned when the schedule is exhausted.
func (o *Orchestrator) runStep(
	ctx context.Context,
	timeout time.Duration,
	classify func(error) *Error,
	policy backoffPolicy,
	fn func(ctx context.Context) error,
) error {
	attempt := 0
	for {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(stepCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The job context is gone; don't mask shutdown as a stage error.
			return ctx.Err()
		}

		perr := classify(err)
		schedule := policy(perr)
		if !perr.Retryable || attempt >= len(schedule) {
			return perr
		}

		delay := schedule[attempt]
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.sleep(delay):
		}
	}
}

// sleep is swapped in tests to avoid real waits.
func defaultSleep(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// asPipelineError converts any error into a coded pipeline error.
func asPipelineError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(models.ErrCodeSLABreach, "generation exceeded the time budget")
	}
	if errors.Is(err, context.Canceled) {
		return NewError(models.ErrCodeUnknown, "job interrupted")
	}
	return NewError(models.ErrCodeUnknown, "%v", err)
}
