package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/pkg/imagegen"
	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
)

// Error is a pipeline failure carrying the stable error code exposed to
// clients. Retryable controls whether the stage runner re-attempts before
// giving up.
type Error struct {
	Code      models.ErrorCode
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a non-retryable pipeline error.
func NewError(code models.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetryable builds a retryable pipeline error.
func NewRetryable(code models.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// classifyLLMError maps raw LLM client failures onto coded errors.
func classifyLLMError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRetryable(models.ErrCodeLLMTimeout, "model call timed out")
	case errors.Is(err, llm.ErrInvalidJSON):
		return NewRetryable(models.ErrCodeLLMJSONInvalid, "model returned malformed output: %v", err)
	default:
		return NewRetryable(models.ErrCodeUnknown, "model call failed: %v", err)
	}
}

// classifyStorageError maps object store failures onto coded errors.
func classifyStorageError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRetryable(models.ErrCodeStorageUpload, "image upload timed out")
	}
	return NewRetryable(models.ErrCodeStorageUpload, "image upload failed: %v", err)
}

// classifyImageError maps raw image client failures onto coded errors.
func classifyImageError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRetryable(models.ErrCodeImageTimeout, "image generation timed out")
	case errors.Is(err, imagegen.ErrRateLimited):
		return NewRetryable(models.ErrCodeImageRateLimit, "image provider throttled the request")
	case errors.Is(err, imagegen.ErrUnsafeImage):
		return NewRetryable(models.ErrCodeSafetyOutput, "image rejected by provider safety filter")
	default:
		return NewRetryable(models.ErrCodeImageFailed, "image generation failed: %v", err)
	}
}
