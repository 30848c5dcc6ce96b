// Package imagegen defines the image-generation port and its Gemini and
// mock implementations.
package imagegen

import (
	"context"
	"errors"

	"github.com/storyloom/storyloom/pkg/models"
)

// Sentinel errors the pipeline uses to pick a retry schedule.
var (
	// ErrRateLimited means the provider throttled the request; retry on
	// the slower schedule.
	ErrRateLimited = errors.New("image provider rate limited")
	// ErrUnsafeImage means the provider's own safety filter rejected the
	// output.
	ErrUnsafeImage = errors.New("image rejected by provider safety filter")
)

// Image is one generated illustration.
type Image struct {
	Data        []byte
	ContentType string
}

// Client is the image-generation port. Implementations must honor context
// cancellation; the pipeline applies per-call timeouts.
type Client interface {
	Generate(ctx context.Context, prompt models.ImagePrompt) (*Image, error)
}
