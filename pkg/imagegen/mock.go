package imagegen

import (
	"context"
	"sync"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

// 1x1 transparent PNG, enough to exercise storage and URLs end to end.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Mock is an in-process Client returning a placeholder image. Optional
// hooks let tests inject failures per page and observe concurrency. Safe
// for concurrent use; the pipeline generates pages in parallel.
type Mock struct {
	mu sync.Mutex
	// FailFor maps a page number to the error Generate should return.
	FailFor map[int]error
	// FailTimes bounds FailFor per page: the first n calls fail, later
	// ones succeed. Pages absent from the map fail on every call.
	FailTimes map[int]int
	// Delay holds each Generate open, letting tests observe overlap.
	Delay time.Duration
	// attempts counts Generate calls per page.
	attempts    map[int]int
	inFlight    int
	maxInFlight int
}

// NewMock creates a mock Client.
func NewMock() *Mock {
	return &Mock{FailFor: map[int]error{}, FailTimes: map[int]int{}, attempts: map[int]int{}}
}

// Generate implements Client.
func (m *Mock) Generate(ctx context.Context, prompt models.ImagePrompt) (*Image, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.attempts[prompt.Page]++
	err := m.FailFor[prompt.Page]
	if err != nil {
		if n, bounded := m.FailTimes[prompt.Page]; bounded && m.attempts[prompt.Page] > n {
			err = nil
		}
	}
	delay := m.Delay
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &Image{Data: placeholderPNG, ContentType: "image/png"}, nil
}

// AttemptsFor reports how many times Generate was called for a page.
func (m *Mock) AttemptsFor(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[page]
}

// MaxInFlight reports the high-water mark of concurrent Generate calls.
func (m *Mock) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}
