package storage

import (
	"context"
	"errors"
	"sync"
)

// Mock is an in-memory Store for tests and local development. Safe for
// concurrent use.
type Mock struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures int
}

// NewMock creates an empty in-memory Store.
func NewMock() *Mock {
	return &Mock{objects: map[string][]byte{}}
}

// FailNext makes the next n uploads fail, exercising retry paths.
func (m *Mock) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Upload implements Store.
func (m *Mock) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return "", errors.New("storage unavailable")
	}
	m.objects[key] = data
	return "mock://storage/" + key, nil
}

// Object returns stored bytes for assertions.
func (m *Mock) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Len reports the number of stored objects.
func (m *Mock) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
