package blob

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store for tests and credential-free development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]string)}
}

// Get returns the content at ref, or ErrNotFound.
func (m *Memory) Get(_ context.Context, ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.blobs[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return content, nil
}

// Put writes content at ref, overwriting any previous version.
func (m *Memory) Put(_ context.Context, ref string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[ref] = content
	return nil
}

// Seed loads multiple refs at once. Convenience for tests and dev bootstrap.
func (m *Memory) Seed(blobs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ref, content := range blobs {
		m.blobs[ref] = content
	}
}
