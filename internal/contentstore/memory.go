package contentstore

import (
	"context"
	"sync"

	"github.com/stratafs/strata/internal/errors"
)

// Memory is an in-memory content store for tests and as a stand-in
// backend for tiers without a real one wired
type Memory struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	offline bool
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// SetOffline toggles failure mode; while offline every call errors.
// Used to exercise tier-unavailable handling.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Put stores data under its content ID
func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return "", errors.InternalError("content store offline", nil)
	}

	id := ContentID(data)
	if _, ok := m.blobs[id]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[id] = cp
	}
	return id, nil
}

// Get returns the bytes for a content ID
func (m *Memory) Get(ctx context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return nil, errors.InternalError("content store offline", nil)
	}

	data, ok := m.blobs[contentID]
	if !ok {
		return nil, errors.ContentNotFound(contentID)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Exists reports whether the content ID is stored
func (m *Memory) Exists(ctx context.Context, contentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return false, errors.InternalError("content store offline", nil)
	}

	_, ok := m.blobs[contentID]
	return ok, nil
}

// Delete drops a blob; used when a migration empties a tier
func (m *Memory) Delete(ctx context.Context, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return errors.InternalError("content store offline", nil)
	}

	delete(m.blobs, contentID)
	return nil
}

// Len returns the number of stored blobs
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
