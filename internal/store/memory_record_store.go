package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stratafs/strata/internal/model"
)

// MemoryRecordStore is an in-memory RecordStore used by tests and
// single-process setups
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*model.ReplicationRecord
	expires map[string]time.Time
	ttl     time.Duration
	closed  bool
}

// NewMemoryRecordStore creates an empty store; ttl of zero disables
// expiry
func NewMemoryRecordStore(ttl time.Duration) *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*model.ReplicationRecord),
		expires: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Put stores a record
func (s *MemoryRecordStore) Put(ctx context.Context, record *model.ReplicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	cp := *record
	s.records[record.EntryID] = &cp
	if s.ttl > 0 {
		s.expires[record.EntryID] = time.Now().Add(s.ttl)
	}
	return nil
}

// Get returns the record for an entry ID
func (s *MemoryRecordStore) Get(ctx context.Context, entryID string) (*model.ReplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	record, ok := s.records[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	if exp, has := s.expires[entryID]; has && time.Now().After(exp) {
		return nil, ErrNotFound
	}

	cp := *record
	return &cp, nil
}

// List returns up to limit records ordered by entry ID
func (s *MemoryRecordStore) List(ctx context.Context, limit int) ([]*model.ReplicationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(s.records))
	now := time.Now()
	for id := range s.records {
		if exp, has := s.expires[id]; has && now.After(exp) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]*model.ReplicationRecord, 0, len(ids))
	for _, id := range ids {
		cp := *s.records[id]
		records = append(records, &cp)
	}
	return records, nil
}

// Delete removes the record for an entry ID
func (s *MemoryRecordStore) Delete(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.records, entryID)
	delete(s.expires, entryID)
	return nil
}

// Ping verifies the store is usable
func (s *MemoryRecordStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed
func (s *MemoryRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
