package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/model"
)

// recordKeyPrefix namespaces replication records inside the badger
// keyspace
const recordKeyPrefix = "record:"

// BadgerRecordStore is the durable record store: badger beneath a TTL
// read cache. Records carry badger's native TTL so archival expiry
// needs no sweeper.
type BadgerRecordStore struct {
	db     *badger.DB
	cache  *ttlcache.Cache[string, *model.ReplicationRecord]
	ttl    time.Duration
	logger *zap.Logger
}

// BadgerRecordStoreConfig holds record store configuration
type BadgerRecordStoreConfig struct {
	Dir string
	// RecordTTL expires records from disk; zero keeps them forever
	RecordTTL time.Duration
	// CacheTTL bounds the hot read cache; zero disables caching
	CacheTTL time.Duration
}

// NewBadgerRecordStore opens the store, creating the directory as
// needed
func NewBadgerRecordStore(cfg BadgerRecordStoreConfig, logger *zap.Logger) (*BadgerRecordStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(badgerZapLogger{logger.Named("badger")}).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	s := &BadgerRecordStore{
		db:     db,
		ttl:    cfg.RecordTTL,
		logger: logger,
	}

	if cfg.CacheTTL > 0 {
		// Touch-on-hit is disabled so cached records age out on the
		// same schedule everywhere regardless of read traffic.
		s.cache = ttlcache.New[string, *model.ReplicationRecord](
			ttlcache.WithTTL[string, *model.ReplicationRecord](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *model.ReplicationRecord](),
		)
		go s.cache.Start()
	}

	return s, nil
}

func recordKey(entryID string) []byte {
	return []byte(recordKeyPrefix + entryID)
}

// Put writes a record, replacing any previous attempt for the entry
func (s *BadgerRecordStore) Put(ctx context.Context, record *model.ReplicationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(recordKey(record.EntryID), data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(record.EntryID, record, ttlcache.DefaultTTL)
	}
	return nil
}

// Get returns the record for an entry ID
func (s *BadgerRecordStore) Get(ctx context.Context, entryID string) (*model.ReplicationRecord, error) {
	if s.cache != nil {
		if item := s.cache.Get(entryID); item != nil {
			return item.Value(), nil
		}
	}

	var record model.ReplicationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(entryID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(entryID, &record, ttlcache.DefaultTTL)
	}
	return &record, nil
}

// List returns up to limit records in key order
func (s *BadgerRecordStore) List(ctx context.Context, limit int) ([]*model.ReplicationRecord, error) {
	var records []*model.ReplicationRecord
	prefix := []byte(recordKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record model.ReplicationRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// Delete removes the record for an entry ID
func (s *BadgerRecordStore) Delete(ctx context.Context, entryID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(entryID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	if s.cache != nil {
		s.cache.Delete(entryID)
	}
	return nil
}

// Ping verifies the store is usable
func (s *BadgerRecordStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("record store is closed")
	}
	return nil
}

// Close stops the cache and closes badger
func (s *BadgerRecordStore) Close() error {
	if s.cache != nil {
		s.cache.Stop()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close record store: %w", err)
	}
	return nil
}

// badgerZapLogger adapts zap to badger's logger interface
type badgerZapLogger struct {
	l *zap.Logger
}

func (b badgerZapLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerZapLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerZapLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerZapLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
