package store

import (
	"context"
	"errors"

	"github.com/stratafs/strata/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrClosed is returned for operations on a closed store
var ErrClosed = errors.New("store closed")

// RecordStore persists replication records keyed by journal entry ID.
// The replication manager is the only writer; a record is written once
// per attempt and read until its TTL expires it.
type RecordStore interface {
	Put(ctx context.Context, record *model.ReplicationRecord) error
	Get(ctx context.Context, entryID string) (*model.ReplicationRecord, error)
	// List returns up to limit records in key order; limit <= 0 means all
	List(ctx context.Context, limit int) ([]*model.ReplicationRecord, error)
	Delete(ctx context.Context, entryID string) error
	Ping(ctx context.Context) error
	Close() error
}
