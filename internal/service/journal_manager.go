package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/metrics"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/storage/fstree"
)

// JournalManager is the write path for filesystem metadata. Every
// mutation becomes a journal entry that is durably appended before the
// call returns; only then is it folded into the materialized tree.
// The journal is the source of truth and the tree is a pure function
// of it, so recovery is checkpoint restore plus tail replay.
type JournalManager struct {
	nodeID      string
	journal     *JournalService
	tree        *fstree.Tree
	clock       *VectorClockService
	checkpoints *CheckpointService

	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu keeps clock stamping, offset assignment, and tree application
	// in the same order. Without it two concurrent appends could land
	// in the journal in the opposite order of their clocks.
	mu sync.Mutex
}

// NewJournalManager creates a journal manager
func NewJournalManager(journal *JournalService, tree *fstree.Tree, clock *VectorClockService, checkpoints *CheckpointService, logger *zap.Logger, m *metrics.Metrics) *JournalManager {
	return &JournalManager{
		nodeID:      clock.NodeID(),
		journal:     journal,
		tree:        tree,
		clock:       clock,
		checkpoints: checkpoints,
		logger:      logger,
		metrics:     m,
	}
}

// Append records a local filesystem mutation. The entry is stamped
// with a fresh vector clock, written durably, and applied to the tree.
// A durability failure aborts the operation; the entry is not applied
// anywhere and the caller must surface the error.
func (jm *JournalManager) Append(ctx context.Context, opType model.OpType, path string, payload model.EntryPayload) (*model.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError("append aborted", err)
	}
	if !opType.Valid() {
		return nil, errors.InvalidArgument("unknown operation type", nil).
			WithDetail("op_type", string(opType))
	}
	if path == "" {
		return nil, errors.InvalidArgument("path must not be empty", nil)
	}
	if opType == model.OpRename && payload.TargetPath == "" {
		return nil, errors.InvalidArgument("rename requires a target path", nil).
			WithDetail("path", path)
	}

	started := time.Now()

	jm.mu.Lock()
	defer jm.mu.Unlock()

	entry := &model.JournalEntry{
		EntryID:   uuid.NewString(),
		Timestamp: started.UTC(),
		OpType:    opType,
		Path:      path,
		Payload:   payload,
		Status:    model.EntryPending,
		Clock:     jm.clock.Stamp(),
		Origin:    jm.nodeID,
	}

	if err := jm.journal.Append(entry); err != nil {
		entry.Status = model.EntryFailed
		if jm.metrics != nil {
			jm.metrics.RecordAppend(string(opType), "failure", time.Since(started).Seconds())
		}
		jm.logger.Error("Durable append failed",
			zap.String("entry_id", entry.EntryID),
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}

	entry.Status = model.EntryCommitted
	jm.tree.Apply(entry)

	if jm.metrics != nil {
		jm.metrics.RecordAppend(string(opType), "success", time.Since(started).Seconds())
		jm.metrics.SetJournalOffset(entry.Offset)
	}
	jm.logger.Debug("Entry journaled",
		zap.String("entry_id", entry.EntryID),
		zap.Uint64("offset", entry.Offset),
		zap.String("op_type", string(opType)),
		zap.String("path", path))

	return entry, nil
}

// ApplyReplicated journals a remote entry under this node's own offset
// sequence and applies it to the tree. The entry keeps its identity:
// ID, clock, origin, and timestamp are the originator's. Only the
// offset is local.
func (jm *JournalManager) ApplyReplicated(entry *model.JournalEntry) (uint64, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	local := *entry
	local.Offset = 0
	local.Status = model.EntryCommitted

	if err := jm.journal.Append(&local); err != nil {
		if jm.metrics != nil {
			jm.metrics.RecordAppend(string(local.OpType), "failure", 0)
		}
		return 0, err
	}

	jm.tree.Apply(&local)

	if jm.metrics != nil {
		jm.metrics.RecordAppend(string(local.OpType), "success", 0)
		jm.metrics.SetJournalOffset(local.Offset)
	}
	return local.Offset, nil
}

// GetFSState returns a read-only deep copy of the materialized
// filesystem state as of the last applied entry
func (jm *JournalManager) GetFSState() *model.Checkpoint {
	return jm.tree.Snapshot()
}

// GetPath returns the metadata for one path
func (jm *JournalManager) GetPath(path string) (*model.FileMetadata, error) {
	meta, ok := jm.tree.Get(path)
	if !ok {
		return nil, errors.PathNotFound(path)
	}
	return meta, nil
}

// LastOffset returns the journal's last assigned offset
func (jm *JournalManager) LastOffset() uint64 {
	return jm.journal.LastOffset()
}

// Replay streams journaled entries with offsets strictly greater than
// fromOffset in offset order
func (jm *JournalManager) Replay(fromOffset uint64, fn func(*model.JournalEntry) error) error {
	return jm.journal.Replay(fromOffset, fn)
}

// Recover rebuilds the tree and clock on startup: restore the latest
// checkpoint, then replay the journal tail past it. Replaying the same
// tail again converges to the same state.
func (jm *JournalManager) Recover() error {
	started := time.Now()

	cp, err := jm.checkpoints.LoadLatest()
	if err != nil {
		return err
	}
	if cp != nil {
		jm.tree.Restore(cp)
		jm.clock.Restore(cp.Clock)
		jm.logger.Info("Checkpoint restored",
			zap.Uint64("offset", cp.Offset),
			zap.Int("files", len(cp.Files)))
	}

	replayed := 0
	err = jm.journal.Replay(jm.tree.AppliedOffset(), func(entry *model.JournalEntry) error {
		jm.tree.Apply(entry)
		jm.clock.Restore(entry.Clock)
		replayed++
		return nil
	})
	if err != nil {
		return err
	}

	if jm.metrics != nil {
		jm.metrics.SetJournalOffset(jm.tree.AppliedOffset())
	}
	jm.logger.Info("Recovery complete",
		zap.Int("entries_replayed", replayed),
		zap.Uint64("applied_offset", jm.tree.AppliedOffset()),
		zap.Int("files", jm.tree.Len()),
		zap.Duration("took", time.Since(started)))
	return nil
}
