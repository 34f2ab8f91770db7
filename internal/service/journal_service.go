package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/storage/segment"
)

// JournalService owns the append-only journal. It assigns monotonic
// offsets, persists entries through the segment writer, and replays
// them in offset order. Durability is the contract: Append returns
// only after the entry is on disk, and a write failure is a hard
// error for the caller to surface, not to swallow.
type JournalService struct {
	writer *segment.Writer
	reader *segment.Reader
	dir    string
	logger *zap.Logger

	mu         sync.Mutex
	nextOffset uint64
}

// JournalConfig holds journal service configuration
type JournalConfig struct {
	Dir         string
	SegmentSize int64
	SyncWrites  bool
}

// NewJournalService opens the journal directory and recovers the next
// offset from the last persisted entry
func NewJournalService(cfg JournalConfig, logger *zap.Logger) (*JournalService, error) {
	writer, err := segment.NewWriter(segment.WriterConfig{
		Dir:         cfg.Dir,
		SegmentSize: cfg.SegmentSize,
		SyncWrites:  cfg.SyncWrites,
	}, logger)
	if err != nil {
		return nil, errors.LocalDurability("failed to open journal", err)
	}

	reader := segment.NewReader(cfg.Dir, logger)
	last, err := reader.LastOffset()
	if err != nil {
		return nil, errors.CorruptedData("failed to determine last journal offset", err)
	}

	logger.Info("Journal opened",
		zap.String("dir", cfg.Dir),
		zap.Uint64("last_offset", last))

	return &JournalService{
		writer:     writer,
		reader:     reader,
		dir:        cfg.Dir,
		logger:     logger,
		nextOffset: last + 1,
	}, nil
}

// Append assigns the entry's offset and writes it durably. The offset
// is claimed and written under one lock so entries land on disk in
// offset order.
func (j *JournalService) Append(entry *model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry.Offset = j.nextOffset
	if err := j.writer.Append(entry); err != nil {
		return errors.LocalDurability("journal append failed", err).
			WithDetail("entry_id", entry.EntryID).
			WithDetail("offset", entry.Offset)
	}
	j.nextOffset++
	return nil
}

// LastOffset returns the offset of the most recently appended entry,
// zero when the journal is empty
func (j *JournalService) LastOffset() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextOffset - 1
}

// Replay streams persisted entries with offsets strictly greater than
// fromOffset, in offset order. Replay never mutates the journal, so
// calling it repeatedly from the same offset yields the same entries.
func (j *JournalService) Replay(fromOffset uint64, fn func(*model.JournalEntry) error) error {
	return j.reader.Scan(fromOffset, fn)
}

// Prune removes sealed segments whose entries all fall at or below
// beforeOffset. The active segment is never removed.
func (j *JournalService) Prune(beforeOffset uint64) (int, error) {
	return segment.Prune(j.dir, beforeOffset, j.logger)
}

// Sync flushes buffered journal data to disk
func (j *JournalService) Sync() error {
	return j.writer.Sync()
}

// Close syncs and closes the journal
func (j *JournalService) Close() error {
	return j.writer.Close()
}
