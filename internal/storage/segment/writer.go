package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/model"
)

// Writer appends entries to segment files, rotating by size. It is
// safe for concurrent use, though the journal service serializes
// appends anyway to keep offsets ordered on disk.
type Writer struct {
	dir        string
	maxBytes   int64
	syncWrites bool
	logger     *zap.Logger

	mu   sync.Mutex
	file *os.File
	size int64
}

// WriterConfig holds segment writer configuration
type WriterConfig struct {
	Dir         string
	SegmentSize int64
	SyncWrites  bool
}

// NewWriter creates the segment directory if needed. The first append
// opens a fresh segment named by its entry's offset; a restart never
// appends to an old file.
func NewWriter(cfg WriterConfig, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	return &Writer{
		dir:        cfg.Dir,
		maxBytes:   cfg.SegmentSize,
		syncWrites: cfg.SyncWrites,
		logger:     logger,
	}, nil
}

// Append writes one entry, syncing before returning when configured.
// The entry's offset must already be assigned.
func (w *Writer) Append(entry *model.JournalEntry) error {
	line, err := encodeRecord(entry)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || (w.maxBytes > 0 && w.size >= w.maxBytes) {
		if err := w.rotate(entry.Offset); err != nil {
			return err
		}
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write journal record: %w", err)
	}

	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}

	return nil
}

// rotate closes the current segment and opens a new one starting at
// the given offset
func (w *Writer) rotate(firstOffset uint64) error {
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			w.logger.Warn("Failed to sync segment before rotation", zap.Error(err))
		}
		w.file.Close()
	}

	path := filepath.Join(w.dir, fileName(firstOffset))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal segment: %w", err)
	}

	w.file = file
	w.size = 0
	w.logger.Info("Opened new journal segment", zap.String("path", path))
	return nil
}

// Sync flushes the active segment to disk
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close syncs and closes the active segment
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.logger.Warn("Failed to sync segment on close", zap.Error(err))
	}
	err := w.file.Close()
	w.file = nil
	return err
}
