package segment

import (
	"bufio"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/model"
)

// Reader replays entries from segment files in offset order
type Reader struct {
	dir    string
	logger *zap.Logger
}

// NewReader creates a reader over the given segment directory
func NewReader(dir string, logger *zap.Logger) *Reader {
	return &Reader{dir: dir, logger: logger}
}

// Scan streams every entry with offset strictly greater than
// fromOffset to fn, in offset order. A corrupt final line of a file is
// treated as a torn tail write and skipped with a warning; corruption
// anywhere else is an error.
func (r *Reader) Scan(fromOffset uint64, fn func(*model.JournalEntry) error) error {
	segments, err := List(r.dir)
	if err != nil {
		return err
	}

	for i, seg := range segments {
		// A whole segment can be skipped when the next one starts
		// at or below the requested offset.
		if i+1 < len(segments) && segments[i+1].FirstOffset <= fromOffset+1 {
			continue
		}

		if err := r.scanFile(seg, fromOffset, fn); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reader) scanFile(seg Info, fromOffset uint64, fn func(*model.JournalEntry) error) error {
	file, err := os.Open(seg.Path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", seg.Path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		entry, decodeErr := decodeRecord(scanner.Bytes())
		if decodeErr != nil {
			if !scanner.Scan() {
				// Nothing after the bad line: torn tail write
				r.logger.Warn("Skipping torn tail record",
					zap.String("segment", seg.Path),
					zap.Int("line", lineNo),
					zap.Error(decodeErr))
				break
			}
			return errors.CorruptedData(
				fmt.Sprintf("corrupt record in segment %s line %d", seg.Path, lineNo), decodeErr)
		}

		if entry.Offset <= fromOffset {
			continue
		}

		if err := fn(entry); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan segment %s: %w", seg.Path, err)
	}
	return nil
}

// LastOffset returns the highest entry offset present on disk, zero
// when the journal is empty
func (r *Reader) LastOffset() (uint64, error) {
	var last uint64
	err := r.Scan(0, func(e *model.JournalEntry) error {
		if e.Offset > last {
			last = e.Offset
		}
		return nil
	})
	return last, err
}

// Prune removes sealed segments whose entries all have offsets at or
// below the given offset. The active (newest) segment is never
// removed.
func Prune(dir string, beforeOffset uint64, logger *zap.Logger) (int, error) {
	segments, err := List(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := 0; i+1 < len(segments); i++ {
		// Segment i holds offsets [first_i, first_{i+1})
		if segments[i+1].FirstOffset-1 > beforeOffset {
			break
		}
		if err := os.Remove(segments[i].Path); err != nil {
			return removed, fmt.Errorf("failed to remove segment %s: %w", segments[i].Path, err)
		}
		logger.Info("Pruned journal segment",
			zap.String("path", segments[i].Path),
			zap.Uint64("below_offset", beforeOffset))
		removed++
	}

	return removed, nil
}
