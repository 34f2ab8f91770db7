package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/stratafs/strata/internal/model"
)

// Store persists checkpoint snapshots as zstd-compressed JSON files
// named by their journal offset (checkpoint-%020d.ckpt). Writes go to
// a temp file first and are renamed into place, so a crash mid-write
// never leaves a half checkpoint that loads.

const (
	filePrefix = "checkpoint-"
	fileSuffix = ".ckpt"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one
// of each is shared across the store.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// Store reads and writes checkpoint files in one directory
type Store struct {
	dir    string
	retain int
	logger *zap.Logger
}

// NewStore creates the checkpoint directory if needed. retain is how
// many recent checkpoints survive pruning; older ones are removed
// after each successful save.
func NewStore(dir string, retain int, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if retain < 1 {
		retain = 1
	}
	return &Store{dir: dir, retain: retain, logger: logger}, nil
}

// Save persists a checkpoint atomically and prunes old ones
func (s *Store) Save(cp *model.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(raw, nil)

	final := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", filePrefix, cp.Offset, fileSuffix))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}

	s.logger.Info("Checkpoint saved",
		zap.Uint64("offset", cp.Offset),
		zap.Int("files", len(cp.Files)),
		zap.Int("bytes", len(compressed)))

	s.prune()
	return nil
}

// LoadLatest returns the newest checkpoint that decodes cleanly, or
// nil when none exists. A checkpoint that fails to decode is skipped
// with a warning and the next older one is tried.
func (s *Store) LoadLatest() (*model.Checkpoint, error) {
	offsets, err := s.list()
	if err != nil {
		return nil, err
	}

	for i := len(offsets) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", filePrefix, offsets[i], fileSuffix))

		cp, err := s.load(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable checkpoint",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		return cp, nil
	}

	return nil, nil
}

func (s *Store) load(path string) (*model.Checkpoint, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.Files == nil {
		cp.Files = make(map[string]*model.FileMetadata)
	}
	return &cp, nil
}

// list returns checkpoint offsets present on disk in ascending order
func (s *Store) list() ([]uint64, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	offsets := make([]uint64, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		off, err := strconv.ParseUint(numPart, 10, 64)
		if err != nil {
			continue
		}
		offsets = append(offsets, off)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// prune removes all but the newest retain checkpoints
func (s *Store) prune() {
	offsets, err := s.list()
	if err != nil {
		s.logger.Warn("Failed to list checkpoints for pruning", zap.Error(err))
		return
	}

	if len(offsets) <= s.retain {
		return
	}

	for _, off := range offsets[:len(offsets)-s.retain] {
		path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", filePrefix, off, fileSuffix))
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove old checkpoint",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		s.logger.Debug("Pruned old checkpoint", zap.Uint64("offset", off))
	}
}
