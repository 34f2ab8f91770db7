package segment

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/stratafs/strata/internal/errors"
	"github.com/stratafs/strata/internal/model"
	"github.com/stratafs/strata/internal/util"
)

// Journal segments are append-only files of newline-delimited JSON
// records. Each file is named by the offset of its first entry
// (segment-%020d.log) so lexical order is replay order.

const (
	filePrefix = "segment-"
	fileSuffix = ".log"
)

// record is one serialized line. Checksum covers the raw entry bytes.
type record struct {
	Entry    json.RawMessage `json:"entry"`
	Checksum uint32          `json:"crc"`
}

// encodeRecord serializes an entry into a checksummed line, newline
// included
func encodeRecord(entry *model.JournalEntry) ([]byte, error) {
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	line, err := json.Marshal(record{
		Entry:    entryBytes,
		Checksum: util.ComputeChecksum(entryBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	return append(line, '\n'), nil
}

// decodeRecord parses and validates one line
func decodeRecord(line []byte) (*model.JournalEntry, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, errors.CorruptedData("unparseable journal record", err)
	}

	if !util.ValidateChecksum(rec.Entry, rec.Checksum) {
		return nil, errors.ChecksumFailed(rec.Checksum, util.ComputeChecksum(rec.Entry))
	}

	var entry model.JournalEntry
	if err := json.Unmarshal(rec.Entry, &entry); err != nil {
		return nil, errors.CorruptedData("unparseable journal entry", err)
	}
	return &entry, nil
}

// Info describes one segment file on disk
type Info struct {
	Path        string
	FirstOffset uint64
}

// fileName builds the segment file name for a first offset
func fileName(firstOffset uint64) string {
	return fmt.Sprintf("%s%020d%s", filePrefix, firstOffset, fileSuffix)
}

// List returns the segments in dir ordered by first offset
func List(dir string) ([]Info, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	infos := make([]Info, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		first, err := strconv.ParseUint(numPart, 10, 64)
		if err != nil {
			// Not one of ours; leave it alone
			continue
		}
		infos = append(infos, Info{Path: p, FirstOffset: first})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].FirstOffset < infos[j].FirstOffset
	})
	return infos, nil
}
