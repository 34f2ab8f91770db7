package fstree

import (
	"strings"
	"sync"
	"time"

	"github.com/stratafs/strata/internal/model"
)

// Tree is the materialized filesystem state: path to metadata, built
// exclusively by applying journal entries in offset order. Apply is
// deterministic and idempotent, so replaying an overlapping range of
// entries converges to the same state.
type Tree struct {
	mu            sync.RWMutex
	files         map[string]*model.FileMetadata
	appliedOffset uint64
}

// New creates an empty tree
func New() *Tree {
	return &Tree{
		files: make(map[string]*model.FileMetadata),
	}
}

// Apply folds one journal entry into the state. Entries at or below
// the already-applied offset are skipped, which makes replaying a
// range that overlaps a checkpoint a no-op for the overlap.
func (t *Tree) Apply(entry *model.JournalEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Offset != 0 && entry.Offset <= t.appliedOffset {
		return
	}

	switch entry.OpType {
	case model.OpCreate:
		t.applyCreate(entry)
	case model.OpUpdate:
		t.applyUpdate(entry)
	case model.OpDelete:
		t.applyDelete(entry)
	case model.OpRename:
		t.applyRename(entry)
	}

	if entry.Offset > t.appliedOffset {
		t.appliedOffset = entry.Offset
	}
}

func (t *Tree) applyCreate(entry *model.JournalEntry) {
	createdAt := entry.Timestamp
	if existing, ok := t.files[entry.Path]; ok {
		createdAt = existing.CreatedAt
	}

	t.files[entry.Path] = &model.FileMetadata{
		Path:        entry.Path,
		Size:        entry.Payload.Size,
		IsDirectory: entry.Payload.IsDirectory,
		ContentID:   entry.Payload.ContentID,
		Tier:        entry.Payload.Tier,
		Mode:        entry.Payload.Mode,
		CreatedAt:   createdAt,
		ModifiedAt:  entry.Timestamp,
		Clock:       entry.Clock,
		Origin:      entry.Origin,
	}
}

// applyUpdate upserts so that replay stays deterministic even when an
// update arrives for a path this node never saw created
func (t *Tree) applyUpdate(entry *model.JournalEntry) {
	existing, ok := t.files[entry.Path]
	if !ok {
		t.applyCreate(entry)
		return
	}

	existing.Size = entry.Payload.Size
	if entry.Payload.ContentID != "" {
		existing.ContentID = entry.Payload.ContentID
	}
	if entry.Payload.Tier != "" {
		existing.Tier = entry.Payload.Tier
	}
	if entry.Payload.Mode != 0 {
		existing.Mode = entry.Payload.Mode
	}
	existing.ModifiedAt = entry.Timestamp
	existing.Clock = entry.Clock
	existing.Origin = entry.Origin
}

func (t *Tree) applyDelete(entry *model.JournalEntry) {
	meta, ok := t.files[entry.Path]
	if !ok {
		return
	}

	delete(t.files, entry.Path)
	if meta.IsDirectory {
		prefix := entry.Path + "/"
		for p := range t.files {
			if strings.HasPrefix(p, prefix) {
				delete(t.files, p)
			}
		}
	}
}

func (t *Tree) applyRename(entry *model.JournalEntry) {
	target := entry.Payload.TargetPath
	if target == "" || target == entry.Path {
		return
	}

	meta, ok := t.files[entry.Path]
	if !ok {
		// Source already moved; re-applying a rename is a no-op
		return
	}

	delete(t.files, entry.Path)
	meta.Path = target
	meta.ModifiedAt = entry.Timestamp
	meta.Clock = entry.Clock
	meta.Origin = entry.Origin
	t.files[target] = meta

	if meta.IsDirectory {
		prefix := entry.Path + "/"
		var children []string
		for p := range t.files {
			if strings.HasPrefix(p, prefix) {
				children = append(children, p)
			}
		}
		for _, p := range children {
			child := t.files[p]
			newPath := target + "/" + strings.TrimPrefix(p, prefix)
			delete(t.files, p)
			child.Path = newPath
			t.files[newPath] = child
		}
	}
}

// Get returns a copy of the metadata for a path
func (t *Tree) Get(path string) (*model.FileMetadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	meta, ok := t.files[path]
	if !ok {
		return nil, false
	}
	cp := *meta
	return &cp, true
}

// Len returns the number of live paths
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// AppliedOffset returns the offset of the last entry folded in
func (t *Tree) AppliedOffset() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.appliedOffset
}

// Snapshot returns a point-in-time deep copy of the state together
// with its applied offset. Appends proceed while a snapshot is taken;
// the copy is consistent as of the offset it reports.
func (t *Tree) Snapshot() *model.Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	files := make(map[string]*model.FileMetadata, len(t.files))
	for p, meta := range t.files {
		cp := *meta
		files[p] = &cp
	}

	return &model.Checkpoint{
		Offset:    t.appliedOffset,
		CreatedAt: time.Now().UTC(),
		Files:     files,
	}
}

// Restore replaces the state with a checkpoint's contents
func (t *Tree) Restore(cp *model.Checkpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make(map[string]*model.FileMetadata, len(cp.Files))
	for p, meta := range cp.Files {
		c := *meta
		files[p] = &c
	}

	t.files = files
	t.appliedOffset = cp.Offset
}
