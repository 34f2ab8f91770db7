package service

import (
	"github.com/stratafs/strata/internal/model"
)

// Resolution identifies which side of a concurrent update wins
type Resolution string

const (
	// ResolutionKeepLocal means the local state stands; the remote
	// entry is recorded but not applied
	ResolutionKeepLocal Resolution = "keep_local"
	// ResolutionApplyRemote means the remote entry overwrites local
	// state
	ResolutionApplyRemote Resolution = "apply_remote"
)

// ConflictResolver decides the winner between two causally concurrent
// updates to the same path. Implementations must be deterministic:
// every node resolving the same pair must pick the same winner, or the
// cluster diverges.
type ConflictResolver interface {
	// Resolve picks a winner between the materialized local state of a
	// path and a concurrent remote entry. local may be nil when the
	// path has no local state; remote is never nil.
	Resolve(local *model.FileMetadata, remote *model.JournalEntry) Resolution
	// Name identifies the strategy in logs and metrics
	Name() string
}

// LastWriterWins resolves conflicts by wall-clock timestamp, falling
// back to origin node ID so ties break the same way everywhere.
type LastWriterWins struct{}

// NewLastWriterWins returns the default resolver
func NewLastWriterWins() *LastWriterWins {
	return &LastWriterWins{}
}

// Resolve picks the side with the later modification time; on an exact
// tie the lexicographically greater origin wins
func (LastWriterWins) Resolve(local *model.FileMetadata, remote *model.JournalEntry) Resolution {
	if local == nil {
		return ResolutionApplyRemote
	}
	if remote.Timestamp.After(local.ModifiedAt) {
		return ResolutionApplyRemote
	}
	if remote.Timestamp.Before(local.ModifiedAt) {
		return ResolutionKeepLocal
	}
	if remote.Origin > local.Origin {
		return ResolutionApplyRemote
	}
	return ResolutionKeepLocal
}

// Name implements ConflictResolver
func (LastWriterWins) Name() string {
	return "last_writer_wins"
}
