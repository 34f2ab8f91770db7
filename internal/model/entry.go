package model

import "time"

// OpType identifies the filesystem mutation recorded by a journal entry
type OpType string

const (
	// OpCreate records creation of a file or directory
	OpCreate OpType = "CREATE"
	// OpUpdate records a content or attribute change
	OpUpdate OpType = "UPDATE"
	// OpDelete records removal of a path
	OpDelete OpType = "DELETE"
	// OpRename records a path move; the payload carries the target path
	OpRename OpType = "RENAME"
)

// Valid reports whether the operation type is one the journal accepts
func (t OpType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete, OpRename:
		return true
	}
	return false
}

// EntryStatus tracks a journal entry through its local lifecycle.
// The journal itself is append-only; status lives on the in-memory
// entry and on its replication record, never rewritten in segments.
type EntryStatus string

const (
	// EntryPending means the entry is built but not yet durable
	EntryPending EntryStatus = "PENDING"
	// EntryCommitted means the entry is durably journaled locally
	EntryCommitted EntryStatus = "COMMITTED"
	// EntryReplicated means a quorum of copies exists
	EntryReplicated EntryStatus = "REPLICATED"
	// EntryFailed means the local durable write failed
	EntryFailed EntryStatus = "FAILED"
)

// EntryPayload carries the operation-specific metadata of an entry
type EntryPayload struct {
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"is_directory"`
	ContentID   string `json:"content_id,omitempty"`
	Tier        TierID `json:"tier,omitempty"`
	// TargetPath is the destination for RENAME operations
	TargetPath string            `json:"target_path,omitempty"`
	Mode       uint32            `json:"mode,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// JournalEntry is one durable record of a filesystem mutation
type JournalEntry struct {
	EntryID   string       `json:"entry_id"`
	Offset    uint64       `json:"offset"`
	Timestamp time.Time    `json:"timestamp"`
	OpType    OpType       `json:"op_type"`
	Path      string       `json:"path"`
	Payload   EntryPayload `json:"payload"`
	Status    EntryStatus  `json:"status"`
	Clock     VectorClock  `json:"clock"`
	// Origin is the node that first journaled the entry
	Origin string `json:"origin"`
}
