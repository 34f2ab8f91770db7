package model

import "time"

// FileMetadata is the materialized state of one path, built by
// replaying journal entries. Clock and Origin record the version of
// the entry that last touched the path; remote updates are gated on
// them per path, not on the node clock.
type FileMetadata struct {
	Path        string      `json:"path"`
	Size        int64       `json:"size"`
	IsDirectory bool        `json:"is_directory"`
	ContentID   string      `json:"content_id,omitempty"`
	Tier        TierID      `json:"tier,omitempty"`
	Mode        uint32      `json:"mode,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ModifiedAt  time.Time   `json:"modified_at"`
	Clock       VectorClock `json:"clock"`
	Origin      string      `json:"origin,omitempty"`
}

// Checkpoint is a point-in-time snapshot of the materialized
// filesystem state. Offset is the journal offset of the last entry
// folded into the snapshot; replay after recovery starts past it.
// Clock carries the node's vector clock at snapshot time so recovery
// restores causal history along with the files.
type Checkpoint struct {
	Offset    uint64                   `json:"offset"`
	CreatedAt time.Time                `json:"created_at"`
	Clock     VectorClock              `json:"clock"`
	Files     map[string]*FileMetadata `json:"files"`
}
