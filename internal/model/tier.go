package model

import "time"

// TierID names a storage tier. The ordered set of tiers is policy
// configuration, not code; these are the defaults.
type TierID string

const (
	// TierLocal is node-local disk
	TierLocal TierID = "local"
	// TierNetwork is content-addressed network storage
	TierNetwork TierID = "network"
	// TierArchive is cold archival storage
	TierArchive TierID = "archive"
)

// TierPlacement tracks where a piece of content currently lives and
// where it may be placed.
type TierPlacement struct {
	ContentID   string    `json:"content_id"`
	CurrentTier TierID    `json:"current_tier"`
	Candidates  []TierID  `json:"candidates,omitempty"`
	Migrating   bool      `json:"migrating"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OnTier reports whether the content already lives on the given tier
func (p *TierPlacement) OnTier(t TierID) bool {
	return p.CurrentTier == t
}
