package model

import "time"

// ReplicationStatus tracks the lifecycle of a replication attempt
type ReplicationStatus string

const (
	// ReplicationPending indicates fan-out is still in flight
	ReplicationPending ReplicationStatus = "PENDING"
	// ReplicationPartial indicates quorum was met but not the target
	ReplicationPartial ReplicationStatus = "PARTIAL"
	// ReplicationComplete indicates the effective target was met
	ReplicationComplete ReplicationStatus = "COMPLETE"
	// ReplicationFailed indicates quorum was not met
	ReplicationFailed ReplicationStatus = "FAILED"
)

// SuccessLevel classifies how far a replication attempt got
type SuccessLevel string

const (
	// LevelNoReplication means fewer copies than quorum exist
	LevelNoReplication SuccessLevel = "NO_REPLICATION"
	// LevelQuorumAchieved means at least quorum copies exist
	LevelQuorumAchieved SuccessLevel = "QUORUM_ACHIEVED"
	// LevelTargetAchieved means the effective target was reached
	LevelTargetAchieved SuccessLevel = "TARGET_ACHIEVED"
)

// NodeOutcome is the per-peer result of one delivery attempt
type NodeOutcome struct {
	NodeID      string        `json:"node_id"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	AckedOffset uint64        `json:"acked_offset,omitempty"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

// ReplicationRecord is the durable outcome of replicating one journal
// entry. It is written once by the replication manager and queried by
// entry ID until its TTL expires.
type ReplicationRecord struct {
	EntryID        string                 `json:"entry_id"`
	RequestedLevel int                    `json:"requested_level"`
	TargetFactor   int                    `json:"target_factor"`
	MaxFactor      int                    `json:"max_factor"`
	QuorumSize     int                    `json:"quorum_size"`
	SuccessCount   int                    `json:"success_count"`
	TargetNodes    []string               `json:"target_nodes"`
	Outcomes       map[string]NodeOutcome `json:"outcomes"`
	Status         ReplicationStatus      `json:"status"`
	SuccessLevel   SuccessLevel           `json:"success_level"`
	// Success means quorum was met. HasAnyCopy means at least the
	// local durable copy exists; a FAILED record can still be
	// recoverable locally.
	Success     bool      `json:"success"`
	HasAnyCopy  bool      `json:"has_any_copy"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// QuorumMet reports whether enough copies exist to satisfy the quorum
func (r *ReplicationRecord) QuorumMet() bool {
	return r.SuccessCount >= r.QuorumSize
}

// TargetMet reports whether the effective target factor was reached
func (r *ReplicationRecord) TargetMet() bool {
	return r.SuccessCount >= r.TargetFactor
}
